package chat

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when relaying on a connection that has
// left its room or lost its transport.
var ErrConnectionClosed = errors.New("chat: connection closed")

// ErrHubClosed is returned when joining a hub that is shutting down.
var ErrHubClosed = errors.New("chat: hub is shutting down")

// Event types.
const (
	EventAuth    = "auth"
	EventJoined  = "joined"
	EventMessage = "message"
	EventError   = "error"
)

// CloseReason is sent as the close frame text.
type CloseReason string

const (
	CloseAuthFailed       CloseReason = "auth_failed"
	CloseIdleTimeout      CloseReason = "idle_timeout"
	CloseServerShutdown   CloseReason = "server_shutdown"
	CloseClientDisconnect CloseReason = "client_disconnect"
)

// code maps a reason to its websocket close code.
func (r CloseReason) code() int {
	switch r {
	case CloseAuthFailed:
		return websocket.ClosePolicyViolation
	case CloseServerShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// Envelope is one relayed chat message. Timestamp is Unix milliseconds.
type Envelope struct {
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
	TenantID   string          `json:"tenantId"`
	Timestamp  int64           `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// inbound is any frame a client sends.
type inbound struct {
	Type     string          `json:"type,omitempty"`
	Token    string          `json:"token,omitempty"`
	TenantID string          `json:"tenantId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type joinedEvent struct {
	Type         string `json:"type"`
	TenantID     string `json:"tenantId"`
	ConnectionID string `json:"connectionId"`
	Subject      string `json:"subject"`
}

type messageEvent struct {
	Type string `json:"type"`
	*Envelope
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Error codes for frames that are not authorization failures.
const (
	codeBadMessage = "bad_message"
	codeShutdown   = "server_shutdown"
)

func encodeMessage(env *Envelope) ([]byte, error) {
	return json.Marshal(messageEvent{Type: EventMessage, Envelope: env})
}

func encodeError(code, message string) []byte {
	data, _ := json.Marshal(errorEvent{Type: EventError, Code: code, Message: message})
	return data
}
