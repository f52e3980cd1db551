// Package natsrelay fans chat envelopes out across gateway replicas over
// NATS core subjects. Delivery is best effort: envelopes published while a
// replica is disconnected are not replayed.
package natsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/rhuss/simplecrm/pkg/api"
	"github.com/rhuss/simplecrm/pkg/chat"
	"github.com/rhuss/simplecrm/pkg/debug"
	"github.com/rhuss/simplecrm/pkg/observability"
)

const (
	subjectPrefix = "simplecrm.chat."
	originHeader  = "Simplecrm-Origin"
)

var (
	errNotConnected = errors.New("natsrelay: not connected")
	errBadTenant    = errors.New("natsrelay: invalid tenant id")
)

// Deliverer receives envelopes from other replicas. *chat.Hub satisfies it.
type Deliverer interface {
	Deliver(env *chat.Envelope)
}

// Subject returns the NATS subject carrying a tenant's chat traffic.
func Subject(tenantID string) string {
	return subjectPrefix + tenantID
}

// Relay publishes local envelopes and delivers remote ones.
type Relay struct {
	nc         *nats.Conn
	instanceID string
	sub        *nats.Subscription
}

// Connect dials NATS at url.
func Connect(url string) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("simplecrm-chat-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("chat relay disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("chat relay reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			debug.Log("relay", "NATS connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Relay{nc: nc, instanceID: uuid.NewString()}, nil
}

// InstanceID identifies this replica on the relay.
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Publish sends env to the other replicas.
func (r *Relay) Publish(_ context.Context, env *chat.Envelope) error {
	if r == nil || r.nc == nil {
		return errNotConnected
	}
	msg, err := r.encode(env)
	if err != nil {
		return err
	}
	return r.nc.PublishMsg(msg)
}

func (r *Relay) encode(env *chat.Envelope) (*nats.Msg, error) {
	if !api.ValidateTenantID(env.TenantID) {
		return nil, errBadTenant
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	msg := nats.NewMsg(Subject(env.TenantID))
	msg.Header.Set(originHeader, r.instanceID)
	msg.Data = data
	return msg, nil
}

// Start subscribes to every tenant subject and hands remote envelopes to d.
func (r *Relay) Start(d Deliverer) error {
	if r == nil || r.nc == nil {
		return errNotConnected
	}
	sub, err := r.nc.Subscribe(subjectPrefix+"*", func(msg *nats.Msg) {
		if env, ok := r.decode(msg); ok {
			d.Deliver(env)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s*: %w", subjectPrefix, err)
	}
	r.sub = sub
	slog.Info("chat relay started", "instance", r.instanceID, "url", r.nc.ConnectedUrl())
	return nil
}

// decode validates a relay message. Own messages are skipped; envelopes
// whose tenant does not match the subject are dropped.
func (r *Relay) decode(msg *nats.Msg) (*chat.Envelope, bool) {
	if msg.Header.Get(originHeader) == r.instanceID {
		return nil, false
	}
	subjectTenant, ok := strings.CutPrefix(msg.Subject, subjectPrefix)
	if !ok || !api.ValidateTenantID(subjectTenant) {
		r.drop("bad_subject", msg.Subject, nil)
		return nil, false
	}

	var env chat.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.drop("bad_envelope", msg.Subject, err)
		return nil, false
	}
	if env.TenantID != subjectTenant {
		r.drop("tenant_mismatch", msg.Subject, fmt.Errorf("envelope tenant %q", env.TenantID))
		return nil, false
	}
	return &env, true
}

func (r *Relay) drop(reason, subject string, err error) {
	observability.ChatMessagesDroppedTotal.WithLabelValues(reason).Inc()
	slog.Warn("chat relay dropped message", "reason", reason, "subject", subject, "error", err)
}

// Healthy reports whether the NATS connection is up.
func (r *Relay) Healthy() bool {
	return r != nil && r.nc != nil && r.nc.IsConnected()
}

// Close drains the subscription and closes the connection.
func (r *Relay) Close() error {
	if r == nil || r.nc == nil {
		return nil
	}
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	return r.nc.Drain()
}
