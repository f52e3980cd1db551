// Package chat implements the realtime chat gateway.
//
// Every websocket connection passes the authorization pipeline before it
// may join anything. A joined connection belongs to exactly one room, the
// room of the tenant it was authorized for, and can only broadcast into
// that room. Rooms are created on first join and destroyed when the last
// member leaves.
//
// Each connection owns a bounded send queue drained by its own writer
// goroutine. Broadcast never blocks on a slow recipient: when a queue is
// full the message is dropped for that recipient only.
//
// Wire protocol (JSON text frames):
//
//	client -> server  {"type":"auth","token":"...","tenantId":"..."}   first frame, only without handshake credentials
//	client -> server  {"payload":...}
//	server -> client  {"type":"joined","tenantId":"...","connectionId":"...","subject":"..."}
//	server -> client  {"type":"message","senderId":"...","senderName":"...","tenantId":"...","timestamp":1700000000000,"payload":...}
//	server -> client  {"type":"error","code":"...","message":"..."}
//
// Close frames carry one of the reasons auth_failed, idle_timeout,
// server_shutdown or client_disconnect.
package chat
