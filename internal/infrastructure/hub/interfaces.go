package hub

import "context"

// Connection represents any connected client: a hub protocol peer over a
// websocket or a local socket, or an SSE monitor.
type Connection interface {
	ID() string
	Type() string
	Send(ctx context.Context, message *Message) error
	Close() error
	IsClosed() bool
	Context() context.Context
}

// Aborter is implemented by connections that can tell the peer why they were
// closed.
type Aborter interface {
	Abort(reason error) error
}

// Message is a server to client invocation of Target. Protocol peers receive
// Arguments encoded as a MessagePack array, monitors receive them as JSON.
type Message struct {
	ID        string            `json:"id"`
	Target    string            `json:"target"`
	Arguments []any             `json:"arguments"`
	Headers   map[string]string `json:"headers,omitempty"`
}
