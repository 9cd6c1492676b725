// Package transport declares the callback contract between a hub connection
// and whatever owns the wire. Every asynchronous result comes back through a
// callback carrying the Context value the caller supplied when the operation
// was initiated; the transport never interprets that value.
//
// Initiating calls on a Handle must not block. Byte slices passed to callbacks
// are only valid until the callback returns.
package transport

// Context is an opaque value handed to the transport and echoed back on every
// callback. Zero means "no context".
type Context uintptr

const NoContext Context = 0

// Action is a parameterless function supplied by either side: a cancel
// function, an unregister token, or a continuation.
type Action func()

// CompletionFunc reports the end of an operation without a result. A nil err
// means success.
type CompletionFunc func(ctx Context, err error)

// ResultFunc reports the end of an operation that produces an encoded result.
type ResultFunc func(ctx Context, err error, result []byte)

// DispatchFunc delivers the encoded argument array of an inbound server call.
// The receiver must invoke done exactly once when it has finished with the
// event; the transport may hold further dispatches until it does.
type DispatchFunc func(ctx Context, args []byte, done Action)

// TokenFunc asks for an access token. The receiver answers by calling reply
// exactly once; an empty token means none is available.
type TokenFunc func(ctx Context, reply func(token string))

// EventHandlers are the connection-level notifications. Each receives a
// continuation that must be called exactly once; nil entries are skipped.
type EventHandlers struct {
	Closed       func(ctx Context, err error, done Action)
	Reconnected  func(ctx Context, done Action)
	Reconnecting func(ctx Context, err error, done Action)
}

// Handle is a built connection owned by the transport.
type Handle interface {
	Dispose(cb CompletionFunc, ctx Context)
	Remove(method string)
	// On registers handler for method. argc is the declared arity, -1 for any.
	// The returned Action unregisters this registration only.
	On(method string, argc int, handler DispatchFunc, ctx Context) Action
	Start(cb CompletionFunc, ctx Context) Action
	Stop(cb CompletionFunc, ctx Context) Action
	InvokeCore(method string, args []byte, cb ResultFunc, ctx Context) Action
	SendCore(method string, args []byte, cb CompletionFunc, ctx Context) Action
}

// Builder constructs handles. ctx is passed back to every EventHandlers and
// TokenFunc call made on behalf of the built handle.
type Builder interface {
	BuildWithNamedPipe(pipeName, serverName string, handlers *EventHandlers, ctx Context) (Handle, error)
	BuildWithURL(url string, tokens TokenFunc, handlers *EventHandlers, ctx Context) (Handle, error)
}
