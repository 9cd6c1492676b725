package hubconn

import (
	"sync"
	"testing"
	"time"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/transport"
)

type fakeSub struct {
	method  string
	argc    int
	handler transport.DispatchFunc
	ctx     transport.Context
	removed bool
}

// fakeHandle is an in-memory transport. Lifecycle calls succeed on their own
// goroutine unless a hook replaces them; invoke echoes its first argument.
type fakeHandle struct {
	mu       sync.Mutex
	calls    map[string]int
	subs     []*fakeSub
	handlers *transport.EventHandlers
	hctx     transport.Context
	tokens   transport.TokenFunc

	onStart    func(cb transport.CompletionFunc, ctx transport.Context) transport.Action
	onInvoke   func(method string, args []byte, cb transport.ResultFunc, ctx transport.Context) transport.Action
	onSend     func(method string, args []byte, cb transport.CompletionFunc, ctx transport.Context) transport.Action
	disposeErr error
}

var _ transport.Handle = (*fakeHandle)(nil)

func newFakeHandle() *fakeHandle {
	return &fakeHandle{calls: make(map[string]int)}
}

func (f *fakeHandle) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeHandle) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeHandle) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeHandle) Dispose(cb transport.CompletionFunc, ctx transport.Context) {
	f.record("dispose")
	f.mu.Lock()
	f.subs = nil
	err := f.disposeErr
	f.mu.Unlock()
	go cb(ctx, err)
}

func (f *fakeHandle) Remove(method string) {
	f.record("remove")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.method == method {
			s.removed = true
		}
	}
}

func (f *fakeHandle) On(method string, argc int, handler transport.DispatchFunc, ctx transport.Context) transport.Action {
	f.record("on")
	sub := &fakeSub{method: method, argc: argc, handler: handler, ctx: ctx}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return func() {
		f.record("unregister")
		f.mu.Lock()
		sub.removed = true
		f.mu.Unlock()
	}
}

func (f *fakeHandle) Start(cb transport.CompletionFunc, ctx transport.Context) transport.Action {
	f.record("start")
	if f.onStart != nil {
		return f.onStart(cb, ctx)
	}
	go cb(ctx, nil)
	return func() {}
}

func (f *fakeHandle) Stop(cb transport.CompletionFunc, ctx transport.Context) transport.Action {
	f.record("stop")
	go cb(ctx, nil)
	return func() {}
}

func (f *fakeHandle) InvokeCore(method string, args []byte, cb transport.ResultFunc, ctx transport.Context) transport.Action {
	f.record("invoke")
	if f.onInvoke != nil {
		return f.onInvoke(method, args, cb, ctx)
	}
	decoded, err := codec.Decode(args)
	go func() {
		if err != nil || len(decoded) == 0 {
			cb(ctx, err, nil)
			return
		}
		cb(ctx, nil, decoded[0])
	}()
	return func() {}
}

func (f *fakeHandle) SendCore(method string, args []byte, cb transport.CompletionFunc, ctx transport.Context) transport.Action {
	f.record("send")
	if f.onSend != nil {
		return f.onSend(method, args, cb, ctx)
	}
	go cb(ctx, nil)
	return func() {}
}

// dispatch delivers args to every live registration for method the way the
// socket transport does: one at a time, waiting for each acknowledgement. It
// returns how many registrations acknowledged.
func (f *fakeHandle) dispatch(t *testing.T, method string, args []byte) int {
	t.Helper()

	f.mu.Lock()
	var targets []*fakeSub
	for _, s := range f.subs {
		if s.method == method && !s.removed {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		acked := make(chan struct{}, 2)
		s.handler(s.ctx, args, func() { acked <- struct{}{} })
		select {
		case <-acked:
		case <-time.After(2 * time.Second):
			t.Fatalf("dispatch of %s was not acknowledged", method)
		}
		select {
		case <-acked:
			t.Fatalf("dispatch of %s was acknowledged twice", method)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return len(targets)
}

type fakeBuilder struct {
	handle *fakeHandle
	err    error

	pipeName   string
	serverName string
	url        string
}

var _ transport.Builder = (*fakeBuilder)(nil)

func (b *fakeBuilder) BuildWithNamedPipe(pipeName, serverName string, handlers *transport.EventHandlers, ctx transport.Context) (transport.Handle, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.pipeName, b.serverName = pipeName, serverName
	b.handle.handlers, b.handle.hctx = handlers, ctx
	return b.handle, nil
}

func (b *fakeBuilder) BuildWithURL(url string, tokens transport.TokenFunc, handlers *transport.EventHandlers, ctx transport.Context) (transport.Handle, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.url = url
	b.handle.handlers, b.handle.hctx, b.handle.tokens = handlers, ctx, tokens
	return b.handle, nil
}
