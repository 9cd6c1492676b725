package hub

import (
	"context"
	"fmt"
	"time"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/hubproto"
)

// MethodFunc serves one client to server invocation. A nil result completes
// the invocation without a value.
type MethodFunc func(ctx context.Context, caller Connection, args codec.Args) (any, error)

// Invoker executes invocations read from a protocol connection.
type Invoker interface {
	Invoke(ctx context.Context, caller Connection, inv *hubproto.Invocation) *hubproto.Completion
}

var _ Invoker = (*Hub)(nil)

// HandleMethod registers fn under name. Names match case-insensitively and a
// later registration replaces an earlier one.
func (h *Hub) HandleMethod(name string, fn MethodFunc) {
	h.methodsMu.Lock()
	defer h.methodsMu.Unlock()

	h.methods[methodKey(name)] = fn
}

func (h *Hub) method(name string) (MethodFunc, bool) {
	h.methodsMu.RLock()
	defer h.methodsMu.RUnlock()

	fn, ok := h.methods[methodKey(name)]
	return fn, ok
}

// Invoke runs the method named by inv. It returns the completion to send
// back, or nil when the caller did not ask for one.
func (h *Hub) Invoke(ctx context.Context, caller Connection, inv *hubproto.Invocation) *hubproto.Completion {
	result, err := h.call(ctx, caller, inv)
	h.metrics.Invoked(inv.Target, err)

	if err != nil {
		h.logger.Warnf("Invocation of %s from %s failed: %v", inv.Target, caller.ID(), err)
	}
	if inv.InvocationID == "" {
		return nil
	}

	completion := &hubproto.Completion{InvocationID: inv.InvocationID}
	switch {
	case err != nil:
		completion.Error = err.Error()
	case result != nil:
		raw, err := codec.EncodeValue(result)
		if err != nil {
			completion.Error = fmt.Sprintf("failed to encode result of '%s'", inv.Target)
			break
		}
		completion.HasResult = true
		completion.Result = raw
	}
	return completion
}

func (h *Hub) call(ctx context.Context, caller Connection, inv *hubproto.Invocation) (result any, err error) {
	fn, ok := h.method(inv.Target)
	if !ok {
		return nil, fmt.Errorf("Unknown hub method '%s'", inv.Target)
	}
	args, err := codec.Decode(inv.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to decode arguments of '%s': %w", inv.Target, err)
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorf("Hub method %s panicked: %v", inv.Target, r)
			result, err = nil, fmt.Errorf("An unexpected error occurred invoking '%s' on the server.", inv.Target)
		}
	}()
	return fn(ctx, caller, args)
}

// Handshake answers the opening record of a protocol peer. Only the
// messagepack protocol at version 1 is accepted; the peer is told why
// otherwise.
func Handshake(conn hubproto.Conn, timeout time.Duration) error {
	type result struct {
		record []byte
		err    error
	}
	read := make(chan result, 1)
	go func() {
		record, err := conn.ReadHandshake()
		read <- result{record, err}
	}()

	var res result
	select {
	case res = <-read:
	case <-time.After(timeout):
		conn.Close()
		return fmt.Errorf("handshake was not received within %s", timeout)
	}
	if res.err != nil {
		return fmt.Errorf("read handshake: %w", res.err)
	}

	req, err := hubproto.ParseHandshakeRequest(res.record)
	if err != nil {
		_ = conn.WriteHandshake(hubproto.HandshakeResponseRecord(err.Error()))
		return err
	}
	if req.Protocol != hubproto.ProtocolName {
		err = fmt.Errorf("The protocol '%s' is not supported.", req.Protocol)
	} else if req.Version != hubproto.ProtocolVersion {
		err = fmt.Errorf("The server does not support version %d of the '%s' protocol.", req.Version, req.Protocol)
	}
	if err != nil {
		_ = conn.WriteHandshake(hubproto.HandshakeResponseRecord(err.Error()))
		return err
	}
	return conn.WriteHandshake(hubproto.HandshakeResponseRecord(""))
}
