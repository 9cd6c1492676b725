package facade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
)

// Client targets invoked by the hub methods below.
const (
	ClientMethod1   = "ClientMethod1"
	MsgPackTimeVoid = "MsgPackTimeVoid"
)

var ErrAborted = errors.New("connection aborted by the server")

// HubApplicationService exposes the methods clients can invoke on the hub.
type HubApplicationService struct {
	hub    *hub.Hub
	logger logger.Logger
}

func NewHubApplicationService(hubInstance *hub.Hub, logger logger.Logger) *HubApplicationService {
	return &HubApplicationService{
		hub:    hubInstance,
		logger: logger.WithField("service", "hub"),
	}
}

// Register installs every method on the hub.
func (s *HubApplicationService) Register() {
	s.hub.HandleMethod("Echo", s.Echo)
	s.hub.HandleMethod("Add", s.Add)
	s.hub.HandleMethod("Time", s.Time)
	s.hub.HandleMethod("HubMethod1", s.HubMethod1)
	s.hub.HandleMethod("Broadcast", s.Broadcast)
	s.hub.HandleMethod("Fail", s.Fail)
	s.hub.HandleMethod("Abort", s.Abort)
}

// Echo returns its string argument.
func (s *HubApplicationService) Echo(_ context.Context, _ hub.Connection, args codec.Args) (any, error) {
	return codec.Arg[string](args, 0)
}

func (s *HubApplicationService) Add(_ context.Context, _ hub.Connection, args codec.Args) (any, error) {
	a, err := codec.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	b, err := codec.Arg[int64](args, 1)
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

// Time hands the timestamp back both as the result and through a
// MsgPackTimeVoid call on the caller.
func (s *HubApplicationService) Time(ctx context.Context, caller hub.Connection, args codec.Args) (any, error) {
	at, err := codec.Arg[time.Time](args, 0)
	if err != nil {
		return nil, err
	}
	if err := caller.Send(ctx, hub.Invocation(MsgPackTimeVoid, at)); err != nil {
		return nil, err
	}
	return at, nil
}

// HubMethod1 calls ClientMethod1 on the caller with the same argument.
func (s *HubApplicationService) HubMethod1(ctx context.Context, caller hub.Connection, args codec.Args) (any, error) {
	a, err := codec.Arg[int64](args, 0)
	if err != nil {
		return nil, err
	}
	return nil, caller.Send(ctx, hub.Invocation(ClientMethod1, a))
}

// Broadcast relays a message to every connected client as
// ReceiveMessage(sender, text, timestamp).
func (s *HubApplicationService) Broadcast(ctx context.Context, caller hub.Connection, args codec.Args) (any, error) {
	text, err := codec.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("Broadcast from %s", caller.ID())
	return nil, s.hub.Broadcast(ctx, hub.Invocation(hub.TargetReceiveMessage, caller.ID(), text, time.Now().UTC()))
}

func (s *HubApplicationService) Fail(_ context.Context, _ hub.Connection, args codec.Args) (any, error) {
	reason := "failed on request"
	if len(args) > 0 {
		if r, err := codec.Arg[string](args, 0); err == nil && r != "" {
			reason = r
		}
	}
	return nil, fmt.Errorf("%s", reason)
}

// Abort closes the caller's connection with an error.
func (s *HubApplicationService) Abort(_ context.Context, caller hub.Connection, _ codec.Args) (any, error) {
	if a, ok := caller.(hub.Aborter); ok {
		return nil, a.Abort(ErrAborted)
	}
	return nil, caller.Close()
}
