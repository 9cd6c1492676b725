package hub

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/hubproto"
)

// Well-known client targets.
const (
	TargetReceiveMessage = "ReceiveMessage"
	TargetKeepAlive      = "keepalive"
)

// MessageBuilder helps build messages with fluent interface
type MessageBuilder struct {
	message *Message
}

func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		message: &Message{
			Headers: make(map[string]string),
		},
	}
}

func (mb *MessageBuilder) WithID(id string) *MessageBuilder {
	mb.message.ID = id
	return mb
}

func (mb *MessageBuilder) WithTarget(target string) *MessageBuilder {
	mb.message.Target = target
	return mb
}

func (mb *MessageBuilder) WithArguments(args ...any) *MessageBuilder {
	mb.message.Arguments = append(mb.message.Arguments, args...)
	return mb
}

func (mb *MessageBuilder) WithHeader(key, value string) *MessageBuilder {
	if mb.message.Headers == nil {
		mb.message.Headers = make(map[string]string)
	}
	mb.message.Headers[key] = value
	return mb
}

func (mb *MessageBuilder) WithTimestamp() *MessageBuilder {
	return mb.WithHeader("timestamp", time.Now().UTC().Format(time.RFC3339))
}

// Build returns the constructed message, filling in an ID and a timestamp
// header when missing.
func (mb *MessageBuilder) Build() *Message {
	if mb.message.ID == "" {
		mb.message.ID = uuid.NewString()
	}
	if _, exists := mb.message.Headers["timestamp"]; !exists {
		mb.WithTimestamp()
	}
	if mb.message.Arguments == nil {
		mb.message.Arguments = []any{}
	}
	return mb.message
}

// Invocation builds a message calling target on the client.
func Invocation(target string, args ...any) *Message {
	return NewMessageBuilder().
		WithTarget(target).
		WithArguments(args...).
		Build()
}

// ToInvocation encodes m for a protocol peer. Server initiated calls never
// expect a completion, so the invocation id stays empty.
func (m *Message) ToInvocation() (*hubproto.Invocation, error) {
	args, err := codec.Encode(m.Arguments...)
	if err != nil {
		return nil, fmt.Errorf("encode arguments of %s: %w", m.Target, err)
	}
	return &hubproto.Invocation{
		Headers:   m.Headers,
		Target:    m.Target,
		Arguments: args,
	}, nil
}

// MessageValidator validates messages before sending
type MessageValidator struct{}

func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

func (mv *MessageValidator) Validate(message *Message) error {
	if message == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if message.ID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}
	if strings.TrimSpace(message.Target) == "" {
		return fmt.Errorf("message target cannot be empty")
	}
	if _, err := codec.Encode(message.Arguments...); err != nil {
		return fmt.Errorf("message arguments must be encodable: %w", err)
	}
	return nil
}
