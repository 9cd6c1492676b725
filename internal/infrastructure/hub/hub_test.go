package hub

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/logger"
)

func TestHub_StartStop(t *testing.T) {
	logger := &mockLogger{}
	hub := New(logger)

	ctx := context.Background()

	// Test starting hub
	err := hub.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}

	if !hub.IsRunning() {
		t.Error("Hub should be running after start")
	}

	if err := hub.Start(ctx); err == nil {
		t.Error("Starting a running hub should fail")
	}

	// Test stopping hub
	err = hub.Stop(ctx)
	if err != nil {
		t.Fatalf("Failed to stop hub: %v", err)
	}

	if hub.IsRunning() {
		t.Error("Hub should not be running after stop")
	}
}

func TestHub_ConnectionManagement(t *testing.T) {
	logger := &mockLogger{}
	hub := New(logger)

	ctx := context.Background()
	hub.Start(ctx)
	defer hub.Stop(ctx)

	// Initially no connections
	if hub.ConnectionCount() != 0 {
		t.Errorf("Expected 0 connections, got %d", hub.ConnectionCount())
	}

	conn := newMockConnection("test-conn-1")

	// Register connection
	err := hub.RegisterConnection(conn)
	if err != nil {
		t.Fatalf("Failed to register connection: %v", err)
	}

	// Give some time for registration to process
	time.Sleep(100 * time.Millisecond)

	if hub.ConnectionCount() != 1 {
		t.Errorf("Expected 1 connection, got %d", hub.ConnectionCount())
	}

	retrievedConn, exists := hub.GetConnection("test-conn-1")
	if !exists {
		t.Fatal("Connection should exist")
	}
	if retrievedConn.ID() != "test-conn-1" {
		t.Errorf("Expected connection ID 'test-conn-1', got '%s'", retrievedConn.ID())
	}

	// Unregister connection
	err = hub.UnregisterConnection("test-conn-1")
	if err != nil {
		t.Fatalf("Failed to unregister connection: %v", err)
	}

	// Give some time for unregistration to process
	time.Sleep(100 * time.Millisecond)

	if hub.ConnectionCount() != 0 {
		t.Errorf("Expected 0 connections after unregistration, got %d", hub.ConnectionCount())
	}
	if !conn.IsClosed() {
		t.Error("Unregistered connection should be closed")
	}
}

func TestHub_UnregistersWhenConnectionContextEnds(t *testing.T) {
	hub := New(&mockLogger{})
	ctx := context.Background()
	hub.Start(ctx)
	defer hub.Stop(ctx)

	conn := newMockConnection("short-lived")
	require.NoError(t, hub.RegisterConnection(conn))
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.cancel()

	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_Broadcasting(t *testing.T) {
	logger := &mockLogger{}
	hub := New(logger)

	ctx := context.Background()
	hub.Start(ctx)
	defer hub.Stop(ctx)

	conn1 := newMockConnection("conn-1")
	conn2 := newMockConnection("conn-2")

	hub.RegisterConnection(conn1)
	hub.RegisterConnection(conn2)

	// Give time for registration
	time.Sleep(100 * time.Millisecond)

	message := Invocation(TargetReceiveMessage, "Hello World")

	// Broadcast message
	err := hub.Broadcast(ctx, message)
	if err != nil {
		t.Fatalf("Failed to broadcast message: %v", err)
	}

	// Give time for broadcast to process
	time.Sleep(100 * time.Millisecond)

	if n := len(conn1.received()); n != 1 {
		t.Errorf("Connection1 should have received 1 message, got %d", n)
	}
	if n := len(conn2.received()); n != 1 {
		t.Errorf("Connection2 should have received 1 message, got %d", n)
	}
}

func TestHub_BroadcastToType(t *testing.T) {
	hub := New(&mockLogger{})

	ctx := context.Background()
	require.NoError(t, hub.Start(ctx))
	defer hub.Stop(ctx)

	monitor := newMockConnection("monitor")
	monitor.connType = "sse"
	peer := newMockConnection("peer")
	peer.connType = "websocket"

	require.NoError(t, hub.RegisterConnection(monitor))
	require.NoError(t, hub.RegisterConnection(peer))
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.BroadcastToType(ctx, "sse", Invocation("status", "up")))

	require.Eventually(t, func() bool { return len(monitor.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "status", monitor.received()[0].Target)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, peer.received())
}

func TestHub_NotRunning(t *testing.T) {
	hub := New(&mockLogger{})

	assert.Error(t, hub.RegisterConnection(newMockConnection("x")))
	assert.Error(t, hub.UnregisterConnection("x"))
	assert.Error(t, hub.Broadcast(context.Background(), Invocation("Anything")))
	assert.Error(t, hub.BroadcastToType(context.Background(), "sse", Invocation("Anything")))
}

func TestHub_Invoke(t *testing.T) {
	hub := New(&mockLogger{})
	caller := newMockConnection("caller")

	hub.HandleMethod("Echo", func(_ context.Context, _ Connection, args codec.Args) (any, error) {
		return codec.Arg[string](args, 0)
	})
	hub.HandleMethod("Notify", func(ctx context.Context, c Connection, args codec.Args) (any, error) {
		return nil, c.Send(ctx, Invocation("Notified"))
	})
	hub.HandleMethod("Fail", func(context.Context, Connection, codec.Args) (any, error) {
		return nil, errors.New("nope")
	})
	hub.HandleMethod("Panic", func(context.Context, Connection, codec.Args) (any, error) {
		panic("boom")
	})

	args, err := codec.Encode("hello")
	require.NoError(t, err)
	noArgs, err := codec.Encode()
	require.NoError(t, err)

	t.Run("result", func(t *testing.T) {
		c := hub.Invoke(context.Background(), caller, &hubproto.Invocation{InvocationID: "1", Target: "echo", Arguments: args})
		require.NotNil(t, c)
		require.Empty(t, c.Error)
		require.True(t, c.HasResult)
		got, err := codec.As[string](c.Result)
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("void", func(t *testing.T) {
		c := hub.Invoke(context.Background(), caller, &hubproto.Invocation{InvocationID: "2", Target: "Notify", Arguments: noArgs})
		require.NotNil(t, c)
		assert.Empty(t, c.Error)
		assert.False(t, c.HasResult)
		require.Len(t, caller.received(), 1)
		assert.Equal(t, "Notified", caller.received()[0].Target)
	})

	t.Run("error", func(t *testing.T) {
		c := hub.Invoke(context.Background(), caller, &hubproto.Invocation{InvocationID: "3", Target: "Fail", Arguments: noArgs})
		require.NotNil(t, c)
		assert.Equal(t, "nope", c.Error)
	})

	t.Run("panic", func(t *testing.T) {
		c := hub.Invoke(context.Background(), caller, &hubproto.Invocation{InvocationID: "4", Target: "Panic", Arguments: noArgs})
		require.NotNil(t, c)
		assert.Contains(t, c.Error, "unexpected error")
	})

	t.Run("unknown", func(t *testing.T) {
		c := hub.Invoke(context.Background(), caller, &hubproto.Invocation{InvocationID: "5", Target: "Missing", Arguments: noArgs})
		require.NotNil(t, c)
		assert.Contains(t, c.Error, "Unknown hub method")
	})

	t.Run("non-blocking", func(t *testing.T) {
		c := hub.Invoke(context.Background(), caller, &hubproto.Invocation{Target: "Echo", Arguments: args})
		assert.Nil(t, c)
	})
}

func TestHandshake(t *testing.T) {
	tests := []struct {
		name    string
		request string
		wantErr string
	}{
		{"accepted", `{"protocol":"messagepack","version":1}`, ""},
		{"wrong protocol", `{"protocol":"json","version":1}`, "The protocol 'json' is not supported."},
		{"wrong version", `{"protocol":"messagepack","version":2}`, "The server does not support version 2 of the 'messagepack' protocol."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			cc := hubproto.NewStreamConn(client)
			defer cc.Close()

			errc := make(chan error, 1)
			go func() { errc <- Handshake(hubproto.NewStreamConn(server), time.Second) }()

			require.NoError(t, cc.WriteHandshake(append([]byte(tt.request), hubproto.RecordSeparator)))
			record, err := cc.ReadHandshake()
			require.NoError(t, err)

			err = hubproto.ParseHandshakeResponse(record)
			serverErr := <-errc
			if tt.wantErr == "" {
				assert.NoError(t, err)
				assert.NoError(t, serverErr)
				return
			}
			var hsErr *hubproto.HandshakeError
			require.ErrorAs(t, err, &hsErr)
			assert.Equal(t, tt.wantErr, hsErr.Message)
			assert.EqualError(t, serverErr, tt.wantErr)
		})
	}
}

func TestProtocolConnection_CompletionFollowsCallerInvocation(t *testing.T) {
	hub := New(&mockLogger{})
	hub.HandleMethod("HubMethod1", func(ctx context.Context, c Connection, args codec.Args) (any, error) {
		v, err := codec.Arg[int](args, 0)
		if err != nil {
			return nil, err
		}
		return nil, c.Send(ctx, Invocation("ClientMethod1", v))
	})

	client, server := net.Pipe()
	cc := hubproto.NewStreamConn(client)
	defer cc.Close()

	pc := NewProtocolConnection("pc-1", "pipe", hubproto.NewStreamConn(server), hub, &mockLogger{}, time.Minute)
	defer pc.Close()

	args, err := codec.Encode(7)
	require.NoError(t, err)
	require.NoError(t, cc.WriteMessage(&hubproto.Invocation{InvocationID: "1", Target: "HubMethod1", Arguments: args}))

	msg, err := cc.ReadMessage()
	require.NoError(t, err)
	inv, ok := msg.(*hubproto.Invocation)
	require.True(t, ok, "expected the client call before the completion, got %T", msg)
	assert.Equal(t, "ClientMethod1", inv.Target)
	assert.Empty(t, inv.InvocationID)

	decoded, err := codec.Decode(inv.Arguments)
	require.NoError(t, err)
	v, err := codec.Arg[int](decoded, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	msg, err = cc.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, &hubproto.Completion{InvocationID: "1"}, msg)
}

func TestProtocolConnection_AbortTellsPeer(t *testing.T) {
	client, server := net.Pipe()
	cc := hubproto.NewStreamConn(client)
	defer cc.Close()

	pc := NewProtocolConnection("pc-2", "pipe", hubproto.NewStreamConn(server), New(&mockLogger{}), &mockLogger{}, time.Minute)
	require.NoError(t, pc.Abort(errors.New("aborted by test")))
	assert.True(t, pc.IsClosed())

	msg, err := cc.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, &hubproto.Close{Error: "aborted by test"}, msg)

	select {
	case <-pc.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled after abort")
	}
	assert.Error(t, pc.Send(context.Background(), Invocation("Late")))
}

func TestMessageValidator(t *testing.T) {
	v := NewMessageValidator()

	assert.NoError(t, v.Validate(Invocation("ReceiveMessage", "hi")))
	assert.Error(t, v.Validate(nil))
	assert.Error(t, v.Validate(&Message{ID: "x"}))
	assert.Error(t, v.Validate(&Message{Target: "x"}))
	assert.Error(t, v.Validate(&Message{ID: "x", Target: "  "}))
	assert.Error(t, v.Validate(&Message{ID: "x", Target: "y", Arguments: []any{make(chan int)}}))
}

// Mock implementations for testing

type mockLogger struct{}

func (m *mockLogger) Debug(msg string)                              {}
func (m *mockLogger) Debugf(format string, args ...any)             {}
func (m *mockLogger) Info(msg string)                               {}
func (m *mockLogger) Infof(format string, args ...any)              {}
func (m *mockLogger) Warn(msg string)                               {}
func (m *mockLogger) Warnf(format string, args ...any)              {}
func (m *mockLogger) Error(msg string)                              {}
func (m *mockLogger) Errorf(format string, args ...any)             {}
func (m *mockLogger) Fatal(msg string)                              {}
func (m *mockLogger) Fatalf(format string, args ...any)             {}
func (m *mockLogger) WithField(key string, value any) logger.Logger { return m }
func (m *mockLogger) WithFields(fields logger.Fields) logger.Logger { return m }
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger { return m }
func (m *mockLogger) SetLevel(level logger.Level)                   {}
func (m *mockLogger) SetOutput(output io.Writer)                    {}

type mockConnection struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	connType         string
	mu               sync.Mutex
	closed           bool
	receivedMessages []*Message
}

func newMockConnection(id string) *mockConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &mockConnection{id: id, ctx: ctx, cancel: cancel}
}

func (m *mockConnection) ID() string   { return m.id }
func (m *mockConnection) Type() string {
	if m.connType == "" {
		return "mock"
	}
	return m.connType
}
func (m *mockConnection) Send(ctx context.Context, message *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receivedMessages = append(m.receivedMessages, message)
	return nil
}
func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
func (m *mockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
func (m *mockConnection) Context() context.Context { return m.ctx }

func (m *mockConnection) received() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Message(nil), m.receivedMessages...)
}
