package hubconn_test

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/hubconn"
	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/server"
	"go-hub-tunnel/internal/interfaces/websocket"
)

func startHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.New(logger.NewNopLogger())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(context.Background()) })

	h.HandleMethod("Echo", func(_ context.Context, _ hub.Connection, args codec.Args) (any, error) {
		return codec.Arg[string](args, 0)
	})
	h.HandleMethod("Notify", func(ctx context.Context, caller hub.Connection, args codec.Args) (any, error) {
		text, err := codec.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return nil, caller.Send(ctx, hub.Invocation("Notified", text))
	})
	h.HandleMethod("Kick", func(_ context.Context, caller hub.Connection, _ codec.Args) (any, error) {
		return nil, caller.(hub.Aborter).Abort(errors.New("kicked"))
	})
	return h
}

func servePipe(t *testing.T, h *hub.Hub) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.sock")
	srv := server.NewPipeServer(h, logger.NewNopLogger(), server.PipeOptions{Path: path})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(context.Background()) }()
	t.Cleanup(func() {
		srv.Stop(context.Background())
		<-errc
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return path
}

func serveWebSocket(t *testing.T, h *hub.Hub, token string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	websocket.InitWebSocketRouter(logger.NewNopLogger(), h, router.Group(""), websocket.Options{AccessToken: token})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL + "/hub"
}

func TestEndToEnd(t *testing.T) {
	const token = "secret"

	dialers := map[string]func(t *testing.T, h *hub.Hub, hooks hubconn.Hooks) *hubconn.Connection{
		"pipe": func(t *testing.T, h *hub.Hub, hooks hubconn.Hooks) *hubconn.Connection {
			c, err := hubconn.NewNamedPipe(servePipe(t, h), ".", hubconn.WithHooks(hooks))
			require.NoError(t, err)
			return c
		},
		"websocket": func(t *testing.T, h *hub.Hub, hooks hubconn.Hooks) *hubconn.Connection {
			tokens := func(context.Context) (string, error) { return token, nil }
			c, err := hubconn.NewURL(serveWebSocket(t, h, token), tokens, hubconn.WithHooks(hooks))
			require.NoError(t, err)
			return c
		},
	}

	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			closed := make(chan error, 1)
			hooks := hubconn.HookFuncs{Closed: func(_ context.Context, err error) error {
				closed <- err
				return nil
			}}
			h := startHub(t)
			c := dial(t, h, hooks)
			defer c.Dispose()

			notified := make(chan string, 1)
			_, err := hubconn.On1(c, "Notified", func(_ context.Context, text string) error {
				notified <- text
				return nil
			})
			require.NoError(t, err)

			require.NoError(t, c.Start(ctx))
			require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

			echo, err := hubconn.Invoke[string](ctx, c, "Echo", "hello")
			require.NoError(t, err)
			assert.Equal(t, "hello", echo)

			_, err = hubconn.Invoke[struct{}](ctx, c, "Notify", "ping")
			require.NoError(t, err)
			select {
			case text := <-notified:
				assert.Equal(t, "ping", text)
			case <-ctx.Done():
				t.Fatal("server invocation was not dispatched")
			}

			_, err = hubconn.Invoke[string](ctx, c, "Missing")
			var terr *hubconn.TransportError
			require.ErrorAs(t, err, &terr)
			assert.Contains(t, err.Error(), "Unknown hub method 'Missing'")

			require.NoError(t, c.Stop(ctx))
			select {
			case err := <-closed:
				assert.NoError(t, err)
			case <-ctx.Done():
				t.Fatal("closed hook did not run after stop")
			}

			require.NoError(t, c.Dispose())
			assert.ErrorIs(t, c.Start(ctx), hubconn.ErrDisposed)
		})
	}
}

func TestEndToEndServerAbort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closed := make(chan error, 1)
	h := startHub(t)
	c, err := hubconn.NewURL(serveWebSocket(t, h, ""), nil, hubconn.WithHooks(hubconn.HookFuncs{
		Closed: func(_ context.Context, err error) error {
			closed <- err
			return nil
		},
	}))
	require.NoError(t, err)
	defer c.Dispose()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Send(ctx, "Kick"))

	select {
	case err := <-closed:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kicked")
	case <-ctx.Done():
		t.Fatal("closed hook did not run after the server aborted")
	}
}

func TestEndToEndRejectsBadToken(t *testing.T) {
	h := startHub(t)
	c, err := hubconn.NewURL(serveWebSocket(t, h, "secret"), func(context.Context) (string, error) {
		return "wrong", nil
	})
	require.NoError(t, err)
	defer c.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Start(ctx)
	var terr *hubconn.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "start", terr.Op)
}

// A server invocation carrying an invocation id asks the client for a
// result. Handlers still run, then the client answers with an error
// completion because client results are not supported.
func TestEndToEndClientResultRequestGetsErrorCompletion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "hub.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	args, err := codec.Encode(int64(2))
	require.NoError(t, err)

	replies := make(chan *hubproto.Completion, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		conn := hubproto.NewStreamConn(nc)
		defer conn.Close()

		if err := hub.Handshake(conn, 5*time.Second); err != nil {
			return
		}
		if err := conn.WriteMessage(&hubproto.Invocation{InvocationID: "7", Target: "Compute", Arguments: args}); err != nil {
			return
		}
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if m, ok := msg.(*hubproto.Completion); ok {
				replies <- m
				return
			}
		}
	}()

	c, err := hubconn.NewNamedPipe(path, ".")
	require.NoError(t, err)
	defer c.Dispose()

	handled := make(chan int64, 1)
	_, err = hubconn.On1(c, "Compute", func(_ context.Context, v int64) error {
		handled <- v
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	select {
	case v := <-handled:
		assert.Equal(t, int64(2), v)
	case <-ctx.Done():
		t.Fatal("handler did not run for an invocation expecting a result")
	}

	select {
	case m := <-replies:
		assert.Equal(t, "7", m.InvocationID)
		assert.Equal(t, "Client results are not supported.", m.Error)
		assert.False(t, m.HasResult)
	case <-ctx.Done():
		t.Fatal("client never answered the invocation")
	}
}
