// Package socket is the transport that speaks the hub protocol itself: over a
// local socket for named pipes, or over a websocket for URLs.
package socket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/transport"
)

// pipePrefix is the file name prefix .NET uses for named pipes on Unix.
const pipePrefix = "CoreFxPipe_"

type Options struct {
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration
	HandshakeTimeout  time.Duration
	// ReconnectDelays are waited before each reconnect attempt. Empty disables
	// automatic reconnect.
	ReconnectDelays []time.Duration
	Logger          logger.Logger
	Dialer          *websocket.Dialer
}

func DefaultOptions() Options {
	return Options{
		KeepAliveInterval: 15 * time.Second,
		ServerTimeout:     30 * time.Second,
		HandshakeTimeout:  15 * time.Second,
		Logger:            logger.NewNopLogger(),
		Dialer:            websocket.DefaultDialer,
	}
}

type Option func(*Options)

func WithKeepAliveInterval(d time.Duration) Option {
	return func(o *Options) { o.KeepAliveInterval = d }
}

func WithServerTimeout(d time.Duration) Option {
	return func(o *Options) { o.ServerTimeout = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandshakeTimeout = d }
}

func WithReconnectDelays(delays ...time.Duration) Option {
	return func(o *Options) { o.ReconnectDelays = delays }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithWebSocketDialer(d *websocket.Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

type Builder struct {
	opts Options
}

var _ transport.Builder = (*Builder)(nil)

func NewBuilder(opts ...Option) *Builder {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logger.NewNopLogger()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultOptions().KeepAliveInterval
	}
	return &Builder{opts: o}
}

// PipePath maps a pipe name to the socket file a local server listens on.
// Absolute paths are used unchanged.
func PipePath(pipeName string) string {
	if filepath.IsAbs(pipeName) {
		return pipeName
	}
	return filepath.Join(os.TempDir(), pipePrefix+pipeName)
}

func (b *Builder) BuildWithNamedPipe(pipeName, serverName string, handlers *transport.EventHandlers, ctx transport.Context) (transport.Handle, error) {
	if pipeName == "" {
		return nil, fmt.Errorf("socket: pipe name is required")
	}
	if serverName != "" && serverName != "." && serverName != "localhost" {
		return nil, fmt.Errorf("socket: pipe server %q is not reachable, only local pipes are supported", serverName)
	}

	path := PipePath(pipeName)
	dial := func(ctx context.Context) (hubproto.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("socket: dial pipe %s: %w", path, err)
		}
		return hubproto.NewStreamConn(conn), nil
	}
	return newClient(dial, "pipe://"+path, handlers, ctx, b.opts), nil
}

func (b *Builder) BuildWithURL(rawURL string, tokens transport.TokenFunc, handlers *transport.EventHandlers, ctx transport.Context) (transport.Handle, error) {
	endpoint, err := webSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := b.opts.Dialer
	dial := func(dialCtx context.Context) (hubproto.Conn, error) {
		token, err := requestToken(dialCtx, tokens, ctx)
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}

		ws, resp, err := dialer.DialContext(dialCtx, endpoint, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("socket: dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("socket: dial %s: %w", endpoint, err)
		}
		return hubproto.NewWebSocketConn(ws), nil
	}
	return newClient(dial, endpoint, handlers, ctx, b.opts), nil
}

func webSocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("socket: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("socket: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socket: url %q has no host", rawURL)
	}
	return u.String(), nil
}

// requestToken asks the supplier for a token and waits for its reply.
func requestToken(ctx context.Context, tokens transport.TokenFunc, tctx transport.Context) (string, error) {
	if tokens == nil {
		return "", nil
	}
	reply := make(chan string, 1)
	tokens(tctx, func(token string) {
		select {
		case reply <- token:
		default:
		}
	})
	select {
	case token := <-reply:
		return token, nil
	case <-ctx.Done():
		return "", fmt.Errorf("socket: waiting for access token: %w", ctx.Err())
	}
}
