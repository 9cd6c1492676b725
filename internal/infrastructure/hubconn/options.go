package hubconn

import (
	"context"

	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/metrics"
	"go-hub-tunnel/internal/infrastructure/transport"
	"go-hub-tunnel/internal/infrastructure/transport/socket"
)

// TokenProvider returns the access token sent when a URL connection dials.
// An empty token sends none.
type TokenProvider func(ctx context.Context) (string, error)

type options struct {
	builder transport.Builder
	hooks   Hooks
	logger  logger.Logger
	metrics *metrics.Bridge
}

type Option func(*options)

// WithBuilder replaces the socket transport.
func WithBuilder(b transport.Builder) Option {
	return func(o *options) { o.builder = b }
}

func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Bridge) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.NewNopLogger()
	}
	if o.hooks == nil {
		o.hooks = NopHooks{}
	}
	if o.builder == nil {
		o.builder = socket.NewBuilder(socket.WithLogger(o.logger))
	}
	return o
}
