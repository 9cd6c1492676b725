package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"go-hub-tunnel/internal/infrastructure/config"
	"go-hub-tunnel/internal/infrastructure/hubconn"
	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/metrics"
	"go-hub-tunnel/internal/infrastructure/server"
	"go-hub-tunnel/internal/infrastructure/transport/socket"
)

const callTimeout = 10 * time.Second

func run(ctx context.Context, cfg *config.Config, f flags) error {
	log := logger.NewLogrusLogger(&cfg.Log).WithField("app", "hubclient")

	reg := prometheus.NewRegistry()
	conn, err := dial(cfg.Client, log, metrics.NewBridge(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Dispose(); err != nil {
			log.Errorf("dispose: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	if f.metricsAddr != "" {
		srv := server.NewHTTPServer(f.metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		eg.Go(func() error { return srv.Start(ctx) })
		eg.Go(func() error {
			<-ctx.Done()
			return srv.Stop(context.Background())
		})
	}
	eg.Go(func() error {
		defer cancel()
		return exercise(ctx, conn, log, f)
	})

	return eg.Wait()
}

func dial(cfg config.Client, log logger.Logger, m *metrics.Bridge) (*hubconn.Connection, error) {
	builder := socket.NewBuilder(
		socket.WithLogger(log),
		socket.WithKeepAliveInterval(cfg.KeepAliveInterval),
		socket.WithServerTimeout(cfg.ServerTimeout),
		socket.WithHandshakeTimeout(cfg.HandshakeTimeout),
		socket.WithReconnectDelays(cfg.ReconnectDelays...),
	)
	opts := []hubconn.Option{
		hubconn.WithBuilder(builder),
		hubconn.WithLogger(log),
		hubconn.WithMetrics(m),
		hubconn.WithHooks(hubconn.HookFuncs{
			Closed: func(_ context.Context, err error) error {
				if err != nil {
					log.Warnf("connection closed: %v", err)
				} else {
					log.Info("connection closed")
				}
				return nil
			},
			Reconnecting: func(_ context.Context, err error) error {
				log.Warnf("reconnecting: %v", err)
				return nil
			},
			Reconnected: func(context.Context) error {
				log.Info("reconnected")
				return nil
			},
		}),
	}

	if cfg.PipeName != "" {
		return hubconn.NewNamedPipe(cfg.PipeName, cfg.ServerName, opts...)
	}

	var tokens hubconn.TokenProvider
	if cfg.AccessToken != "" {
		token := cfg.AccessToken
		tokens = func(context.Context) (string, error) { return token, nil }
	}
	return hubconn.NewURL(cfg.URL, tokens, opts...)
}

// exercise registers the client methods the hub calls back, then walks
// through every kind of call once.
func exercise(ctx context.Context, conn *hubconn.Connection, log logger.Logger, f flags) error {
	echoed := make(chan int64, 1)
	if _, err := hubconn.On1(conn, "ClientMethod1", func(_ context.Context, v int64) error {
		log.Infof("ClientMethod1(%d)", v)
		select {
		case echoed <- v:
		default:
		}
		return nil
	}); err != nil {
		return err
	}
	if _, err := hubconn.On1(conn, "MsgPackTimeVoid", func(_ context.Context, at time.Time) error {
		log.Infof("MsgPackTimeVoid(%s)", at.Format(time.RFC3339Nano))
		return nil
	}); err != nil {
		return err
	}
	if _, err := hubconn.On3(conn, "ReceiveMessage", func(_ context.Context, from, text string, at time.Time) error {
		log.Infof("[%s] %s: %s", at.Local().Format(time.Kitchen), from, text)
		return nil
	}); err != nil {
		return err
	}

	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.Info("connection started")

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	text, err := hubconn.Invoke[string](callCtx, conn, "Echo", f.message)
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	log.Infof("Echo -> %q", text)

	sum, err := hubconn.Invoke[int64](callCtx, conn, "Add", 2, 40)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	log.Infof("Add(2, 40) -> %d", sum)

	at, err := hubconn.Invoke[time.Time](callCtx, conn, "Time", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	log.Infof("Time -> %s", at.Format(time.RFC3339Nano))

	if _, err := hubconn.Invoke[struct{}](callCtx, conn, "HubMethod1", sum); err != nil {
		return fmt.Errorf("hub method: %w", err)
	}
	select {
	case v := <-echoed:
		if v != sum {
			return fmt.Errorf("ClientMethod1 got %d, want %d", v, sum)
		}
	case <-callCtx.Done():
		return errors.New("ClientMethod1 was never called")
	}

	if err := conn.Send(callCtx, "Broadcast", f.message); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	if f.hold > 0 {
		log.Infof("holding the connection open for %s", f.hold)
		select {
		case <-time.After(f.hold):
		case <-ctx.Done():
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), callTimeout)
	defer stopCancel()
	return conn.Stop(stopCtx)
}
