package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-hub-tunnel/internal/applicatoin/facade"
	"go-hub-tunnel/internal/infrastructure/config"
	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/metrics"
	"go-hub-tunnel/internal/infrastructure/server"
	"go-hub-tunnel/internal/infrastructure/transport/socket"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "hubserver",
		Short:         "Test hub serving the MessagePack hub protocol over websockets and a local pipe",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.NewViper(), cfgPath)
			if err != nil {
				return err
			}
			return run(WithSignal(cmd.Context()), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file (yaml|toml|json)")
	cmd.SetContext(context.Background())

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogrusLogger(&cfg.Log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hubInstance := hub.New(log,
		hub.WithMetrics(metrics.NewHub(reg)),
		hub.WithCleanupInterval(cfg.Server.CleanupInterval),
	)
	facade.NewHubApplicationService(hubInstance, log).Register()

	// Start the hub first
	if err := hubInstance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	log.Infof(
		"hub started before router initialization, running status: %v",
		hubInstance.IsRunning(),
	)

	servers := []server.Server{
		server.NewHTTPServer(cfg.Server.Addr, InitRouter(hubInstance, log, reg, cfg.Server)),
	}
	if cfg.Server.PipeName != "" {
		servers = append(servers, server.NewPipeServer(hubInstance, log, server.PipeOptions{
			Path:              socket.PipePath(cfg.Server.PipeName),
			HandshakeTimeout:  cfg.Server.HandshakeTimeout,
			KeepAliveInterval: cfg.Server.KeepAliveInterval,
		}))
	}

	app := newApplication(log, servers, hubInstance)
	return app.Run(ctx)
}

type Application struct {
	logger  logger.Logger
	servers []server.Server
	hub     *hub.Hub
}

func newApplication(
	logger logger.Logger,
	servers []server.Server,
	hubInstance *hub.Hub,
) *Application {
	return &Application{
		logger:  logger.WithField("app", "hubserver"),
		servers: servers,
		hub:     hubInstance,
	}
}

func (app *Application) Run(ctx context.Context) error {
	eg := errgroup.Group{}

	for _, srv := range app.servers {
		eg.Go(func() error {
			return srv.Start(ctx)
		})
	}

	eg.Go(func() error {
		<-ctx.Done()

		gracefulshutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()

		// Stop hub first so clients see a close message
		if err := app.hub.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop hub: %v", err)
		}

		var firstErr error
		for _, srv := range app.servers {
			if err := srv.Stop(gracefulshutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	return eg.Wait()
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
