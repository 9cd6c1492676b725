package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go-hub-tunnel/internal/infrastructure/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	cfgPath     string
	message     string
	hold        time.Duration
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "hubclient",
		Short:         "Drive a hub connection through a round of calls and notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.NewViper(), f.cfgPath)
			if err != nil {
				return err
			}
			return run(WithSignal(cmd.Context()), cfg, f)
		},
	}
	cmd.Flags().StringVar(&f.cfgPath, "config", "", "path to config file (yaml|toml|json)")
	cmd.Flags().StringVar(&f.message, "message", "hello", "text echoed and broadcast through the hub")
	cmd.Flags().DurationVar(&f.hold, "hold", 0, "keep the connection open this long to receive broadcasts")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve bridge metrics on this address while running")
	cmd.SetContext(context.Background())

	return cmd
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
