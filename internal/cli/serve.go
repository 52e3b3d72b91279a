package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/veil/internal/gateway"
	"github.com/soyeahso/veil/internal/logging"
	"github.com/spf13/cobra"
	"github.com/tillberg/autorestart"
)

const cacheSweepInterval = time.Minute

func newServeCmd() *cobra.Command {
	var (
		port        int
		bind        string
		autoRestart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			// The server logs per the config file unless --log-level was given.
			if logLevel == "" {
				serverLog, closer, err := logging.Open(logging.Options{
					Level:        cfg.Logging.Level,
					ConsoleStyle: cfg.Logging.ConsoleStyle,
					File:         cfg.Logging.File,
				})
				if err != nil {
					return fmt.Errorf("opening log: %w", err)
				}
				defer closer.Close()
				log = serverLog
			}

			if autoRestart {
				go autorestart.RestartOnChange()
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					log.Warn().Err(err).Msg("closing stores")
				}
			}()

			go eng.cache.RunSweeper(ctx, cacheSweepInterval)

			srv := gateway.New(cfg.Server, log,
				gateway.WithOrchestrator(eng.orch),
				gateway.WithHistory(eng.history),
				gateway.WithHooks(eng.hooks),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&autoRestart, "autorestart", false, "re-exec when the binary changes on disk")

	return cmd
}
