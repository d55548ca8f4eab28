package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/kneutral-org/deadbolt/internal/config"
	"github.com/kneutral-org/deadbolt/internal/lock"
	"github.com/kneutral-org/deadbolt/internal/statusapi"
)

const shutdownTimeout = 30 * time.Second

func newHoldCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hold --lock-id ID [flags]",
		Short: "Wait for an advisory lock and hold it until interrupted",
		Long: `Hold competes for the advisory lock as a leader election: connection and
acquisition failures are retried with a fixed backoff. Once acquired, the
lock is held until SIGINT or SIGTERM. If the connection holding the lock
dies, the server drops the lock; hold notices, reports not ready, and competes
for the lock again. With --status-addr, /health, /ready, /status and /metrics
are served while waiting and holding.`,
		Args: cobra.NoArgs,
	}
	flags := addLockFlags(cmd, cfg)

	var statusAddr string
	var retryBackoff time.Duration
	cmd.Flags().StringVar(&statusAddr, "status-addr", cfg.StatusAddr, "listen address for the status API (empty disables it)")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", cfg.RetryBackoff, "wait between failed acquisition attempts")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := commandLogger(cmd)
		session := flags.session(cmd, logger)

		if statusAddr != "" {
			if os.Getenv("GIN_MODE") == "" {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := statusapi.NewServer(statusAddr, statusapi.NewRouter(logger, session), logger)
			if err := srv.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("status server forced to shutdown")
				}
			}()
		}

		elector := lock.NewLeaderElector(session, session.Logger(),
			lock.WithRetryBackoff(retryBackoff),
			lock.WithOnBecomeLeader(func() {
				logger.Info().Int64("lockId", session.LockID()).Msg("holding lock")
			}),
			lock.WithOnLoseLeader(func() {
				logger.Warn().Int64("lockId", session.LockID()).Msg("no longer holding lock")
			}),
		)
		elector.Start(ctx)

		<-ctx.Done()
		logger.Info().Msg("shutting down...")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		elector.Stop(stopCtx)

		return nil
	}

	return cmd
}
