package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kneutral-org/deadbolt/internal/config"
	"github.com/kneutral-org/deadbolt/internal/logging"
)

func newRunCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run --lock-id ID [flags] -- command [args...]",
		Short: "Run a command while holding an advisory lock",
		Long: `Run waits for the advisory lock, runs the command with inherited stdio,
and releases the lock when the command exits. deadbolt exits with the
command's exit code.`,
		Args: cobra.MinimumNArgs(1),
	}
	flags := addLockFlags(cmd, cfg)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := commandLogger(cmd)
		session := flags.session(cmd, logger)

		code := 0
		err := session.WithLock(ctx, func(ctx context.Context) error {
			lockLogger := logging.LoggerFromContext(ctx)
			lockLogger.Info().Str("command", args[0]).Msg("lock acquired, running command")

			child := exec.CommandContext(ctx, args[0], args[1:]...)
			child.Stdin = os.Stdin
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()
			child.Env = append(os.Environ(), "DEADBOLT_LOCK_ID="+strconv.FormatInt(session.LockID(), 10))

			var runErr error
			code, runErr = exitCodeOf(child.Run())
			if runErr != nil {
				return fmt.Errorf("run %s: %w", args[0], runErr)
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info().Int64("lockId", session.LockID()).Int("exitCode", code).Msg("lock released")
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	}

	return cmd
}

// exitCodeOf turns the result of exec.Cmd.Run into an exit code. Errors that
// are not a plain non-zero exit, such as a missing binary, are returned.
func exitCodeOf(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, err
	}

	if code := exitErr.ExitCode(); code >= 0 {
		return code, nil
	}
	// Killed by a signal.
	return 1, nil
}
