// Package main provides the deadbolt command line tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kneutral-org/deadbolt/internal/config"
)

var version = "dev"

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	cmd := newRootCommand(config.Load())
	if err := cmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "deadbolt:", err)
		os.Exit(1)
	}
}

func newRootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "deadbolt",
		Short:         "Distributed mutex on PostgreSQL advisory locks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", cfg.LogFormat, "log format (json, pretty)")

	root.AddCommand(
		newRunCommand(cfg),
		newHoldCommand(cfg),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the deadbolt version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "deadbolt", version)
		},
	}
}
