package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kneutral-org/deadbolt/internal/config"
	"github.com/kneutral-org/deadbolt/internal/logging"
	"github.com/kneutral-org/deadbolt/pkg/advisory"
)

// lockFlags are the flags every lock-taking command shares.
type lockFlags struct {
	lockID   int64
	host     string
	port     uint16
	database string
	user     string
	password string

	// envUser and envPassword record whether the environment set them, even to "".
	envUser     bool
	envPassword bool
}

func addLockFlags(cmd *cobra.Command, cfg *config.Config) *lockFlags {
	f := &lockFlags{
		envUser:     cfg.Database.User != nil,
		envPassword: cfg.Database.Password != nil,
	}

	fs := cmd.Flags()
	fs.Int64Var(&f.lockID, "lock-id", 0, "advisory lock ID (signed 64-bit)")
	fs.StringVar(&f.host, "host", cfg.Database.Host, "database host")
	fs.Uint16Var(&f.port, "port", cfg.Database.Port, "database port")
	fs.StringVar(&f.database, "database", cfg.Database.Name, "database name")
	fs.StringVar(&f.user, "user", deref(cfg.Database.User), "database user")
	fs.StringVar(&f.password, "password", deref(cfg.Database.Password), "database password (prefer DEADBOLT_PASSWORD)")
	_ = cmd.MarkFlagRequired("lock-id")

	return f
}

func (f *lockFlags) session(cmd *cobra.Command, logger zerolog.Logger) *advisory.Session {
	opts := []advisory.Option{
		advisory.WithPort(f.port),
		advisory.WithLogger(logger),
	}
	if f.envUser || cmd.Flags().Changed("user") {
		opts = append(opts, advisory.WithUser(f.user))
	}
	if f.envPassword || cmd.Flags().Changed("password") {
		opts = append(opts, advisory.WithPassword(f.password))
	}
	return advisory.New(f.lockID, f.host, f.database, opts...)
}

func commandLogger(cmd *cobra.Command) zerolog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	return logging.NewFromFormat("deadbolt", level, format).With().Str("command", cmd.Name()).Logger()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
