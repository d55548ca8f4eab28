package main

import (
	"bytes"
	"errors"
	"os/exec"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/deadbolt/internal/config"
	"github.com/kneutral-org/deadbolt/pkg/advisory"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.Database{
			Host: "localhost",
			Port: config.DefaultPort,
			Name: "postgres",
		},
		LogLevel:  "error",
		LogFormat: "json",
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand(testConfig())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "deadbolt dev\n", out.String())
}

func TestRunCommand_RequiresLockID(t *testing.T) {
	root := newRootCommand(testConfig())
	root.SetArgs([]string{"run", "--", "true"})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock-id")
}

func TestRunCommand_RequiresCommand(t *testing.T) {
	root := newRootCommand(testConfig())
	root.SetArgs([]string{"run", "--lock-id", "5"})

	assert.Error(t, root.Execute())
}

func TestRunCommand_ConnectionFailure(t *testing.T) {
	root := newRootCommand(testConfig())
	root.SetArgs([]string{"run", "--lock-id", "5", "--host", "127.0.0.1", "--port", "1", "--", "true"})

	err := root.Execute()

	assert.ErrorIs(t, err, advisory.ErrConnect)
}

func TestLockFlags_Session(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	f := addLockFlags(cmd, testConfig())
	require.NoError(t, cmd.ParseFlags([]string{"--lock-id=-9", "--host", "db", "--port", "6432", "--user", "app"}))

	s := f.session(cmd, zerolog.Nop())

	assert.Equal(t, int64(-9), s.LockID())
	assert.Equal(t, uint16(6432), s.Port())
	assert.Equal(t, "host=db port=6432 dbname=postgres user=app", s.ConnString())
}

func TestLockFlags_EnvCredentials(t *testing.T) {
	user, password := "svc", ""
	cfg := testConfig()
	cfg.Database.User = &user
	cfg.Database.Password = &password

	cmd := &cobra.Command{Use: "test"}
	f := addLockFlags(cmd, cfg)
	require.NoError(t, cmd.ParseFlags([]string{"--lock-id", "1"}))

	s := f.session(cmd, zerolog.Nop())

	got, ok := s.User()
	assert.True(t, ok)
	assert.Equal(t, "svc", got)
	_, ok = s.Password()
	assert.True(t, ok, "a password set to empty in the environment is still sent")
}

func TestLockFlags_NoCredentials(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	f := addLockFlags(cmd, testConfig())
	require.NoError(t, cmd.ParseFlags([]string{"--lock-id", "1"}))

	s := f.session(cmd, zerolog.Nop())

	assert.Equal(t, "host=localhost port=5432 dbname=postgres", s.ConnString())
}

func TestExitCodeOf(t *testing.T) {
	code, err := exitCodeOf(nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = exitCodeOf(exec.Command("sh", "-c", "exit 3").Run())
	assert.NoError(t, err)
	assert.Equal(t, 3, code)

	_, err = exitCodeOf(exec.Command("/definitely/not/a/binary").Run())
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = exitCodeOf(boom)
	assert.ErrorIs(t, err, boom)
}

func TestExitError(t *testing.T) {
	err := error(&exitError{code: 4})

	var exitErr *exitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.code)
	assert.Equal(t, "exit status 4", err.Error())
}
