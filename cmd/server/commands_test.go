package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inmyopinion/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	_, err = newLogger(config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestHelpEnvSkipsConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "untouched", "app.db"))

	tests := []struct {
		name string
		args []string
	}{
		{"root", []string{"--help-env"}},
		{"serve", []string{"serve", "--help-env"}},
		{"migrate", []string{"migrate", "--help-env"}},
		{"create-admin", []string{"create-admin", "--help-env"}},
		{"flag before subcommand", []string{"--help-env", "migrate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.args...)
			assert.Contains(t, out, "JWT_SECRET")
			assert.Contains(t, out, "REDIS_ADDR")
			assert.NotContains(t, out, "schema version")
		})
	}
	assert.NoDirExists(t, filepath.Dir(os.Getenv("DB_PATH")), "--help-env must not touch the database")
}

func TestMigrateAndCreateAdmin(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JWT_SECRET", "a-secret-long-enough-for-development")
	t.Setenv("DB_PATH", filepath.Join(dir, "data", "test.db"))
	t.Setenv("BCRYPT_COST", "4")
	envFile := filepath.Join(dir, "missing.env")

	out := run(t, "--env-file", envFile, "migrate")
	assert.Equal(t, "schema version 2\n", out)

	out = run(t, "--env-file", envFile, "create-admin",
		"--email", "Owner@Example.com", "--name", "Owner", "--password", "Adm1nPassword")
	assert.Contains(t, out, "admin owner@example.com")

	// Running it again promotes the existing account instead of failing.
	out = run(t, "--env-file", envFile, "create-admin", "--email", "owner@example.com")
	assert.Contains(t, out, "admin owner@example.com")
}
