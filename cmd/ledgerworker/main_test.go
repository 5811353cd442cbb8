package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetledger/internal/middleware"
)

const testJWTSecret = "cli-test-jwt-secret-0123456789"

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	content := "store:\n  dsn: " + filepath.Join(dir, "ledger.sqlite") + "\n" +
		"  encryption_secret: cli-test-secret-0123456789\n" +
		"security:\n  jwt_secret: " + testJWTSecret + "\n" +
		"logging:\n  output: console\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCommandTree(t *testing.T) {
	cmd := newCommand()
	names := make([]string, 0, len(cmd.Commands))
	for _, c := range cmd.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "token"}, names)
}

func TestMigrateCommand(t *testing.T) {
	path := writeConfig(t)
	require.NoError(t, newCommand().Run(context.Background(), []string{"ledgerworker", "--config", path, "migrate"}))
	assert.FileExists(t, filepath.Join(filepath.Dir(path), "ledger.sqlite"))
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t)

	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	require.NoError(t, cmd.Run(context.Background(), []string{"ledgerworker", "--config", path, "token", "--user", "42", "--ttl", "10m"}))

	auth, err := middleware.NewAuthenticator(testJWTSecret, "marketplace", nil)
	require.NoError(t, err)
	userID, err := auth.Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenCommandRequiresUser(t *testing.T) {
	path := writeConfig(t)
	cmd := newCommand()
	cmd.Writer = &bytes.Buffer{}
	cmd.ErrWriter = &bytes.Buffer{}
	err := cmd.Run(context.Background(), []string{"ledgerworker", "--config", path, "token"})
	assert.Error(t, err)
}
