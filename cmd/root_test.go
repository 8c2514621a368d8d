package cmd_test

import (
	"os"
	"path/filepath"
	"testing"

	"bunnyup/cmd"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, command := range cmd.RootApp().Commands {
		assert.False(t, seen[command.Name], "duplicate command %s", command.Name)
		seen[command.Name] = true
	}

	for _, name := range []string{"signup", "login", "logout", "feed", "post", "like", "comment", "serve", "migrate", "tidy"} {
		assert.True(t, seen[name], "missing command %s", name)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	err := cmd.RootApp().Run([]string{"bunnyup", "--log-level", "loud", "whoami"})
	assert.Error(t, err)
}

func TestClientCommandsNeedBackend(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")
	t.Setenv("BUNNYUP_BACKEND_URL", "")
	t.Setenv("BUNNYUP_ANON_KEY", "")

	err := cmd.RootApp().Run([]string{"bunnyup", "--config", missing, "whoami"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend url is not configured")
}

func TestDatabaseCommandsNeedHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bunnyup.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\nuser = \"bunny\"\n"), 0o600))
	t.Setenv("BUNNYUP_DB_HOST", "")

	err := cmd.RootApp().Run([]string{"bunnyup", "--config", path, "tidy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database host is not configured")
}

func TestStatsRejectsUnknownPeriod(t *testing.T) {
	err := cmd.RootApp().Run([]string{"bunnyup", "stats", "--per", "month"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "month")
}
