package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs a fresh command tree with args and returns captured output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "audiencia", root.Use)

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"join", "serve", "mock-authority", "snapshot", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "audiencia version "), out)
}

func TestSnapshotLs_FromConfigFile(t *testing.T) {
	store := t.TempDir()
	cfg := writeConfig(t, "store:\n  kind: file\n  path: "+store+"\nlogging:\n  level: error\n")

	out, err := executeCommand(t, "--config", cfg, "snapshot", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots found.")
}

func TestInvalidConfigIsReported(t *testing.T) {
	cfg := writeConfig(t, "store:\n  kind: tape\n")

	out, err := executeCommand(t, "--config", cfg, "snapshot", "ls")
	require.Error(t, err)
	assert.Contains(t, out, "store.kind")
}

func TestJoin_RejectFromStdin(t *testing.T) {
	cfg := writeConfig(t, "client:\n  user_id: 3\nstore:\n  kind: memory\nlogging:\n  level: error\n")

	root := newRootCmd()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader("n\n"))
	root.SetArgs([]string{"--config", cfg, "join", "ABC123", "--plain"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Rol asignado: Fiscal")
	assert.Contains(t, buf.String(), "role rejected")
}
