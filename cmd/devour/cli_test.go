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

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func fileStoreConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "devour.yaml")
	body := "storage:\n  driver: file\n  path: " + filepath.Join(dir, "policies") + "\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestPolicyLifecycle(t *testing.T) {
	cfg := fileStoreConfig(t)

	out, err := execute(t, "policy", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "no policies")

	out, err = execute(t, "policy", "set", "111", "12", "hours", "--guild", "999", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "older than 12 hours")

	out, err = execute(t, "policy", "list", "--config", cfg)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "111")
	assert.Contains(t, lines[1], "999")
	assert.Contains(t, lines[1], "never")

	out, err = execute(t, "policy", "rm", "111", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "policy removed")

	out, err = execute(t, "policy", "rm", "111", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "has no policy")
}

func TestPolicySetRejectsBadUnit(t *testing.T) {
	cfg := fileStoreConfig(t)
	_, err := execute(t, "policy", "set", "111", "3", "fortnights", "--guild", "999", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit")
}

func TestMigrateFileDriverHasNoSchema(t *testing.T) {
	cfg := fileStoreConfig(t)
	out, err := execute(t, "migrate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "no schema")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "devour "+Version))
}

func TestPolicySetAmount(t *testing.T) {
	cfg := fileStoreConfig(t)

	_, err := execute(t, "policy", "set", "111", "0", "hours", "--guild", "999", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")

	out, err := execute(t, "policy", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "no policies")

	out, err = execute(t, "policy", "set", "111", "--guild", "999", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "older than 30 days")
}
