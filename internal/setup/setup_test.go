package setup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_NewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client", "claude_desktop_config.json")
	binary := filepath.Join(dir, "deidgate-mcp")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))

	entry, err := Register(path, Options{BinaryPath: binary, PseudonymMode: "random"})
	require.NoError(t, err)
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, map[string]string{"DEIDGATE_PSEUDONYM_MODE": "random"}, entry.Env)

	status, err := GetStatus(path)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.True(t, status.BinaryExists)
	assert.Equal(t, binary, status.Command)
}

func TestRegister_PreservesOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "theme": "dark",
  "mcpServers": {"other": {"command": "/usr/bin/other"}}
}`), 0o600))

	_, err := Register(path, Options{BinaryPath: "/opt/deidgate/deidgate-mcp"})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `"dark"`, string(raw["theme"]))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/other", cfg.MCPServers["other"].Command)
	assert.Equal(t, "/opt/deidgate/deidgate-mcp", cfg.MCPServers[ServerName].Command)
	assert.Nil(t, cfg.MCPServers[ServerName].Env)

	status, err := GetStatus(path)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.False(t, status.BinaryExists)
}

func TestGetStatus_NotRegistered(t *testing.T) {
	status, err := GetStatus(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.False(t, status.Registered)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Register(path, Options{BinaryPath: "/bin/true"})
	assert.Error(t, err)
}
