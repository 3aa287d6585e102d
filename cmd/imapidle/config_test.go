package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	data := `
server:
  addr: imap.example.org:993
  tls: true
  username: alice
monitor:
  mailbox: Archive
  timeout: 10m
  retry:
    max_delay: 1m
websocket:
  listen: localhost:8080
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.org:993", cfg.Server.Addr)
	assert.True(t, cfg.Server.TLS)
	assert.Equal(t, "alice", cfg.Server.Username)
	assert.Equal(t, "Archive", cfg.Monitor.Mailbox)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.Timeout)
	assert.Equal(t, time.Minute, cfg.Monitor.Retry.MaxDelay)
	assert.Equal(t, "localhost:8080", cfg.WebSocket.Listen)

	// Defaults are kept for missing fields
	assert.Equal(t, time.Second, cfg.Monitor.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Monitor.Retry.BackoffFactor)
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, "INBOX", cfg.Monitor.Mailbox)
}

func TestLoad_invalid(t *testing.T) {
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("monitor: [\n"), 0o644))
	_, err := Load(cfgPath)
	assert.Error(t, err)

	cfgPath = filepath.Join(dir, "empty-mailbox.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("monitor:\n  mailbox: \"\"\n"), 0o644))
	_, err = Load(cfgPath)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
