package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telestoworld/telestoworld-rpc/rpc"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "send_encoding: json\nlog_console: true\nplugins: [Foo, Bar]\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, rpc.EncodingJSON, cfg.SendEncoding())
	require.True(t, cfg.LogConsole())
	require.Equal(t, []string{"Foo", "Bar"}, cfg.Plugins())
}

func TestLoadDefaultsToMessagePackEncoding(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "plugins: [Foo]\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, rpc.EncodingMessagePack, cfg.SendEncoding())
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "plugins: [Foo]\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	watcher, err := cfg.Watch()
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte("plugins: [Foo, Bar]\n"), 0o644))

	require.Eventually(t, func() bool {
		return len(cfg.Plugins()) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
