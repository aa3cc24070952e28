package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peercall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8089", cfg.Server.Addr)
	assert.Equal(t, int64(65536), cfg.Server.ReadLimit)
	assert.Equal(t, 30*time.Second, cfg.Server.PingPeriod)
	assert.Equal(t, "synthetic", cfg.Media.Source)
	assert.Zero(t, cfg.Session.ConnectTimeout)
	assert.True(t, cfg.Signal.Discover)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
server:
  addr: ":9000"
session:
  connect_timeout: 15s
media:
  source: file
  video_file: clip.ivf
`)
	t.Setenv("PEERCALL_SERVER_ADDR", ":9100")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("signal.url", "", "")
	fs.String("unrelated", "x", "")
	require.NoError(t, fs.Parse([]string{"--signal.url=ws://relay:8089"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, "clip.ivf", cfg.Media.VideoFile)
	assert.Equal(t, "ws://relay:8089", cfg.Signal.URL)
}

func TestUnchangedFlagKeepsDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("media.source", "synthetic", "")
	fs.String("server.addr", "", "")
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, ":8089", cfg.Server.Addr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
log:
  level: loud
server:
  mode: prod
media:
  source: file
`)
	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "server.mode")
	assert.Contains(t, err.Error(), "media.video_file")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, "WARN", l.String())

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
