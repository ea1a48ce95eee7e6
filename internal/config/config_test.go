package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/rrstream/internal/pipeline"
	"github.com/vertti/rrstream/internal/replay"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rrstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, replay.Options{Crc: replay.CrcOnError, Network: replay.NetworkNever}, cfg.ReplayOptions())
	assert.Equal(t, uint64(20_000_000), cfg.MaxEntrySize)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
workers: 6
crc_check: always
network_parse: always
logging:
  level: debug
metrics:
  pushgateway: http://localhost:9091
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, uint64(pipeline.DefaultMaxEntrySize), cfg.MaxEntrySize, "missing keys keep defaults")
	assert.Equal(t, "rrstream", cfg.Metrics.Job)
	assert.Equal(t, "http://localhost:9091", cfg.Metrics.Pushgateway)
	assert.Equal(t, replay.Options{Crc: replay.CrcAlways, Network: replay.NetworkAlways}, cfg.ReplayOptions())

	level, err := ParseLevel(cfg.Logging.Level)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
workers: -1
max_entry_size: 0
crc_check: sometimes
network_parse: maybe
logging:
  level: loud
`)

	_, err := Load(path)
	require.Error(t, err)
	for _, want := range []string{"workers", "max_entry_size", "crc_check", "network_parse", "log level"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadMalformed(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "workers: [1, 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestParseCrcCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want replay.CrcCheck
		ok   bool
	}{
		{"", replay.CrcOnError, true},
		{"on-error", replay.CrcOnError, true},
		{"ALWAYS", replay.CrcAlways, true},
		{"never", replay.CrcNever, true},
		{"twice", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseCrcCheck(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
