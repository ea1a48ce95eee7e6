package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/rrstream/internal/replay"
)

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRunFilesWritesSiblingJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := []string{
		writeFile(t, filepath.Join(dir, "a.replay"), payload(t, 1)),
		writeFile(t, filepath.Join(dir, "b.replay"), payload(t, 2)),
		writeFile(t, filepath.Join(dir, "junk.replay"), []byte("junk")),
	}

	var out, diag bytes.Buffer
	summary, err := RunFiles(context.Background(), paths, NewSink(ModeFiles, &out, &diag), &Options{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Entries)
	assert.Equal(t, 2, summary.Parsed)
	assert.Equal(t, 1, summary.ByStage[StageParse])
	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "junk.replay: Parse: ")

	for _, p := range paths[:2] {
		data, err := os.ReadFile(p + ".json")
		require.NoError(t, err)
		var rep map[string]any
		require.NoError(t, json.Unmarshal(data, &rep))
		assert.Equal(t, "TAGame.Replay_Soccar_TA", rep["game_type"])
	}
	assert.NoFileExists(t, paths[2]+".json")
	assert.Zero(t, summary.Buffers.Live)
}

func TestRunFilesJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var paths []string
	for i := range 10 {
		paths = append(paths, writeFile(t, filepath.Join(dir, strings.Repeat("r", i+1)+".replay"), payload(t, uint64(i)))) //nolint:gosec // small
	}

	var out, diag bytes.Buffer
	summary, err := RunFiles(context.Background(), paths, NewSink(ModeJSONLines, &out, &diag), nil)
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Parsed)
	assert.Len(t, lines(out.String()), 10)
	assert.Empty(t, diag.String())
}

func TestRunFilesFailureStages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	full := payload(t, 3)
	paths := []string{
		filepath.Join(dir, "missing.replay"),
		writeFile(t, filepath.Join(dir, "big.replay"), bytes.Repeat([]byte{1}, 9000)),
		writeFile(t, filepath.Join(dir, "cut.replay"), full[:len(full)/2]),
	}

	var out, diag bytes.Buffer
	summary, err := RunFiles(context.Background(), paths, NewSink(ModeReport, &out, &diag), &Options{MaxEntrySize: 8000})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Entries)
	assert.Equal(t, 1, summary.ByStage[StageLocate])
	assert.Equal(t, 1, summary.ByStage[StageOversize])
	assert.Equal(t, 1, summary.ByStage[StageParse], "a truncated payload fails to parse")
}

func TestRunFilesBrokenPipe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var paths []string
	for i := range 40 {
		paths = append(paths, writeFile(t, filepath.Join(dir, strings.Repeat("f", i+1)+".replay"), payload(t, 9)))
	}

	out := &pipeWriter{okWrites: 2}
	var diag bytes.Buffer
	summary, err := RunFiles(context.Background(), paths, NewSink(ModeReport, out, &diag), &Options{Workers: 2})
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 3, out.calls)
}

func TestParseReader(t *testing.T) {
	t.Parallel()

	data := payload(t, 4)

	res := ParseReader("-", bytes.NewReader(data), &Options{Replay: replay.Options{Network: replay.NetworkAlways}})
	require.True(t, res.OK())
	require.NotNil(t, res.Replay.Body)

	res = ParseReader("-", bytes.NewReader(data), &Options{MaxEntrySize: uint64(len(data)) - 1})
	require.False(t, res.OK())
	assert.Equal(t, StageOversize, res.Err.Stage)

	res = ParseReader("-", bytes.NewReader(data), &Options{MaxEntrySize: uint64(len(data))})
	assert.True(t, res.OK())
}

func TestRunFilesMetricsCountInflatedOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, b := payload(t, 11), payload(t, 12)
	paths := []string{
		writeFile(t, filepath.Join(dir, "a.replay"), a),
		writeFile(t, filepath.Join(dir, "b.replay"), b),
	}

	m := NewMetrics(prometheus.NewRegistry())
	var out, diag bytes.Buffer
	summary, err := RunFiles(context.Background(), paths, NewSink(ModeReport, &out, &diag), &Options{Workers: 2, Metrics: m})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Parsed)
	assert.Zero(t, testutil.ToFloat64(m.compressedBytes))
	assert.InDelta(t, len(a)+len(b), testutil.ToFloat64(m.inflatedBytes), 0)
}
