package pipeline

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/rrstream/internal/replay"
)

func okResult(name string) Result {
	return Result{
		Name:   name,
		Digest: digest.FromString(name),
		Replay: &replay.Replay{
			MajorVersion: 868,
			MinorVersion: 12,
			GameType:     "TAGame.Replay_Soccar_TA",
			Properties:   replay.Properties{{Key: "TeamSize", Value: int32(2)}},
		},
	}
}

type flushWriter struct {
	bytes.Buffer
	flushes int
}

func (w *flushWriter) Flush() error {
	w.flushes++
	return nil
}

func TestSinkReport(t *testing.T) {
	t.Parallel()

	var out, diag bytes.Buffer
	s := NewSink(ModeReport, &out, &diag)

	_, err := s.Put(okResult("a.replay"))
	require.NoError(t, err)
	_, err = s.Put(failure("b.replay", StageParse, errors.New("boom")))
	require.NoError(t, err)

	assert.Equal(t, "parsed a.replay\n", out.String())
	assert.Equal(t, "failed b.replay: Parse: boom\n", diag.String())
}

func TestSinkJSONLinesFlushesEachRecord(t *testing.T) {
	t.Parallel()

	out := &flushWriter{}
	var diag bytes.Buffer
	s := NewSink(ModeJSONLines, out, &diag, WithPretty(true))

	for _, name := range []string{"a", "b", "c"} {
		res, err := s.Put(okResult(name))
		require.NoError(t, err)
		assert.True(t, res.OK())
	}

	assert.Equal(t, 3, out.flushes)
	assert.Len(t, lines(out.String()), 3, "pretty is ignored for JSON lines")
	assert.Empty(t, diag.String())
}

func TestSinkJSONLinesReusesScratch(t *testing.T) {
	t.Parallel()

	var out, diag bytes.Buffer
	s := NewSink(ModeJSONLines, &out, &diag)
	before := cap(s.scratch)

	_, err := s.Put(okResult("a"))
	require.NoError(t, err)
	_, err = s.Put(okResult("b"))
	require.NoError(t, err)
	assert.Equal(t, before, cap(s.scratch))
}

func TestSinkSerializeFailure(t *testing.T) {
	t.Parallel()

	var out, diag bytes.Buffer
	s := NewSink(ModeJSONLines, &out, &diag)

	res := okResult("nan.replay")
	res.Replay.Properties = append(res.Replay.Properties, replay.Property{Key: "x", Value: float32(math.NaN())})

	got, err := s.Put(res)
	require.NoError(t, err)
	require.False(t, got.OK())
	assert.Equal(t, StageSerialize, got.Err.Stage)
	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "failed nan.replay: Serialize: ")
}

func TestSinkFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "game.replay")

	var out, diag bytes.Buffer
	s := NewSink(ModeFiles, &out, &diag, WithPretty(true))

	res, err := s.Put(okResult(src))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, out.String())

	written, err := os.ReadFile(src + ".json")
	require.NoError(t, err)
	assert.Contains(t, string(written), "\n  \"game_type\": \"TAGame.Replay_Soccar_TA\"")
}

func TestSinkFilesUnwritable(t *testing.T) {
	t.Parallel()

	var out, diag bytes.Buffer
	s := NewSink(ModeFiles, &out, &diag)

	res, err := s.Put(okResult(filepath.Join(t.TempDir(), "missing", "game.replay")))
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, StageSerialize, res.Err.Stage)
	assert.ErrorIs(t, res.Err, os.ErrNotExist)
	assert.Contains(t, diag.String(), "creating output file")
}

func TestSinkWriteError(t *testing.T) {
	t.Parallel()

	var diag bytes.Buffer
	s := NewSink(ModeReport, &pipeWriter{}, &diag)
	_, err := s.Put(okResult("a"))
	assert.ErrorIs(t, err, syscall.EPIPE)
}

func TestIsBrokenPipe(t *testing.T) {
	t.Parallel()

	assert.True(t, IsBrokenPipe(syscall.EPIPE))
	assert.True(t, IsBrokenPipe(&os.PathError{Op: "write", Path: "/dev/stdout", Err: syscall.EPIPE}))
	assert.True(t, IsBrokenPipe(io.ErrClosedPipe))
	assert.False(t, IsBrokenPipe(io.ErrShortWrite))
	assert.False(t, IsBrokenPipe(nil))
}

func TestModeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "report", ModeReport.String())
	assert.Equal(t, "json-lines", ModeJSONLines.String())
	assert.Equal(t, "files", ModeFiles.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
}
