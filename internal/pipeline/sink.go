package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/vertti/rrstream/internal/encoder"
)

// Mode selects how a Sink renders results.
type Mode uint8

const (
	// ModeJSONLines writes one JSON document per parsed entry.
	ModeJSONLines Mode = iota
	// ModeReport writes one status line per entry and no replay data.
	ModeReport
	// ModeFiles writes each parsed entry to <name>.json next to its source.
	ModeFiles
)

func (m Mode) String() string {
	switch m {
	case ModeJSONLines:
		return "json-lines"
	case ModeReport:
		return "report"
	case ModeFiles:
		return "files"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

type flusher interface {
	Flush() error
}

// Sink is the single consumer of results. It is not safe for concurrent use;
// the pipeline only ever calls it from the collector goroutine.
type Sink struct {
	mode    Mode
	out     io.Writer
	diag    io.Writer
	pretty  bool
	scratch []byte
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithPretty indents per-entry files. It has no effect on JSON lines.
func WithPretty(pretty bool) SinkOption {
	return func(s *Sink) {
		s.pretty = pretty
	}
}

// NewSink creates a sink writing records to out and failures to diag.
func NewSink(mode Mode, out, diag io.Writer, opts ...SinkOption) *Sink {
	s := &Sink{
		mode:    mode,
		out:     out,
		diag:    diag,
		scratch: make([]byte, 0, 64*1024),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put renders one result. It returns the result as finally classified: a
// success that cannot be serialized comes back as a Serialize failure. The
// error is non-nil only when writing to out or diag failed.
func (s *Sink) Put(res Result) (Result, error) {
	if res.OK() {
		var err error
		switch s.mode {
		case ModeReport:
			_, err = fmt.Fprintf(s.out, "parsed %s\n", res.Name)
			return res, err
		case ModeJSONLines:
			res, err = s.putLine(res)
		case ModeFiles:
			res = s.putFile(res)
		}
		if err != nil || res.OK() {
			return res, err
		}
	}
	_, err := fmt.Fprintf(s.diag, "failed %v\n", res.Err)
	return res, err
}

func (s *Sink) putLine(res Result) (Result, error) {
	line, err := encoder.AppendEntry(s.scratch[:0], res.Name, res.Digest, res.Replay)
	s.scratch = line
	if err != nil {
		return failure(res.Name, StageSerialize, err), nil
	}
	if _, err := s.out.Write(line); err != nil {
		return res, err
	}
	if f, ok := s.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Sink) putFile(res Result) Result {
	if err := writeReplayFile(res.Name+".json", res, s.pretty); err != nil {
		return failure(res.Name, StageSerialize, err)
	}
	return res
}

func writeReplayFile(path string, res Result, pretty bool) error {
	f, err := os.Create(path) //nolint:gosec // path derived from user-supplied input
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := encoder.WriteReplay(f, res.Replay, pretty); err != nil {
		_ = f.Close() //nolint:errcheck // write error takes precedence
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	return nil
}

// IsBrokenPipe reports whether err means the reader of the output went away.
func IsBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}

// collect drains results into sink until the channel is closed. After the
// output reports a broken pipe it cancels the run and keeps draining without
// writing, so the producer and workers never block on a full channel.
func collect(results <-chan Result, sink *Sink, cancel func(), log *slog.Logger, m *Metrics) (Summary, error) {
	var (
		summary Summary
		sinkErr error
		closed  bool
	)
	for res := range results {
		if !closed {
			var err error
			res, err = sink.Put(res)
			switch {
			case err == nil:
			case IsBrokenPipe(err):
				log.Debug("output closed, cancelling run")
				closed = true
				summary.Cancelled = true
				cancel()
			default:
				closed = true
				sinkErr = fmt.Errorf("writing output: %w", err)
				cancel()
			}
		}
		if !res.OK() {
			log.Debug("entry failed",
				slog.String("entry", res.Name),
				slog.String("stage", res.Err.Stage.String()),
				slog.Any("error", res.Err.Err))
		}
		summary.add(res)
		m.observe(res)
	}
	return summary, sinkErr
}
