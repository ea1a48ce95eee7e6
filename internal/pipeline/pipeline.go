// Package pipeline streams the entries of a replay archive through parallel
// decompression, integrity checking and parsing into a single result sink.
//
// One producer goroutine walks the archive index and reads raw entry bytes
// into pooled buffers. A fixed set of workers drains the bounded work
// channel, each with its own inflate buffer and decoders, and hands results
// to one collector that owns all output. Every indexed entry produces
// exactly one Result; failures are data, not aborts.
package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/vertti/rrstream/internal/archive"
	"github.com/vertti/rrstream/internal/bufpool"
	"github.com/vertti/rrstream/internal/replay"
)

// DefaultMaxEntrySize is the default ceiling on an entry's declared size.
const DefaultMaxEntrySize = 20 * 1000 * 1000

// ParseFunc decodes a verified payload. It must not retain data.
type ParseFunc func(data []byte, opts replay.Options) (*replay.Replay, error)

// Options configures a run.
type Options struct {
	Workers      int            // Parallel workers (default: NumCPU, at least 2)
	MaxEntrySize uint64         // Declared size ceiling (default: DefaultMaxEntrySize)
	Replay       replay.Options // Passed through to Parse
	Parse        ParseFunc      // Payload parser (default: replay.Parse)
	Logger       *slog.Logger   // Default: discard
	Metrics      *Metrics       // Optional
}

func (o *Options) withDefaults() *Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Workers <= 0 {
		out.Workers = max(runtime.NumCPU(), 2)
	}
	if out.MaxEntrySize == 0 {
		out.MaxEntrySize = DefaultMaxEntrySize
	}
	if out.Parse == nil {
		out.Parse = replay.Parse
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.DiscardHandler)
	}
	return &out
}

// parseEntry runs the parser over verified bytes.
func (o *Options) parseEntry(name string, data []byte) Result {
	rep, err := o.Parse(data, o.Replay)
	if err != nil {
		return failure(name, StageParse, err)
	}
	return Result{Name: name, Replay: rep, Digest: digest.FromBytes(data)}
}

// Result is the outcome for one entry: a parsed replay or an EntryError.
type Result struct {
	Name   string
	Replay *replay.Replay
	Digest digest.Digest // of the decompressed payload
	Err    *EntryError
}

// OK reports whether the entry parsed.
func (r Result) OK() bool { return r.Err == nil }

func failure(name string, stage Stage, err error) Result {
	return Result{Name: name, Err: &EntryError{Name: name, Stage: stage, Err: err}}
}

// Summary tallies a run.
type Summary struct {
	Entries   int
	Parsed    int
	Failed    int
	ByStage   map[Stage]int
	Cancelled bool // output closed or context cancelled before completion
	Buffers   bufpool.Stats
}

func (s *Summary) add(res Result) {
	s.Entries++
	if res.OK() {
		s.Parsed++
		return
	}
	s.Failed++
	if s.ByStage == nil {
		s.ByStage = make(map[Stage]int)
	}
	s.ByStage[res.Err.Stage]++
}

func (s Summary) logAttrs() []any {
	return []any{
		slog.Int("entries", s.Entries),
		slog.Int("parsed", s.Parsed),
		slog.Int("failed", s.Failed),
		slog.Bool("cancelled", s.Cancelled),
		slog.Int64("buffers_allocated", s.Buffers.Allocs),
		slog.Int64("buffers_peak", s.Buffers.Peak),
	}
}

// Run processes every entry of ix and delivers the results to sink.
//
// Per-entry failures are reported through the sink and counted in the
// summary; they never make Run fail. Run returns an error only when a worker
// cannot start, when writing output fails for a reason other than the
// reader going away, or when ctx is cancelled.
func Run(ctx context.Context, ix *archive.Index, sink *Sink, opts *Options) (Summary, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(slog.String("run", ksuid.New().String()))
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Raw buffers in flight: one in the producer, workers-1 queued, one per
	// worker until it has inflated its entry.
	pool := bufpool.New(2*opts.Workers + 2)
	work := make(chan rawEntry, max(opts.Workers-1, 1))
	results := make(chan Result, opts.Workers)

	log.Debug("processing archive",
		slog.Int("entries", ix.Len()),
		slog.Int("workers", opts.Workers))

	g, gctx := errgroup.WithContext(runCtx)

	for range opts.Workers {
		g.Go(func() error {
			return runWorker(opts, work, results)
		})
	}

	p := &producer{
		ix:      ix,
		pool:    pool,
		maxSize: opts.MaxEntrySize,
		log:     log,
	}
	g.Go(func() error {
		return p.run(gctx, work, results)
	})

	var summary Summary
	var sinkErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		summary, sinkErr = collect(results, sink, cancel, log, opts.Metrics)
	}()

	workerErr := g.Wait()
	close(results)
	<-collectorDone

	summary.Buffers = pool.Stats()
	if ctx.Err() != nil {
		summary.Cancelled = true
	}
	opts.Metrics.finish(summary, time.Since(start))
	log.Info("archive processed", summary.logAttrs()...)

	if workerErr != nil {
		return summary, workerErr
	}
	if sinkErr != nil {
		return summary, sinkErr
	}
	return summary, ctx.Err()
}
