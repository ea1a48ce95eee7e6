package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/vertti/rrstream/internal/bufpool"
)

// RunFiles parses loose replay files in parallel and delivers the results to
// sink. It follows the same contract as Run: one Result per path, failures
// are data, and only output errors or cancellation make it fail.
//
// Loose files carry no declared checksum, so there is no Integrity stage;
// payload integrity is left to the parser's own CRC check.
func RunFiles(ctx context.Context, paths []string, sink *Sink, opts *Options) (Summary, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(slog.String("run", ksuid.New().String()))
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := bufpool.New(opts.Workers)
	results := make(chan Result, opts.Workers)

	log.Debug("processing files",
		slog.Int("files", len(paths)),
		slog.Int("workers", opts.Workers))

	var summary Summary
	var sinkErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		summary, sinkErr = collect(results, sink, cancel, log, opts.Metrics)
	}()

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for _, path := range paths {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			results <- opts.parseFile(path, pool)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // file tasks report through results
	close(results)
	<-collectorDone

	summary.Buffers = pool.Stats()
	if ctx.Err() != nil {
		summary.Cancelled = true
	}
	opts.Metrics.finish(summary, time.Since(start))
	log.Info("files processed", summary.logAttrs()...)

	if sinkErr != nil {
		return summary, sinkErr
	}
	return summary, ctx.Err()
}

// parseFile reads one loose file into a pooled buffer and parses it.
func (o *Options) parseFile(path string, pool *bufpool.Pool) Result {
	f, err := os.Open(path) //nolint:gosec // path supplied by the user
	if err != nil {
		return failure(path, StageLocate, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	info, err := f.Stat()
	if err != nil {
		return failure(path, StageLocate, err)
	}
	if size := uint64(info.Size()); size > o.MaxEntrySize { //nolint:gosec // file sizes are non-negative
		return failure(path, StageOversize, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrOversize, size, o.MaxEntrySize))
	}

	buf := pool.Get(int(info.Size()))
	defer buf.Release()
	if _, err := io.ReadFull(f, buf.Bytes()); err != nil {
		return failure(path, StageRead, fmt.Errorf("read failed: %w", err))
	}
	o.Metrics.addBytes(0, buf.Len()) // loose files are not compressed
	return o.parseEntry(path, buf.Bytes())
}

// ParseReader parses a single replay read from r, such as standard input.
// Input larger than the size ceiling fails with an Oversize result.
func ParseReader(name string, r io.Reader, opts *Options) Result {
	opts = opts.withDefaults()
	data, err := io.ReadAll(io.LimitReader(r, int64(opts.MaxEntrySize)+1)) //nolint:gosec // ceiling fits in int64
	if err != nil {
		return failure(name, StageRead, fmt.Errorf("read failed: %w", err))
	}
	if uint64(len(data)) > opts.MaxEntrySize {
		return failure(name, StageOversize, fmt.Errorf("%w: input exceeds limit of %d", ErrOversize, opts.MaxEntrySize))
	}
	return opts.parseEntry(name, data)
}
