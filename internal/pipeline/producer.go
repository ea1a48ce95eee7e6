package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vertti/rrstream/internal/archive"
	"github.com/vertti/rrstream/internal/bufpool"
)

// rawEntry is an entry's compressed bytes on their way to a worker.
// The worker that receives it owns buf and must release it.
type rawEntry struct {
	name     string
	buf      *bufpool.Buffer
	verifier verifier
}

// producer reads raw entries from the archive in index order.
type producer struct {
	ix      *archive.Index
	pool    *bufpool.Pool
	maxSize uint64
	log     *slog.Logger
}

// run feeds work until the index is exhausted or ctx is cancelled. Entries
// that fail before reaching a worker are sent straight to results.
func (p *producer) run(ctx context.Context, work chan<- rawEntry, results chan<- Result) error {
	defer close(work)

	for i, e := range p.ix.Entries() {
		if ctx.Err() != nil {
			p.log.Debug("producer stopped", slog.Int("remaining", p.ix.Len()-i))
			return nil
		}

		raw, res := p.read(e)
		if res != nil {
			select {
			case results <- *res:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		select {
		case work <- raw:
		case <-ctx.Done():
			raw.buf.Release()
			p.log.Debug("producer stopped", slog.Int("remaining", p.ix.Len()-i))
			return nil
		}
	}
	return nil
}

// read locates e, applies the size ceiling and reads its raw bytes into a
// pooled buffer.
func (p *producer) read(e archive.Entry) (rawEntry, *Result) {
	name := p.ix.Name(e)

	h, err := p.ix.Locate(e.Locator)
	if err != nil {
		res := failure(name, StageLocate, err)
		return rawEntry{}, &res
	}

	if size := max(e.CompressedSize, e.UncompressedSize); size > p.maxSize {
		res := failure(name, StageOversize, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrOversize, size, p.maxSize))
		return rawEntry{}, &res
	}

	buf := p.pool.Get(int(e.CompressedSize)) //nolint:gosec // bounded by maxSize
	if _, err := io.ReadFull(h.Reader(), buf.Bytes()); err != nil {
		buf.Release()
		res := failure(name, StageRead, fmt.Errorf("read failed: %w", err))
		return rawEntry{}, &res
	}

	return rawEntry{
		name: name,
		buf:  buf,
		verifier: verifier{
			method: e.Method,
			crc:    e.CRC32,
			size:   e.UncompressedSize,
		},
	}, nil
}
