package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/vertti/rrstream/internal/archive"
)

// verifier carries what the archive declares about an entry's payload.
type verifier struct {
	method uint16
	crc    uint32
	size   uint64
}

func (v verifier) verify(data []byte) error {
	if uint64(len(data)) != v.size {
		return fmt.Errorf("%w: declared %d bytes, got %d", ErrSizeMismatch, v.size, len(data))
	}
	if got := crc32.ChecksumIEEE(data); got != v.crc {
		return fmt.Errorf("%w: declared %08x, computed %08x", ErrChecksumMismatch, v.crc, got)
	}
	return nil
}

// worker holds the per-goroutine state reused across entries.
type worker struct {
	opts    *Options
	scratch []byte
	src     *bytes.Reader
	fr      io.ReadCloser
	zd      *zstd.Decoder
}

func newWorker(opts *Options) (*worker, error) {
	zd, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(opts.MaxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &worker{
		opts: opts,
		src:  bytes.NewReader(nil),
		zd:   zd,
	}, nil
}

func (w *worker) close() {
	w.zd.Close()
	if w.fr != nil {
		_ = w.fr.Close() //nolint:errcheck // decompressor close during cleanup
	}
}

func runWorker(opts *Options, work <-chan rawEntry, results chan<- Result) error {
	w, err := newWorker(opts)
	if err != nil {
		return err
	}
	defer w.close()

	for raw := range work {
		results <- w.process(raw)
	}
	return nil
}

// process inflates, verifies and parses one entry. The raw buffer goes back
// to the pool as soon as it has been inflated.
func (w *worker) process(raw rawEntry) Result {
	compressed := raw.buf.Len()
	data, err := w.inflate(raw)
	raw.buf.Release()
	if err != nil {
		return failure(raw.name, StageIntegrity, err)
	}

	if err := raw.verifier.verify(data); err != nil {
		return failure(raw.name, StageIntegrity, err)
	}
	w.opts.Metrics.addBytes(compressed, len(data))

	return w.opts.parseEntry(raw.name, data)
}

// inflate decompresses raw into the worker's scratch buffer. The result is
// valid until the next call.
func (w *worker) inflate(raw rawEntry) ([]byte, error) {
	src := raw.buf.Bytes()

	switch raw.verifier.method {
	case archive.MethodStore:
		w.scratch = append(w.scratch[:0], src...)
		return w.scratch, nil

	case archive.MethodDeflate:
		return w.inflateDeflate(src, int(raw.verifier.size)) //nolint:gosec // bounded by the producer's size ceiling

	case archive.MethodZstd:
		out, err := w.zd.DecodeAll(src, w.scratch[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		w.scratch = out
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMethod, raw.verifier.method)
	}
}

func (w *worker) inflateDeflate(src []byte, size int) ([]byte, error) {
	if cap(w.scratch) < size {
		w.scratch = make([]byte, size)
	}
	w.scratch = w.scratch[:size]

	w.src.Reset(src)
	if w.fr == nil {
		w.fr = flate.NewReader(w.src)
	} else if err := w.fr.(flate.Resetter).Reset(w.src, nil); err != nil { //nolint:forcetypeassert // flate readers implement Resetter
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}

	n, err := io.ReadFull(w.fr, w.scratch)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// Stream ended early; verify reports the short length.
		return w.scratch[:n], nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}

	var probe [1]byte
	extra, err := w.fr.Read(probe[:])
	if extra > 0 {
		return nil, fmt.Errorf("%w: stream longer than declared %d bytes", ErrSizeMismatch, size)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return w.scratch, nil
}
