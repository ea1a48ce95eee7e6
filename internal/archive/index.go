// Package archive indexes a ZIP container of replay payloads.
//
// The central directory is read once into a compact table. Normalized entry
// names are concatenated into a single string, so Name never allocates. The
// zip reader is retained because locating an entry needs its local header
// offset.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	// maxEntriesHint caps the pre-allocation derived from the directory's
	// entry count.
	maxEntriesHint = 1_000_000

	// avgNameLen is the expected name length used to size the name table.
	avgNameLen = 52
)

// Compression methods understood by the pipeline.
const (
	MethodStore   = zip.Store
	MethodDeflate = zip.Deflate
	MethodZstd    = 93 // WinZip zstd
)

// OpenError reports an archive whose container or directory could not be
// read. No entry can be recovered from such an archive.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("open archive: %v", e.Err)
	}
	return fmt.Sprintf("open archive %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Locator is an opaque token that finds an entry again without rescanning
// the directory.
type Locator struct {
	pos int
}

// Entry describes one non-directory member of the archive.
type Entry struct {
	nameStart, nameEnd int

	Locator          Locator
	Method           uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// Index is the immutable directory table of an archive.
// It is safe for concurrent use.
type Index struct {
	zr      *zip.Reader // owns the per-entry directory records
	src     io.ReaderAt
	closer  io.Closer
	names   string
	entries []Entry
}

// Open opens the archive at name and indexes it.
func Open(name string) (*Index, error) {
	f, err := os.Open(name) //nolint:gosec // CLI tool opens user-specified archives
	if err != nil {
		return nil, &OpenError{Path: name, Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &OpenError{Path: name, Err: err}
	}

	ix, err := NewIndex(f, fi.Size())
	if err != nil {
		_ = f.Close()
		var oe *OpenError
		if errors.As(err, &oe) {
			oe.Path = name
		}
		return nil, err
	}
	ix.closer = f
	return ix, nil
}

// NewIndex reads the directory of the archive held in r.
func NewIndex(r io.ReaderAt, size int64) (*Index, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, &OpenError{Err: err}
	}

	hint := min(len(zr.File), maxEntriesHint)
	var names strings.Builder
	names.Grow(hint * avgNameLen)
	entries := make([]Entry, 0, hint)

	for i, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := normalizeName(f.Name)
		start := names.Len()
		names.WriteString(name)
		entries = append(entries, Entry{
			nameStart:        start,
			nameEnd:          names.Len(),
			Locator:          Locator{pos: i},
			Method:           f.Method,
			CRC32:            f.CRC32,
			CompressedSize:   f.CompressedSize64,
			UncompressedSize: f.UncompressedSize64,
		})
	}

	return &Index{
		zr:      zr,
		src:     r,
		names:   names.String(),
		entries: entries,
	}, nil
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Entries returns the indexed entries in directory order.
// The returned slice must not be modified.
func (ix *Index) Entries() []Entry { return ix.entries }

// Name returns the normalized name of e. The string shares the index's name
// table and does not allocate.
func (ix *Index) Name(e Entry) string { return ix.names[e.nameStart:e.nameEnd] }

// Handle gives random access to the raw (still compressed) bytes of an entry.
type Handle struct {
	src    io.ReaderAt
	Offset int64
	Size   int64
}

// Reader returns a reader over the entry's raw bytes.
func (h Handle) Reader() *io.SectionReader {
	return io.NewSectionReader(h.src, h.Offset, h.Size)
}

// Locate resolves loc to a live handle. It reads the entry's local header,
// so it fails for entries whose header is damaged.
func (ix *Index) Locate(loc Locator) (Handle, error) {
	if loc.pos < 0 || loc.pos >= len(ix.zr.File) {
		return Handle{}, fmt.Errorf("locator %d out of range", loc.pos)
	}
	f := ix.zr.File[loc.pos]
	off, err := f.DataOffset()
	if err != nil {
		return Handle{}, fmt.Errorf("local header: %w", err)
	}
	if f.CompressedSize64 > 1<<62 {
		return Handle{}, fmt.Errorf("compressed size %d out of range", f.CompressedSize64)
	}
	return Handle{src: ix.src, Offset: off, Size: int64(f.CompressedSize64)}, nil //nolint:gosec // bounded above
}

// Close releases the underlying file when the index was created by Open.
func (ix *Index) Close() error {
	if ix.closer == nil {
		return nil
	}
	return ix.closer.Close()
}

// normalizeName turns an archive path into a slash-separated relative path
// that cannot escape its root.
func normalizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}
