package pipeline

import (
	"errors"
	"fmt"
)

// Stage names the step at which an entry failed.
type Stage uint8

const (
	StageLocate Stage = iota + 1
	StageOversize
	StageRead
	StageIntegrity
	StageParse
	StageSerialize
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageLocate, StageOversize, StageRead, StageIntegrity, StageParse, StageSerialize}

func (s Stage) String() string {
	switch s {
	case StageLocate:
		return "Locate"
	case StageOversize:
		return "Oversize"
	case StageRead:
		return "Read"
	case StageIntegrity:
		return "Integrity"
	case StageParse:
		return "Parse"
	case StageSerialize:
		return "Serialize"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Sentinel causes for entry failures raised by the pipeline itself.
var (
	// ErrOversize is returned when an entry's declared size exceeds the
	// configured ceiling.
	ErrOversize = errors.New("entry too large")

	// ErrChecksumMismatch is returned when decompressed bytes do not match
	// the declared CRC-32.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrSizeMismatch is returned when the decompressed length differs from
	// the declared size.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrDecompression is returned for malformed compressed streams.
	ErrDecompression = errors.New("decompression failed")

	// ErrUnsupportedMethod is returned for compression methods other than
	// store, deflate and zstd.
	ErrUnsupportedMethod = errors.New("unsupported compression method")
)

// EntryError is a failure isolated to one entry.
type EntryError struct {
	Name  string
	Stage Stage
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }
