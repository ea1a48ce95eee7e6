package replay

import (
	"errors"
	"fmt"
)

// Sentinel errors for payload decoding.
var (
	// ErrInsufficientData is returned when a field runs past the payload.
	ErrInsufficientData = errors.New("replay: insufficient data")

	// ErrStringTooLong is returned for strings over maxStringLen.
	ErrStringTooLong = errors.New("replay: string too long")

	// ErrUnknownProperty is returned for property kinds the decoder lacks.
	ErrUnknownProperty = errors.New("replay: unknown property kind")

	// ErrNestingTooDeep is returned when array properties nest too deeply.
	ErrNestingTooDeep = errors.New("replay: property nesting too deep")

	// ErrCrcMismatch is returned when a section checksum does not match.
	ErrCrcMismatch = errors.New("replay: crc mismatch")
)

// ParseError locates a decode failure inside the payload.
type ParseError struct {
	Section string // "header" or "body"
	Offset  int
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", e.Section, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CrcMismatchError reports a section whose checksum does not match.
type CrcMismatchError struct {
	Section  string
	Expected uint32
	Actual   uint32
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("%s crc mismatch. Expected %d but received %d", e.Section, e.Expected, e.Actual)
}

// Is reports ErrCrcMismatch as a match.
func (e *CrcMismatchError) Is(target error) bool { return target == ErrCrcMismatch }
