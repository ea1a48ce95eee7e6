package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"unicode/utf16"
)

const (
	maxStringLen = 10_000
	maxDepth     = 8

	sectionHeader = "header"
	sectionBody   = "body"
)

// Parse decodes a payload. The returned Replay does not reference data, so
// the caller may reuse the buffer as soon as Parse returns.
func Parse(data []byte, opts Options) (*Replay, error) {
	if opts.Crc == CrcAlways {
		if err := VerifyCrc(data); err != nil {
			return nil, err
		}
	}

	rep, err := decode(data, opts.Network)
	if err != nil {
		if opts.Crc == CrcOnError {
			if crcErr := VerifyCrc(data); errors.Is(crcErr, ErrCrcMismatch) {
				return nil, crcErr
			}
		}
		return nil, err
	}
	return rep, nil
}

// VerifyCrc checks both section checksums.
func VerifyCrc(data []byte) error {
	s, err := split(data)
	if err != nil {
		return err
	}
	if got := crc32.ChecksumIEEE(s.header); got != s.headerCRC {
		return &CrcMismatchError{Section: sectionHeader, Expected: s.headerCRC, Actual: got}
	}
	if got := crc32.ChecksumIEEE(s.content); got != s.contentCRC {
		return &CrcMismatchError{Section: sectionBody, Expected: s.contentCRC, Actual: got}
	}
	return nil
}

// sections is a payload cut along its size prefixes.
type sections struct {
	headerCRC  uint32
	header     []byte
	contentOff int
	contentCRC uint32
	content    []byte
}

func split(data []byte) (sections, error) {
	var s sections

	d := &decoder{buf: data, section: sectionHeader}
	headerSize, err := d.u32()
	if err != nil {
		return s, err
	}
	if s.headerCRC, err = d.u32(); err != nil {
		return s, err
	}
	if s.header, err = d.take(int64(headerSize)); err != nil {
		return s, err
	}

	d.section = sectionBody
	contentSize, err := d.u32()
	if err != nil {
		return s, err
	}
	if s.contentCRC, err = d.u32(); err != nil {
		return s, err
	}
	s.contentOff = d.off
	if s.content, err = d.take(int64(contentSize)); err != nil {
		return s, err
	}
	return s, nil
}

func decode(data []byte, network NetworkParse) (*Replay, error) {
	s, err := split(data)
	if err != nil {
		return nil, err
	}

	rep := &Replay{
		HeaderSize:  len(s.header),
		HeaderCRC:   s.headerCRC,
		ContentSize: len(s.content),
		ContentCRC:  s.contentCRC,
	}

	h := &decoder{buf: s.header, base: 8, section: sectionHeader}
	if err := h.header(rep); err != nil {
		return nil, err
	}

	if network == NetworkAlways {
		b := &decoder{buf: s.content, base: s.contentOff, section: sectionBody}
		if rep.Body, err = b.body(); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// decoder is a bounds-checked cursor over one section.
type decoder struct {
	buf     []byte
	off     int
	base    int // offset of buf within the payload, for error reporting
	section string
}

func (d *decoder) fail(err error) error {
	return &ParseError{Section: d.section, Offset: d.base + d.off, Err: err}
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) take(n int64) ([]byte, error) {
	if n < 0 || n > int64(d.remaining()) {
		return nil, d.fail(ErrInsufficientData)
	}
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

func (d *decoder) u8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) i32() (int32, error) {
	v, err := d.u32()
	return int32(v), err //nolint:gosec // two's complement reinterpretation
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *decoder) f32() (float32, error) {
	v, err := d.u32()
	return math.Float32frombits(v), err
}

// str reads a length-prefixed, NUL-terminated string. A negative length
// announces UTF-16LE code units.
func (d *decoder) str() (string, error) {
	start := d.off
	n, err := d.i32()
	if err != nil {
		return "", err
	}
	switch {
	case n == 0:
		return "", nil
	case n > maxStringLen || n < -maxStringLen:
		d.off = start
		return "", d.fail(fmt.Errorf("%w: %d", ErrStringTooLong, n))
	case n > 0:
		b, err := d.take(int64(n))
		if err != nil {
			return "", err
		}
		if b[len(b)-1] == 0 {
			b = b[:len(b)-1]
		}
		return string(b), nil
	default:
		b, err := d.take(int64(-n) * 2)
		if err != nil {
			return "", err
		}
		units := make([]uint16, -n)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
		if units[len(units)-1] == 0 {
			units = units[:len(units)-1]
		}
		return string(utf16.Decode(units)), nil
	}
}

func (d *decoder) header(rep *Replay) error {
	var err error
	if rep.MajorVersion, err = d.u32(); err != nil {
		return err
	}
	if rep.MinorVersion, err = d.u32(); err != nil {
		return err
	}
	if hasNetVersion(rep.MajorVersion, rep.MinorVersion) {
		net, err := d.u32()
		if err != nil {
			return err
		}
		rep.NetVersion = &net
	}
	if rep.GameType, err = d.str(); err != nil {
		return err
	}
	rep.Properties, err = d.properties(0)
	return err
}

func hasNetVersion(major, minor uint32) bool {
	return major >= 868 && minor >= 18
}

func (d *decoder) properties(depth int) (Properties, error) {
	if depth > maxDepth {
		return nil, d.fail(ErrNestingTooDeep)
	}

	var ps Properties
	for {
		key, err := d.str()
		if err != nil {
			return nil, err
		}
		if key == "None" {
			return ps, nil
		}
		kind, err := d.str()
		if err != nil {
			return nil, err
		}
		if _, err := d.u64(); err != nil { // value size, implied by kind
			return nil, err
		}
		val, err := d.value(kind, depth)
		if err != nil {
			return nil, err
		}
		ps = append(ps, Property{Key: key, Value: val})
	}
}

func (d *decoder) value(kind string, depth int) (any, error) {
	switch kind {
	case "IntProperty":
		return d.i32()
	case "StrProperty":
		return d.str()
	case "NameProperty":
		s, err := d.str()
		return Name(s), err
	case "BoolProperty":
		b, err := d.u8()
		return b != 0, err
	case "FloatProperty":
		return d.f32()
	case "QWordProperty":
		return d.u64()
	case "ByteProperty":
		k, err := d.str()
		if err != nil {
			return nil, err
		}
		v, err := d.str()
		if err != nil {
			return nil, err
		}
		return ByteValue{Kind: k, Value: v}, nil
	case "ArrayProperty":
		n, err := d.i32()
		if err != nil {
			return nil, err
		}
		// Every element needs at least its "None" terminator.
		if n < 0 || int64(n)*4 > int64(d.remaining()) {
			return nil, d.fail(ErrInsufficientData)
		}
		elems := make([]Properties, 0, n)
		for range n {
			ps, err := d.properties(depth + 1)
			if err != nil {
				return nil, err
			}
			elems = append(elems, ps)
		}
		return elems, nil
	default:
		return nil, d.fail(fmt.Errorf("%w: %q", ErrUnknownProperty, kind))
	}
}

func (d *decoder) body() (*Body, error) {
	body := &Body{}

	n, err := d.i32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int64(n)*4 > int64(d.remaining()) {
		return nil, d.fail(ErrInsufficientData)
	}
	body.Levels = make([]string, 0, n)
	for range n {
		level, err := d.str()
		if err != nil {
			return nil, err
		}
		body.Levels = append(body.Levels, level)
	}

	if n, err = d.i32(); err != nil {
		return nil, err
	}
	if n < 0 || int64(n)*12 > int64(d.remaining()) {
		return nil, d.fail(ErrInsufficientData)
	}
	body.Keyframes = make([]Keyframe, n)
	for i := range body.Keyframes {
		kf := &body.Keyframes[i]
		if kf.Time, err = d.f32(); err != nil {
			return nil, err
		}
		if kf.Frame, err = d.i32(); err != nil {
			return nil, err
		}
		if kf.Position, err = d.i32(); err != nil {
			return nil, err
		}
	}

	size, err := d.u32()
	if err != nil {
		return nil, err
	}
	if _, err := d.take(int64(size)); err != nil {
		return nil, err
	}
	body.NetworkSize = int(size)
	return body, nil
}
