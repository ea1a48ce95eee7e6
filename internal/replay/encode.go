package replay

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// Encode serializes rep in the payload format, computing both section
// sizes and checksums. The size and CRC fields of rep are ignored.
// A nil Body encodes an empty content section.
func Encode(rep *Replay) ([]byte, error) {
	var header []byte
	header = binary.LittleEndian.AppendUint32(header, rep.MajorVersion)
	header = binary.LittleEndian.AppendUint32(header, rep.MinorVersion)
	if hasNetVersion(rep.MajorVersion, rep.MinorVersion) {
		var net uint32
		if rep.NetVersion != nil {
			net = *rep.NetVersion
		}
		header = binary.LittleEndian.AppendUint32(header, net)
	}
	header = appendString(header, rep.GameType)
	header, err := appendProperties(header, rep.Properties)
	if err != nil {
		return nil, err
	}

	content := appendBody(nil, rep.Body)

	out := make([]byte, 0, 16+len(header)+len(content))
	out = appendSection(out, header)
	out = appendSection(out, content)
	return out, nil
}

func appendSection(dst, section []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(section))) //nolint:gosec // sections are far below 4GiB
	dst = binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(section))
	return append(dst, section...)
}

func appendString(dst []byte, s string) []byte {
	if s == "" {
		return binary.LittleEndian.AppendUint32(dst, 0)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)+1)) //nolint:gosec // bounded by maxStringLen in practice
	dst = append(dst, s...)
	return append(dst, 0)
}

func appendProperties(dst []byte, ps Properties) ([]byte, error) {
	for _, p := range ps {
		kind, val, err := encodeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", p.Key, err)
		}
		dst = appendString(dst, p.Key)
		dst = appendString(dst, kind)
		dst = binary.LittleEndian.AppendUint64(dst, uint64(len(val)))
		dst = append(dst, val...)
	}
	return appendString(dst, "None"), nil
}

func encodeValue(v any) (kind string, val []byte, err error) {
	switch v := v.(type) {
	case int32:
		return "IntProperty", binary.LittleEndian.AppendUint32(nil, uint32(v)), nil //nolint:gosec // two's complement
	case string:
		return "StrProperty", appendString(nil, v), nil
	case Name:
		return "NameProperty", appendString(nil, string(v)), nil
	case bool:
		if v {
			return "BoolProperty", []byte{1}, nil
		}
		return "BoolProperty", []byte{0}, nil
	case float32:
		return "FloatProperty", binary.LittleEndian.AppendUint32(nil, math.Float32bits(v)), nil
	case uint64:
		return "QWordProperty", binary.LittleEndian.AppendUint64(nil, v), nil
	case ByteValue:
		val = appendString(nil, v.Kind)
		return "ByteProperty", appendString(val, v.Value), nil
	case []Properties:
		val = binary.LittleEndian.AppendUint32(nil, uint32(len(v))) //nolint:gosec // element count is small
		for _, elem := range v {
			if val, err = appendProperties(val, elem); err != nil {
				return "", nil, err
			}
		}
		return "ArrayProperty", val, nil
	default:
		return "", nil, fmt.Errorf("unsupported property value %T", v)
	}
}

func appendBody(dst []byte, body *Body) []byte {
	if body == nil {
		body = &Body{}
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body.Levels))) //nolint:gosec // small counts
	for _, level := range body.Levels {
		dst = appendString(dst, level)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body.Keyframes))) //nolint:gosec // small counts
	for _, kf := range body.Keyframes {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(kf.Time))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(kf.Frame))    //nolint:gosec // two's complement
		dst = binary.LittleEndian.AppendUint32(dst, uint32(kf.Position)) //nolint:gosec // two's complement
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(body.NetworkSize)) //nolint:gosec // caller-controlled test sizes
	return append(dst, make([]byte, body.NetworkSize)...)
}
