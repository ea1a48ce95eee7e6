// Package replay decodes replay payloads.
//
// A payload is two CRC-protected sections, each prefixed by its size and
// checksum (all integers little-endian):
//
//	u32 header_size | u32 header_crc | header
//	u32 content_size | u32 content_crc | content
//
// The header holds the version numbers, the game type and a property list.
// The content (body) begins with the level names and keyframe table and
// ends with the opaque network stream, which is never decoded.
package replay

import (
	"bytes"
	"encoding/json"
)

// CrcCheck selects when section checksums are verified.
type CrcCheck uint8

const (
	// CrcOnError verifies checksums only when decoding fails, so that a
	// corrupt payload is reported as such rather than as a decode error.
	CrcOnError CrcCheck = iota
	// CrcAlways verifies checksums before decoding.
	CrcAlways
	// CrcNever skips verification.
	CrcNever
)

// NetworkParse selects whether the body is decoded.
type NetworkParse uint8

const (
	NetworkNever NetworkParse = iota
	NetworkAlways
)

// Options configures Parse.
type Options struct {
	Crc     CrcCheck
	Network NetworkParse
}

// Replay is a decoded payload.
type Replay struct {
	HeaderSize   int        `json:"header_size"`
	HeaderCRC    uint32     `json:"header_crc"`
	MajorVersion uint32     `json:"major_version"`
	MinorVersion uint32     `json:"minor_version"`
	NetVersion   *uint32    `json:"net_version,omitempty"`
	GameType     string     `json:"game_type"`
	Properties   Properties `json:"properties"`
	ContentSize  int        `json:"content_size"`
	ContentCRC   uint32     `json:"content_crc"`
	Body         *Body      `json:"body,omitempty"`
}

// Body is the decoded portion of the content section.
type Body struct {
	Levels      []string   `json:"levels"`
	Keyframes   []Keyframe `json:"keyframes"`
	NetworkSize int        `json:"network_size"`
}

// Keyframe points into the network stream.
type Keyframe struct {
	Time     float32 `json:"time"`
	Frame    int32   `json:"frame"`
	Position int32   `json:"position"`
}

// Property is one header key/value pair. Value holds one of int32, string,
// Name, bool, float32, uint64, ByteValue or []Properties.
type Property struct {
	Key   string
	Value any
}

// Name is the value of a name property. It encodes like a string.
type Name string

// ByteValue is the value of a byte (enum) property.
type ByteValue struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Properties is an ordered property list. It encodes as a JSON object whose
// keys keep their payload order.
type Properties []Property

// Get returns the value of the first property named key.
func (ps Properties) Get(key string) (any, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler. Keys keep their order and are
// written without HTML escaping.
func (ps Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	encode := func(v any) error {
		if err := enc.Encode(v); err != nil {
			return err
		}
		buf.Truncate(buf.Len() - 1) // Encode appends a newline
		return nil
	}

	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(p.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encode(p.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
