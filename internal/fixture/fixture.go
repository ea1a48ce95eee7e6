// Package fixture builds synthetic replay archives for tests and
// benchmarks.
package fixture

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand/v2"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/vertti/rrstream/internal/archive"
	"github.com/vertti/rrstream/internal/replay"
)

// Member is one archive entry.
type Member struct {
	Name    string
	Payload []byte
	Method  uint16 // archive.MethodStore, MethodDeflate or MethodZstd

	// Corrupt stores the payload with its last byte flipped while keeping
	// the checksum of the original, so the entry decompresses but fails
	// verification.
	Corrupt bool

	// DeclaredSize, when non-zero, replaces the uncompressed size recorded
	// in the headers.
	DeclaredSize uint64
}

// Writer appends members to a ZIP archive, compressing payloads itself so
// that every method, including zstd, is written the same way.
type Writer struct {
	zw   *zip.Writer
	zenc *zstd.Encoder
	fw   *flate.Writer
	buf  bytes.Buffer
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) (*Writer, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	fw, err := flate.NewWriter(nil, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("creating deflate encoder: %w", err)
	}
	return &Writer{zw: zip.NewWriter(w), zenc: zenc, fw: fw}, nil
}

// Add writes one member.
func (w *Writer) Add(m Member) error {
	crc := crc32.ChecksumIEEE(m.Payload)
	payload := m.Payload
	if m.Corrupt && len(payload) > 0 {
		payload = bytes.Clone(payload)
		payload[len(payload)-1] ^= 0xff
	}

	raw, err := w.compress(m.Method, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}

	size := uint64(len(m.Payload))
	if m.DeclaredSize != 0 {
		size = m.DeclaredSize
	}
	fh := &zip.FileHeader{
		Name:               m.Name,
		Method:             m.Method,
		CRC32:              crc,
		CompressedSize64:   uint64(len(raw)),
		UncompressedSize64: size,
	}
	out, err := w.zw.CreateRaw(fh)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}
	if _, err := out.Write(raw); err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}
	return nil
}

func (w *Writer) compress(method uint16, payload []byte) ([]byte, error) {
	switch method {
	case archive.MethodStore:
		return payload, nil
	case archive.MethodDeflate:
		w.buf.Reset()
		w.fw.Reset(&w.buf)
		if _, err := w.fw.Write(payload); err != nil {
			return nil, err
		}
		if err := w.fw.Close(); err != nil {
			return nil, err
		}
		return bytes.Clone(w.buf.Bytes()), nil
	case archive.MethodZstd:
		return w.zenc.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("unsupported method %d", method)
	}
}

// Close writes the central directory.
func (w *Writer) Close() error {
	_ = w.zenc.Close() //nolint:errcheck // encoder only used through EncodeAll
	return w.zw.Close()
}

// WriteArchive writes members to w as a complete archive.
func WriteArchive(w io.Writer, members ...Member) error {
	fw, err := NewWriter(w)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := fw.Add(m); err != nil {
			return err
		}
	}
	return fw.Close()
}

// Archive returns members as an in-memory archive.
func Archive(members ...Member) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteArchive(&buf, members...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	maps      = []string{"stadium_p", "park_night_p", "wasteland_s_p", "trainstation_p", "beach_p"}
	platforms = []string{"OnlinePlatform_Steam", "OnlinePlatform_Epic", "OnlinePlatform_PS4"}
	players   = []string{"alice", "bob", "carol", "dave", "erin", "frank"}
)

// Replay generates a plausible replay from rng. NetworkSize bounds the size
// of the opaque network stream.
func Replay(rng *rand.Rand, networkSize int) *replay.Replay {
	net := uint32(rng.IntN(11))
	mapName := maps[rng.IntN(len(maps))]
	teamSize := int32(rng.IntN(4) + 1)

	stats := make([]replay.Properties, 0, 2*teamSize)
	for i := range 2 * teamSize {
		stats = append(stats, replay.Properties{
			{Key: "Name", Value: players[rng.IntN(len(players))]},
			{Key: "Team", Value: i % 2},
			{Key: "Goals", Value: int32(rng.IntN(5))},
			{Key: "bBot", Value: rng.IntN(10) == 0},
		})
	}

	keyframes := make([]replay.Keyframe, rng.IntN(8)+1)
	for i := range keyframes {
		keyframes[i] = replay.Keyframe{
			Time:     float32(i) * 10,
			Frame:    int32(i * 300), //nolint:gosec // small
			Position: int32(i * 4096), //nolint:gosec // small
		}
	}

	return &replay.Replay{
		MajorVersion: 868,
		MinorVersion: 29,
		NetVersion:   &net,
		GameType:     "TAGame.Replay_Soccar_TA",
		Properties: replay.Properties{
			{Key: "TeamSize", Value: teamSize},
			{Key: "MapName", Value: replay.Name(mapName)},
			{Key: "RecordFPS", Value: float32(30)},
			{Key: "NumFrames", Value: int32(rng.IntN(20000))},
			{Key: "Platform", Value: replay.ByteValue{Kind: "OnlinePlatform", Value: platforms[rng.IntN(len(platforms))]}},
			{Key: "OnlineID", Value: rng.Uint64()},
			{Key: "PlayerStats", Value: stats},
		},
		Body: &replay.Body{
			Levels:      []string{mapName},
			Keyframes:   keyframes,
			NetworkSize: rng.IntN(networkSize + 1),
		},
	}
}

// Payload generates and encodes a replay.
func Payload(rng *rand.Rand, networkSize int) ([]byte, error) {
	return replay.Encode(Replay(rng, networkSize))
}
