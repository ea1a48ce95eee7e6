// Package encoder serializes parsed replays as JSON.
package encoder

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/vertti/rrstream/internal/replay"
)

// entryDoc is the JSON-lines document written for one archive entry.
type entryDoc struct {
	File   string         `json:"file"`
	Digest digest.Digest  `json:"digest,omitempty"`
	Replay *replay.Replay `json:"replay"`
}

// AppendEntry appends one compact JSON document for the named entry to dst,
// terminated by a single newline. On error dst is returned truncated to its
// original length.
func AppendEntry(dst []byte, name string, dgst digest.Digest, rep *replay.Replay) ([]byte, error) {
	n := len(dst)
	buf := bytes.NewBuffer(dst)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entryDoc{File: name, Digest: dgst, Replay: rep}); err != nil {
		return dst[:n], err
	}
	return buf.Bytes(), nil
}

// WriteReplay writes rep as a single JSON document, indented when pretty is
// set.
func WriteReplay(w io.Writer, rep *replay.Replay, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(rep)
}
