package encoder

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/rrstream/internal/replay"
)

func testReplay() *replay.Replay {
	return &replay.Replay{
		HeaderSize:   1944,
		HeaderCRC:    3561912561,
		MajorVersion: 868,
		MinorVersion: 12,
		GameType:     "TAGame.Replay_Soccar_TA",
		Properties: replay.Properties{
			{Key: "TeamSize", Value: int32(3)},
			{Key: "MapName", Value: replay.Name("<stadium>")},
		},
	}
}

func TestAppendEntrySingleLine(t *testing.T) {
	t.Parallel()

	d := digest.FromString("payload")
	out, err := AppendEntry(nil, "replays/a.replay", d, testReplay())
	require.NoError(t, err)

	assert.Equal(t, 1, bytes.Count(out, []byte("\n")))
	assert.True(t, bytes.HasSuffix(out, []byte("\n")))
	assert.Contains(t, string(out), `{"file":"replays/a.replay","digest":"sha256:`)
	assert.Contains(t, string(out), `"replay":{"header_size":1944,"header_crc":3561912561`)
	assert.Contains(t, string(out), `"MapName":"<stadium>"`, "HTML escaping must be off")

	var doc struct {
		File   string          `json:"file"`
		Digest string          `json:"digest"`
		Replay json.RawMessage `json:"replay"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, d.String(), doc.Digest)
}

func TestAppendEntryReusesScratch(t *testing.T) {
	t.Parallel()

	scratch := make([]byte, 0, 4096)
	first, err := AppendEntry(scratch, "a", "", testReplay())
	require.NoError(t, err)
	assert.Same(t, &scratch[:1][0], &first[0])
	assert.NotContains(t, string(first), "digest")

	second, err := AppendEntry(first[:0], "b", "", testReplay())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(second), `{"file":"b"`))
}

func TestAppendEntryKeepsPrefixOnError(t *testing.T) {
	t.Parallel()

	rep := testReplay()
	rep.Properties = append(rep.Properties, replay.Property{Key: "f", Value: float32(math.Inf(1))})

	dst := []byte("prefix")
	out, err := AppendEntry(dst, "bad", "", rep)
	require.Error(t, err)
	assert.Equal(t, "prefix", string(out))
}

func TestWriteReplayPretty(t *testing.T) {
	t.Parallel()

	var compact, pretty bytes.Buffer
	require.NoError(t, WriteReplay(&compact, testReplay(), false))
	require.NoError(t, WriteReplay(&pretty, testReplay(), true))

	assert.Equal(t, 1, strings.Count(compact.String(), "\n"))
	assert.Greater(t, strings.Count(pretty.String(), "\n"), 5)
	assert.Contains(t, pretty.String(), "\n  \"header_size\": 1944")
	assert.JSONEq(t, compact.String(), pretty.String())
}
