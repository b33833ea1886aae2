package note

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tools/mergewarden/pkg/util/sets"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{KnownIDs: sets.NewString("commit_message_check")}

	type payload struct {
		Reason string `yaml:"reason"`
		Count  int    `yaml:"count"`
	}

	data, err := DataNode(payload{Reason: "subject too long", Count: 3})
	require.NoError(t, err)

	body, err := codec.Encode("Something needs attention here.", Details{
		MessageID: "commit_message_check",
		Revision:  "abc123",
		Data:      data,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, "Something needs attention here."), "prose must stay in front of the block")

	decoded, ok := codec.Decode(body)
	require.True(t, ok)
	assert.Equal(t, "commit_message_check", decoded.MessageID)
	assert.Equal(t, "abc123", decoded.Revision)

	got := payload{}
	require.NoError(t, decoded.DecodeData(&got))
	assert.Equal(t, payload{Reason: "subject too long", Count: 3}, got)
}

func TestCodecRoundTripWithoutData(t *testing.T) {
	codec := Codec{KnownIDs: sets.NewString("pipeline_run")}

	body, err := codec.Encode("", Details{MessageID: "pipeline_run", Revision: "deadbeef"})
	require.NoError(t, err)

	decoded, ok := codec.Decode(body)
	require.True(t, ok)
	assert.Equal(t, "pipeline_run", decoded.MessageID)
	assert.Equal(t, "deadbeef", decoded.Revision)

	// a nil payload leaves the target untouched
	out := map[string]string{"untouched": "yes"}
	require.NoError(t, decoded.DecodeData(&out))
	assert.Equal(t, map[string]string{"untouched": "yes"}, out)
}

func TestDecodeFillsStructuredPayload(t *testing.T) {
	// a block as it appears verbatim in a stored comment, independent of
	// what Encode produces
	body := "Something needs attention here.\n\n" +
		"<!-- mergewarden\n" +
		"message_id: known_check\n" +
		"revision: abc123\n" +
		"data:\n" +
		"    reason: subject too long\n" +
		"    count: 3\n" +
		"-->"

	decoded, ok := Codec{KnownIDs: sets.NewString("known_check")}.Decode(body)
	require.True(t, ok)

	var got struct {
		Reason string `yaml:"reason"`
		Count  int    `yaml:"count"`
	}
	require.NoError(t, decoded.DecodeData(&got))
	assert.Equal(t, "subject too long", got.Reason)
	assert.Equal(t, 3, got.Count)
}

func TestDecodeTolerance(t *testing.T) {
	codec := Codec{KnownIDs: sets.NewString("known_check")}

	retired, err := Codec{}.Encode("old bot version wrote this", Details{
		MessageID: "retired_check",
		Revision:  "abc123",
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{name: "plain human comment", body: "looks good to me"},
		{name: "empty body", body: ""},
		{name: "unterminated block", body: "text\n\n<!-- mergewarden\nmessage_id: known_check\n"},
		{name: "unparseable yaml", body: "<!-- mergewarden\n\t{{nope\n-->"},
		{name: "missing message id", body: "<!-- mergewarden\nrevision: abc123\n-->"},
		{name: "unknown message id", body: retired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, ok := codec.Decode(tc.body)
			assert.False(t, ok)
			assert.Nil(t, decoded)
		})
	}
}
