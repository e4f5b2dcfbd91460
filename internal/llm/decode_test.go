package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeJSONPlainObject(t *testing.T) {
	out, err := DecodeJSON[sample](`{"response": "hi", "confidence": 0.8}`)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Response)
	assert.Equal(t, 0.8, out.Confidence)
}

func TestDecodeJSONStripsFences(t *testing.T) {
	raw := "```json\n{\"response\": \"fenced\", \"confidence\": 0.5}\n```"
	out, err := DecodeJSON[sample](raw)
	require.NoError(t, err)
	assert.Equal(t, "fenced", out.Response)
}

func TestDecodeJSONStripsBareFences(t *testing.T) {
	raw := "```\n{\"response\": \"bare\", \"confidence\": 0.5}\n```"
	out, err := DecodeJSON[sample](raw)
	require.NoError(t, err)
	assert.Equal(t, "bare", out.Response)
}

func TestDecodeJSONSkipsLeadingProse(t *testing.T) {
	raw := `Here is the answer you asked for: {"response": "prose", "confidence": 0.5}`
	out, err := DecodeJSON[sample](raw)
	require.NoError(t, err)
	assert.Equal(t, "prose", out.Response)
}

func TestDecodeJSONArray(t *testing.T) {
	out, err := DecodeJSON[[]sample](`[{"response": "a"}, {"response": "b"}]`)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[1].Response)
}

func TestDecodeJSONMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"no json here at all",
		"{broken",
		"```json\n```",
	} {
		_, err := DecodeJSON[sample](raw)
		assert.ErrorIs(t, err, ErrMalformedOutput, "raw: %q", raw)
	}
}

func TestCleanJSONText(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanJSONText("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanJSONText(`{"a":1}`))
}
