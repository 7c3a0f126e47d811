package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpinion_PlainJSON(t *testing.T) {
	op, err := ParseOpinion(`{"approve": true, "confidence": 0.82, "reason": "flow confirms"}`)
	require.NoError(t, err)
	assert.True(t, op.Approve)
	assert.InDelta(t, 0.82, op.Confidence, 1e-9)
	assert.Equal(t, "flow confirms", op.Reason)
}

func TestParseOpinion_FencedWithChatter(t *testing.T) {
	raw := "Sure, here is my assessment:\n```json\n{\"approve\": false, \"reason\": \"crowded trade\"}\n```\nLet me know if you need more."
	op, err := ParseOpinion(raw)
	require.NoError(t, err)
	assert.False(t, op.Approve)
	assert.Equal(t, "crowded trade", op.Reason)
}

func TestParseOpinion_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no json at all", "I cannot decide."},
		{"broken json", `{"approve": tru`},
		{"missing approve", `{"confidence": 0.9}`},
		{"approve not boolean", `{"approve": "yes"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseOpinion(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestNewHTTP_Validation(t *testing.T) {
	_, err := NewHTTP(Config{Model: "gpt-4o-mini"})
	assert.Error(t, err)

	_, err = NewHTTP(Config{BaseURL: "https://api.openai.com"})
	assert.Error(t, err)

	h, err := NewHTTP(Config{BaseURL: "https://api.openai.com", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, h)
}
