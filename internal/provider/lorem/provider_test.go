package lorem

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coagent/internal/provider"
)

func smallRequest() provider.Request {
	maxTokens := 40
	return provider.Request{
		Model:    "lorem-fast",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
		Params:   provider.Params{MaxTokens: &maxTokens},
	}
}

func TestCallReturnsJSONEnvelope(t *testing.T) {
	a := New()
	res, err := a.Call(context.Background(), smallRequest())
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Text), &m))
	assert.NotEmpty(t, m["response"])
	assert.Greater(t, res.Usage.OutputTokens, 0)
}

func TestStreamCallChunksReassembleToValidJSON(t *testing.T) {
	a := New()

	var streamed string
	res, err := a.StreamCall(context.Background(), smallRequest(), func(chunk string) {
		streamed += chunk
	})
	require.NoError(t, err)
	assert.Equal(t, res.Text, streamed)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Text), &m))
	assert.NotEmpty(t, m["response"])
}

func TestStreamCallIncludesThoughtWhenThinkingEnabled(t *testing.T) {
	a := New()
	req := smallRequest()
	req.Params.ThinkingEnabled = true

	res, err := a.StreamCall(context.Background(), req, nil)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Text), &m))
	assert.NotEmpty(t, m["thought"])
}

func TestSupportsModel(t *testing.T) {
	a := New()
	assert.True(t, a.SupportsModel("lorem-fast"))
	assert.False(t, a.SupportsModel("claude-haiku"))
}

func TestValidateAlwaysOK(t *testing.T) {
	a := New()
	ok, msg := a.Validate()
	assert.True(t, ok)
	assert.Empty(t, msg)
}
