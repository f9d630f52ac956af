// Package lorem is the designated local/offline Provider adapter: a
// deterministic, zero-config generator used as the default active provider
// and in tests. It streams a single well-formed JSON envelope so the rest
// of the pipeline (Streaming JSON Observer, JSON Repair) can be exercised
// without a real API key.
package lorem

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"coagent/internal/provider"
)

// Adapter implements provider.Provider with canned deterministic responses.
type Adapter struct {
	gen *loremgen.Lorem
}

// New returns a lorem Adapter.
func New() *Adapter {
	return &Adapter{gen: loremgen.New()}
}

func (a *Adapter) Name() string { return "lorem" }

func (a *Adapter) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

func (a *Adapter) Validate() (bool, string) {
	return true, ""
}

// wordDelay returns the per-word streaming delay implied by the model name
// (lorem-slow/-fast/-medium).
func wordDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

func (a *Adapter) buildResponseText(maxTokens int) string {
	targetWords := maxTokens
	if targetWords <= 0 {
		targetWords = 200
	}

	var sb strings.Builder
	wordCount := 0
	for wordCount < targetWords {
		sentence := a.gen.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += len(strings.Fields(sentence))
	}
	return strings.TrimSpace(sb.String())
}

func (a *Adapter) envelope(req provider.Request) map[string]interface{} {
	maxTokens := 200
	if req.Params.MaxTokens != nil {
		maxTokens = *req.Params.MaxTokens / 4 // rough word-count budget
	}

	env := map[string]interface{}{
		"response": a.buildResponseText(maxTokens),
	}
	if req.Params.ThinkingEnabled {
		env["thought"] = a.gen.Sentence(8, 12)
	}
	return env
}

// Call returns the full serialized JSON envelope in one blocking call.
func (a *Adapter) Call(ctx context.Context, req provider.Request) (provider.Result, error) {
	select {
	case <-ctx.Done():
		return provider.Result{}, ctx.Err()
	default:
	}

	env := a.envelope(req)
	data, err := json.Marshal(env)
	if err != nil {
		return provider.Result{}, err
	}

	return provider.Result{
		Text:       string(data),
		StopReason: "end_turn",
		Usage:      a.estimateUsage(req, string(data)),
	}, nil
}

// StreamCall emits the JSON envelope key-by-key and word-by-word, so the
// Streaming JSON Observer receives realistic partial-field deltas.
func (a *Adapter) StreamCall(ctx context.Context, req provider.Request, onChunk provider.StreamCallback) (provider.Result, error) {
	env := a.envelope(req)
	delay := wordDelay(req.Model)

	var out strings.Builder
	emit := func(s string) {
		out.WriteString(s)
		if onChunk != nil {
			onChunk(s)
		}
	}

	emit("{")
	first := true
	keys := orderedKeys(env)
	for _, key := range keys {
		if !first {
			emit(",")
		}
		first = false

		keyJSON, _ := json.Marshal(key)
		emit(string(keyJSON) + ":\"")

		words := strings.Fields(env[key].(string))
		for i, word := range words {
			select {
			case <-ctx.Done():
				return provider.Result{}, ctx.Err()
			default:
			}
			if i > 0 {
				emit(" ")
			}
			emit(escapeJSONString(word))
			time.Sleep(delay)
		}
		emit("\"")
	}
	emit("}")

	final := out.String()
	return provider.Result{
		Text:       final,
		StopReason: "end_turn",
		Usage:      a.estimateUsage(req, final),
	}, nil
}

func orderedKeys(env map[string]interface{}) []string {
	keys := make([]string, 0, len(env))
	for _, k := range []string{"thought", "response"} {
		if _, ok := env[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func escapeJSONString(s string) string {
	data, _ := json.Marshal(s)
	// Marshal wraps in quotes; strip them since we're composing our own quotes.
	return strings.TrimSuffix(strings.TrimPrefix(string(data), `"`), `"`)
}

func (a *Adapter) estimateUsage(req provider.Request, responseText string) provider.Usage {
	inputWords := 0
	for _, m := range req.Messages {
		inputWords += len(strings.Fields(m.Content))
	}
	return provider.Usage{
		InputTokens:  inputWords,
		OutputTokens: len(strings.Fields(responseText)),
	}
}
