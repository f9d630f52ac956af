// Package anthropic is the reference Provider adapter backed directly by
// github.com/anthropics/anthropic-sdk-go. Multi-block responses are
// flattened into the single JSON-envelope-per-turn wire contract the
// orchestrator consumes.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"coagent/internal/provider"
)

// Adapter implements provider.Provider for Anthropic (Claude) models.
type Adapter struct {
	client *sdk.Client
	apiKey string
}

// New creates an Anthropic adapter. apiKey may be empty; Validate reports the
// missing-key condition without failing construction, so the provider list
// can be built before secrets are loaded.
func New(apiKey string) *Adapter {
	var client sdk.Client
	if apiKey != "" {
		client = sdk.NewClient(option.WithAPIKey(apiKey))
	}
	return &Adapter{client: &client, apiKey: apiKey}
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

func (a *Adapter) Validate() (bool, string) {
	if a.apiKey == "" {
		return false, "ANTHROPIC_API_KEY is not set"
	}
	return true, ""
}

func (a *Adapter) buildParams(req provider.Request) sdk.MessageNewParams {
	messages := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(block))
		} else {
			messages = append(messages, sdk.NewUserMessage(block))
		}
	}

	maxTokens := int64(4096)
	if req.Params.MaxTokens != nil {
		maxTokens = int64(*req.Params.MaxTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Params.Temperature != nil {
		params.Temperature = sdk.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = sdk.Float(*req.Params.TopP)
	}
	if req.Params.TopK != nil {
		params.TopK = sdk.Int(int64(*req.Params.TopK))
	}
	if len(req.Params.Stop) > 0 {
		params.StopSequences = req.Params.Stop
	}
	if req.Params.ThinkingEnabled && req.Params.ThinkingBudgetTokens > 0 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.Params.ThinkingBudgetTokens))
	}

	return params
}

// Call performs one blocking generation and flattens the response's text
// blocks into a single Result.Text (our wire contract expects one JSON
// object, not a multi-block message).
func (a *Adapter) Call(ctx context.Context, req provider.Request) (provider.Result, error) {
	if ok, msg := a.Validate(); !ok {
		return provider.Result{}, fmt.Errorf("anthropic: %s", msg)
	}

	message, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		return provider.Result{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text, thinking strings.Builder
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			text.WriteString(b.Text)
		case sdk.ThinkingBlock:
			thinking.WriteString(b.Thinking)
		}
	}

	return provider.Result{
		Text:       text.String(),
		Thinking:   thinking.String(),
		StopReason: string(message.StopReason),
		Usage: provider.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// StreamCall streams text_delta events to onChunk as they arrive,
// accumulating the full message alongside for the final Result.
func (a *Adapter) StreamCall(ctx context.Context, req provider.Request, onChunk provider.StreamCallback) (provider.Result, error) {
	if ok, msg := a.Validate(); !ok {
		return provider.Result{}, fmt.Errorf("anthropic: %s", msg)
	}

	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))

	message := sdk.Message{}
	var thinking strings.Builder

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return provider.Result{}, fmt.Errorf("anthropic: accumulate: %w", err)
		}

		if delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			switch delta.Delta.Type {
			case "text_delta":
				if onChunk != nil {
					onChunk(delta.Delta.Text)
				}
			case "thinking_delta":
				thinking.WriteString(delta.Delta.Thinking)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return provider.Result{}, fmt.Errorf("anthropic streaming error: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return provider.Result{
		Text:       text.String(),
		Thinking:   thinking.String(),
		StopReason: string(message.StopReason),
		Usage: provider.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}
