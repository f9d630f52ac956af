// Package provider defines the Provider adapter contract: the
// external-collaborator boundary the Turn Orchestrator calls through Stream
// Recovery. Concrete adapters (Anthropic-SDK-backed, lorem-backed local)
// live in sibling packages and are never imported directly by the
// orchestrator — only this interface is.
package provider

import "context"

// Message is one turn of conversation history sent to the provider.
type Message struct {
	Role    string
	Content string
}

// Params mirrors the generation knobs a provider adapter may honor.
type Params struct {
	Temperature          *float64
	TopP                 *float64
	TopK                 *int
	MaxTokens            *int
	Stop                 []string
	ThinkingEnabled      bool
	ThinkingBudgetTokens int
}

// Request is everything an adapter needs to produce one response.
type Request struct {
	System              string
	Messages            []Message
	Model               string
	Params              Params
	ContinuationTokens  string // warm-continuation handle from a prior call, if any
}

// Usage reports token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the provider adapter contract's call(...) return value.
type Result struct {
	Text           string
	Usage          Usage
	Thinking       string
	ProviderState  string // opaque continuation handle to persist for the next warm call
	StopReason     string
}

// StreamCallback is invoked synchronously per chunk during StreamCall.
type StreamCallback func(chunk string)

// Provider is the contract every concrete LLM adapter implements.
type Provider interface {
	// Name returns the provider's identifier (e.g. "anthropic", "lorem").
	Name() string

	// SupportsModel reports whether this provider can serve the given model name.
	SupportsModel(model string) bool

	// Call performs one blocking, non-streaming generation.
	Call(ctx context.Context, req Request) (Result, error)

	// StreamCall performs one streaming generation, invoking onChunk
	// synchronously with each text fragment as it arrives.
	StreamCall(ctx context.Context, req Request, onChunk StreamCallback) (Result, error)

	// Validate reports whether the adapter is usable as configured (e.g. API
	// key present), and a human-readable message when it is not.
	Validate() (ok bool, message string)
}
