package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"coagent/internal/apperrors"
	"coagent/internal/config"
	"coagent/internal/provider"
	"coagent/internal/session"
	"coagent/internal/streamobserver"
	"coagent/internal/streamrecovery"
	"coagent/internal/taskbuilder"
)

// systemPrompt builds the system message sent with every turn: the wire
// schema contract plus the execution-contract phase of the current
// TaskPayload.
func systemPrompt(task taskbuilder.Payload) string {
	var sb strings.Builder
	sb.WriteString("You are an interactive coding assistant. Reply with one JSON object only, ")
	sb.WriteString("no prose outside it and no code fences. Recognized keys: response, thought, plan, ")
	sb.WriteString("self_critique, ask_user_questions, request_files, web_search, web_browse, search_project, ")
	sb.WriteString("detailed_map, find_symbol, index_project, lint_project, terminal_spawn, terminal_input, ")
	sb.WriteString("terminal_read, terminal_kill, changes, commands, mission_complete, mcp_call.\n")
	sb.WriteString(fmt.Sprintf("Execution phase: %s.", task.ExecutionContract.Phase))
	if task.ExecutionContract.MustUseChangesForCode {
		sb.WriteString(" Any file edit MUST be expressed as an entry in changes[]; do not paste edited code in response.")
	}
	if task.ExecutionContract.NoCodeBlocksInResponseDuringApply {
		sb.WriteString(" Do not include fenced code blocks in response during apply mode.")
	}
	return sb.String()
}

// PromptFingerprint hashes the system prompt for the continuation-cache
// warm check.
func PromptFingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// buildMessages converts injected session history plus the current turn's
// instruction (with context files and any plan-pass text appended) into the
// provider.Message list.
func buildMessages(task taskbuilder.Payload, history []session.Entry) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+1)
	for _, e := range history {
		messages = append(messages, provider.Message{Role: string(e.Role), Content: e.Content})
	}

	var userMsg strings.Builder
	userMsg.WriteString(task.Instruction)
	for _, cf := range task.ContextFiles {
		if cf.Err != "" {
			userMsg.WriteString(fmt.Sprintf("\n\n### %s\nERROR: %s", cf.Path, cf.Err))
			continue
		}
		userMsg.WriteString(fmt.Sprintf("\n\n### %s\n%s", cf.Path, cf.Content))
	}
	if task.ProjectMap != "" {
		userMsg.WriteString("\n\n### project map\n" + task.ProjectMap)
	}

	messages = append(messages, provider.Message{Role: "user", Content: userMsg.String()})
	return messages
}

// callResult bundles the provider result with the stream observer's final
// snapshot and the raw concatenated stream buffer, inputs to ParseResponse.
type callResult struct {
	result       provider.Result
	snapshot     streamobserver.Snapshot
	streamBuffer string
}

// generationParams maps the active provider's configured knobs onto the
// adapter contract's Params.
func generationParams(pc config.ProviderConfig) provider.Params {
	p := pc.Params
	out := provider.Params{
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		MaxTokens:   p.MaxTokens,
		Stop:        p.Stop,
	}
	if p.ThinkingEnabled != nil && *p.ThinkingEnabled {
		out.ThinkingEnabled = true
		out.ThinkingBudgetTokens = p.GetThinkingBudgetTokens()
	}
	return out
}

// callProvider builds the request, annotates a warm
// continuation when available, and invokes Stream Recovery with the
// Streaming JSON Observer wired to each chunk.
func (o *Orchestrator) callProvider(ctx context.Context, task taskbuilder.Payload, prov provider.Provider, model, continuationTokens string) (callResult, error) {
	req := provider.Request{
		System:             systemPrompt(task),
		Messages:           buildMessages(task, task.SessionHistory),
		Model:              model,
		Params:             generationParams(o.Deps.Config.Providers[o.Deps.Config.ActiveProvider]),
		ContinuationTokens: continuationTokens,
	}

	obs := streamobserver.New(nil, nil)
	var throttler *streamrecovery.Throttler
	if o.Deps.IO != nil {
		throttler = streamrecovery.NewThrottler(o.streamRenderFPS(), func() {})
	}

	var streamBuf strings.Builder

	run := func(c context.Context, streamEnabled bool) (interface{}, error) {
		streamBuf.Reset()
		obsLocal := streamobserver.New(nil, nil)
		if !streamEnabled {
			res, err := prov.Call(c, req)
			return res, err
		}
		res, err := prov.StreamCall(c, req, func(chunk string) {
			streamBuf.WriteString(chunk)
			delta := obsLocal.Ingest(chunk)
			if o.Deps.IO != nil {
				for field, added := range delta.Deltas {
					o.Deps.IO.RenderDelta(field, added)
				}
			}
			if throttler != nil {
				throttler.Request()
			}
			obs = obsLocal
		})
		return res, err
	}

	out, health := streamrecovery.Call(ctx, streamrecovery.Options{
		StreamRetryCount: o.Deps.Config.Numerics.StreamRetryCount,
		StreamTimeoutMs:  o.Deps.Config.Numerics.StreamTimeoutMs,
		Throttler:        throttler,
		Run:              run,
	})

	if health.LastError != nil && out == nil {
		return callResult{}, fmt.Errorf("%w: %v", apperrors.ErrProvider, health.LastError)
	}

	res, ok := out.(provider.Result)
	if !ok {
		return callResult{}, apperrors.ErrProvider
	}

	return callResult{result: res, snapshot: obs.Snapshot(), streamBuffer: streamBuf.String()}, nil
}

func (o *Orchestrator) streamRenderFPS() int {
	if o.Deps.Config.Numerics.StreamRenderFPS > 0 {
		return o.Deps.Config.Numerics.StreamRenderFPS
	}
	return 12
}
