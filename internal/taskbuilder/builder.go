// Package taskbuilder assembles the per-turn TaskPayload: instruction
// text, build_intent heuristic, referenced paths, context files, injected
// session history, and (in plan/see modes) the project map/listing. Field
// validation uses ozzo-validation, like internal/config's
// ConfigShape.Validate.
package taskbuilder

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"coagent/internal/session"
	"coagent/internal/tools"
)

// Mode is the TaskPayload's plan/apply switch.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeApply Mode = "apply"
)

// ExecutionContract tells the model what this phase permits.
type ExecutionContract struct {
	Phase                       string
	MustUseChangesForCode       bool
	NoCodeBlocksInResponseDuringApply bool
}

// ContextFile is one entry of context_files: either Content or Err is set.
type ContextFile struct {
	Path    string
	Content string
	Err     string
}

// Payload is the TaskPayload data model.
type Payload struct {
	Mode               Mode
	Fast               bool
	Instruction        string
	BuildIntent        bool
	ReferencedPaths    []string
	ExecutionContract  ExecutionContract
	UserOS             string
	RawInput           string
	EffortLevel        string
	ReasoningLevel     string
	ContextFiles       []ContextFile
	SessionHistory     []session.Entry
	ProjectMap         string
	ProjectListing     []string
	ImageFiles         []string
	ContinuationTokens string
}

// Validate checks the small set of fields that must never be empty, the same
// way ConfigShape.Validate guards its required fields.
func (p *Payload) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Instruction, validation.Required),
		validation.Field(&p.UserOS, validation.Required),
	)
}

// buildIntentKeywords is the heuristic keyword set deciding whether an
// instruction asks for concrete work rather than an explanation.
var buildIntentKeywords = []string{
	"create", "add", "build", "implement", "write", "fix", "refactor",
	"update", "modify", "change", "delete", "remove", "rename", "generate",
}

// DetectBuildIntent reports whether instruction contains any build-intent keyword.
func DetectBuildIntent(instruction string) bool {
	lower := strings.ToLower(instruction)
	for _, kw := range buildIntentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// pathLikeRe matches tokens that look like a relative or absolute file path:
// contains a path separator or a recognizable extension.
var pathLikeRe = regexp.MustCompile(`(?:[\w./-]+/[\w.-]+|[\w-]+\.[A-Za-z0-9]{1,8})`)

// ExtractReferencedPaths scans instruction for path-shaped tokens, deduped
// and in first-seen order.
func ExtractReferencedPaths(instruction string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range pathLikeRe.FindAllString(instruction, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Options configures one Build call.
type Options struct {
	Mode                Mode
	Fast                bool
	Instruction         string
	UserOS              string
	EffortLevel         string
	ReasoningLevel      string
	ExtraReferencedPaths []string
	FileConfig          tools.Config
	SeeProjectMode      bool
	ProjectRoot         string
	History             []session.Entry
	MaxHistoryMessages  int
	HistoryTokenLimit   int
	ContinuationTokens  string
}

// Build assembles a TaskPayload. Context files are attached
// for every referenced path the instruction names plus any the orchestrator
// already resolved (e.g. from a prior request_files tool pass); project_map
// and project_listing are populated only in plan or see-project mode.
func Build(opts Options) Payload {
	referenced := append([]string{}, opts.ExtraReferencedPaths...)
	for _, p := range ExtractReferencedPaths(opts.Instruction) {
		referenced = append(referenced, p)
	}
	referenced = dedupe(referenced)

	payload := Payload{
		Mode:        opts.Mode,
		Fast:        opts.Fast,
		Instruction: opts.Instruction,
		BuildIntent: DetectBuildIntent(opts.Instruction),
		ReferencedPaths: referenced,
		ExecutionContract: ExecutionContract{
			Phase:                 string(opts.Mode),
			MustUseChangesForCode: opts.Mode == ModeApply,
			NoCodeBlocksInResponseDuringApply: opts.Mode == ModeApply,
		},
		UserOS:             opts.UserOS,
		RawInput:           opts.Instruction,
		EffortLevel:        opts.EffortLevel,
		ReasoningLevel:     opts.ReasoningLevel,
		ContinuationTokens: opts.ContinuationTokens,
	}

	if len(referenced) > 0 {
		results := tools.RequestFiles(referenced, opts.FileConfig)
		for _, r := range results {
			cf := ContextFile{Path: r.Path}
			if r.Err != nil {
				cf.Err = r.Err.Error()
			} else {
				cf.Content = r.Content
			}
			payload.ContextFiles = append(payload.ContextFiles, cf)
		}
	}

	payload.SessionHistory = session.Inject(opts.History, opts.MaxHistoryMessages, opts.HistoryTokenLimit)

	if opts.Mode == ModePlan || opts.SeeProjectMode {
		if m, err := tools.DetailedMap(opts.ProjectRoot); err == nil {
			payload.ProjectMap = m
		}
	}
	if opts.SeeProjectMode {
		if listing, err := tools.IndexProject(opts.ProjectRoot); err == nil {
			payload.ProjectListing = listing
		}
	}

	return payload
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
