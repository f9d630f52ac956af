package orchestrator

import (
	"strings"

	"coagent/internal/fileapplier"
	"coagent/internal/jsonutil"
	"coagent/internal/streamobserver"
)

// NormalizedResponse is the canonicalized view of one LLM reply: every
// alias folded into its concrete schema key, ready for side-effect planning.
type NormalizedResponse struct {
	Response         string
	Thought          string
	Plan             string
	SelfCritique     string
	AskUserQuestions []string

	RequestFiles   []string
	WebSearch      []string
	WebSearchType  string
	WebSearchLimit int
	WebBrowse      []string
	SearchProject  string
	DetailedMap    bool
	FindSymbolText string
	IndexProject   bool
	LintProject    bool

	TerminalSpawn map[string]interface{}
	TerminalInput map[string]interface{}
	TerminalRead  map[string]interface{}
	TerminalKill  map[string]interface{}

	Changes  []fileapplier.Change
	Commands []CommandSpec

	MissionComplete bool
	MCPCall         map[string]interface{}

	Raw map[string]interface{}
}

// responseAliases maps every alias key to the canonical "response" field.
var responseAliases = []string{"response", "message", "reply", "answer", "output", "result", "assistant_response", "final_response", "finalAnswer"}

// thoughtAliases maps every alias key to the canonical "thought" field.
var thoughtAliases = []string{"thought", "reasoning", "analysis", "thinking"}

// ParseResponse runs the parse cascade in order, returning the
// first map any strategy produces. When every strategy yields nothing, it
// synthesizes a minimal object whose "response" is the raw text (step 7's
// fallback), unless observerSnapshot also has no content, in which case it
// reports ErrParseFailure via the ok=false return.
func ParseResponse(fullText, streamBuffer string, observerSnapshot streamobserver.Snapshot) (map[string]interface{}, bool) {
	if m, ok := jsonutil.ParseMap(fullText); ok {
		return m, true
	}
	if streamBuffer != "" && streamBuffer != fullText {
		if m, ok := jsonutil.ParseMap(streamBuffer); ok {
			return m, true
		}
	}
	if m, ok := jsonutil.ActionEnvelope(fullText); ok {
		return m, true
	}
	if m, ok := jsonutil.LooseKeyValue(fullText); ok {
		return m, true
	}

	if strings.TrimSpace(fullText) != "" {
		return map[string]interface{}{"response": fullText}, true
	}

	for _, v := range observerSnapshot.Fields {
		if strings.TrimSpace(v) != "" {
			return map[string]interface{}{"response": observerSnapshot.Fields["response"]}, true
		}
	}

	return nil, false
}

// Normalize canonicalizes field aliases, normalizes ask_user into
// ask_user_questions, and fills any still-missing string field from the
// observer's snapshot. Parameters of an action envelope are read under their
// own key names (ActionEnvelope lifts them to the top level); the "action"
// value itself is not mapped onto a schema key.
func Normalize(raw map[string]interface{}, observerSnapshot streamobserver.Snapshot) *NormalizedResponse {
	n := &NormalizedResponse{Raw: raw}

	n.Response = firstNonEmptyString(raw, responseAliases)
	n.Thought = firstNonEmptyString(raw, thoughtAliases)
	n.Plan = stringOrJoinedList(raw["plan"])
	n.SelfCritique = toString(raw["self_critique"])

	n.AskUserQuestions = normalizeAskUser(raw)

	n.RequestFiles = toStringList(raw["request_files"])
	n.WebSearch = toStringList(webSearchQueries(raw["web_search"]))
	n.WebSearchType = toString(raw["web_search_type"])
	n.WebSearchLimit = toInt(raw["web_search_limit"])
	n.WebBrowse = toStringList(webBrowseURLs(raw["web_browse"]))
	n.SearchProject = toString(raw["search_project"])
	n.DetailedMap = toBool(raw["detailed_map"])
	n.FindSymbolText = findSymbolText(raw["find_symbol"])
	n.IndexProject = toBool(raw["index_project"])
	n.LintProject = toBool(raw["lint_project"])

	n.TerminalSpawn = toObject(raw["terminal_spawn"])
	n.TerminalInput = toObject(raw["terminal_input"])
	n.TerminalRead = toObject(raw["terminal_read"])
	n.TerminalKill = toObject(raw["terminal_kill"])

	n.Changes = toChanges(raw["changes"])
	n.Commands = toCommands(raw["commands"])

	n.MissionComplete = toBool(raw["mission_complete"])
	n.MCPCall = toObject(raw["mcp_call"])

	// Fill still-missing tracked string fields from the observer's last snapshot.
	// Tool signals seen in the stream are not consulted: a tool whose payload
	// never completed before the stream ended is not run.
	if n.Response == "" {
		n.Response = observerSnapshot.Fields["response"]
	}
	if n.Thought == "" {
		n.Thought = observerSnapshot.Fields["thought"]
	}
	if n.Plan == "" {
		n.Plan = observerSnapshot.Fields["plan"]
	}
	if n.SelfCritique == "" {
		n.SelfCritique = observerSnapshot.Fields["self_critique"]
	}
	if len(n.AskUserQuestions) == 0 {
		if v := observerSnapshot.Fields["ask_user"]; strings.TrimSpace(v) != "" {
			n.AskUserQuestions = []string{v}
		}
	}
	return n
}

func firstNonEmptyString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v := toString(raw[k]); v != "" {
			return v
		}
		for rk, rv := range raw {
			if strings.EqualFold(rk, k) {
				if v := toString(rv); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// normalizeAskUser folds ask_user (string or list) and ask_user_questions
// into a single deduped, ordered list.
func normalizeAskUser(raw map[string]interface{}) []string {
	var out []string
	seen := map[string]bool{}
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			return
		}
		seen[q] = true
		out = append(out, q)
	}

	switch v := raw["ask_user"].(type) {
	case string:
		add(v)
	case []interface{}:
		for _, q := range v {
			add(toString(q))
		}
	}
	for _, q := range toStringList(raw["ask_user_questions"]) {
		add(q)
	}
	return out
}

func webSearchQueries(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if q, ok := t["queries"]; ok {
			return q
		}
		if q, ok := t["query"]; ok {
			return q
		}
	}
	return v
}

func webBrowseURLs(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if u, ok := t["urls"]; ok {
			return u
		}
		if u, ok := t["url"]; ok {
			return u
		}
	}
	return v
}

func findSymbolText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s := toString(t["symbol"]); s != "" {
			return s
		}
		return toString(t["regex"])
	}
	return ""
}

func stringOrJoinedList(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, toString(e))
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	}
	return 0
}

func toBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func toObject(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func toStringList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := toString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toChanges(v interface{}) []fileapplier.Change {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]fileapplier.Change, 0, len(list))
	for _, e := range list {
		obj, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, fileapplier.Change{
			File:     toString(obj["file"]),
			Original: toString(obj["original"]),
			Edited:   toString(obj["edited"]),
		})
	}
	return out
}

func toCommands(v interface{}) []CommandSpec {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]CommandSpec, 0, len(list))
	for _, e := range list {
		obj, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, CommandSpec{
			Command: toString(obj["command"]),
			Reason:  toString(obj["reason"]),
		})
	}
	return out
}
