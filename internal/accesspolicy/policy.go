// Package accesspolicy implements the Session Access Policy: one
// process-wide grant consulted before any file read or write. Paths are
// normalized to absolute, forward-slash form before comparison.
package accesspolicy

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/match"
)

// Mode is the grant's current scope.
type Mode string

const (
	ModeUnknown   Mode = "unknown"
	ModeFull      Mode = "full"
	ModeSelective Mode = "selective"
)

// Grant is the SessionAccessGrant data model. Allowlist and denylist are
// mutually exclusive; adding to one removes from the other.
type Grant struct {
	Mode      Mode
	AskedAt   *time.Time
	allowlist map[string]struct{}
	denylist  map[string]struct{}
}

// Policy holds the single process-wide Grant and serializes decisions.
type Policy struct {
	mu    sync.Mutex
	grant Grant
}

// New returns a Policy with an unknown grant.
func New() *Policy {
	return &Policy{grant: Grant{Mode: ModeUnknown, allowlist: map[string]struct{}{}, denylist: map[string]struct{}{}}}
}

// normalize converts a path to an absolute, forward-slash form for stable
// comparisons and storage.
func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return filepath.ToSlash(strings.TrimSpace(abs))
}

// Grant returns a snapshot of the current grant.
func (p *Policy) Grant() Grant {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grant
}

// SetFull switches the grant to full access, emptying both lists.
func (p *Policy) SetFull() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.grant = Grant{Mode: ModeFull, AskedAt: &now, allowlist: map[string]struct{}{}, denylist: map[string]struct{}{}}
}

// SetSelective switches the grant to selective access.
func (p *Policy) SetSelective() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if p.grant.allowlist == nil {
		p.grant.allowlist = map[string]struct{}{}
	}
	if p.grant.denylist == nil {
		p.grant.denylist = map[string]struct{}{}
	}
	p.grant.Mode = ModeSelective
	p.grant.AskedAt = &now
}

// Allow adds path to the allowlist, removing it from the denylist.
func (p *Policy) Allow(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := normalize(path)
	delete(p.grant.denylist, n)
	p.grant.allowlist[n] = struct{}{}
}

// Deny adds path to the denylist, removing it from the allowlist.
func (p *Policy) Deny(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := normalize(path)
	delete(p.grant.allowlist, n)
	p.grant.denylist[n] = struct{}{}
}

// listMatches reports whether path hits an entry of set, either exactly or
// via a glob-pattern entry (e.g. "/proj/secrets/*" denies the whole tree).
func listMatches(set map[string]struct{}, path string) bool {
	if _, ok := set[path]; ok {
		return true
	}
	for pattern := range set {
		if strings.ContainsAny(pattern, "*?") && match.Match(path, pattern) {
			return true
		}
	}
	return false
}

// IsDenied reports whether path is already covered by the denylist.
func (p *Policy) IsDenied(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return listMatches(p.grant.denylist, normalize(path))
}

// IsAllowed reports whether path is already covered by the allowlist.
func (p *Policy) IsAllowed(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return listMatches(p.grant.allowlist, normalize(path))
}

// Decision is the result of ensureSessionAccessForPaths.
type Decision struct {
	Allowed     bool
	DeniedPaths []string
}

// EnsureAccessForPaths consults the grant for every path, returning which
// ones are blocked. Under ModeFull every path is allowed. Under ModeUnknown,
// every path is treated as needing a prompt from the caller (reported as
// denied so the caller can surface the "first edit or project-read" prompt);
// once the caller records a decision via SetFull/SetSelective/Allow/Deny,
// subsequent calls reflect it.
func (p *Policy) EnsureAccessForPaths(paths []string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.grant.Mode == ModeFull {
		return Decision{Allowed: true}
	}

	var denied []string
	for _, path := range paths {
		n := normalize(path)
		if listMatches(p.grant.denylist, n) {
			denied = append(denied, path)
			continue
		}
		if p.grant.Mode == ModeSelective {
			if !listMatches(p.grant.allowlist, n) {
				denied = append(denied, path)
			}
			continue
		}
		// ModeUnknown: nothing decided yet.
		denied = append(denied, path)
	}

	return Decision{Allowed: len(denied) == 0, DeniedPaths: denied}
}
