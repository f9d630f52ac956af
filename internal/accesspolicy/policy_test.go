package accesspolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullGrantAllowsEverything(t *testing.T) {
	p := New()
	p.SetFull()

	d := p.EnsureAccessForPaths([]string{"/proj/a.go", "/proj/b.go"})
	assert.True(t, d.Allowed)
	assert.Empty(t, d.DeniedPaths)
}

func TestUnknownGrantDeniesPendingDecision(t *testing.T) {
	p := New()
	d := p.EnsureAccessForPaths([]string{"/proj/a.go"})
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"/proj/a.go"}, d.DeniedPaths)
}

func TestSelectiveGrantRequiresAllowlist(t *testing.T) {
	p := New()
	p.SetSelective()
	p.Allow("/proj/a.go")

	d := p.EnsureAccessForPaths([]string{"/proj/a.go", "/proj/b.go"})
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"/proj/b.go"}, d.DeniedPaths)

	p.Allow("/proj/b.go")
	d = p.EnsureAccessForPaths([]string{"/proj/a.go", "/proj/b.go"})
	assert.True(t, d.Allowed)
}

func TestAllowAndDenyAreMutuallyExclusive(t *testing.T) {
	p := New()
	p.SetSelective()

	p.Deny("/proj/secret.key")
	require.True(t, p.IsDenied("/proj/secret.key"))

	p.Allow("/proj/secret.key")
	assert.False(t, p.IsDenied("/proj/secret.key"))
	assert.True(t, p.IsAllowed("/proj/secret.key"))

	p.Deny("/proj/secret.key")
	assert.False(t, p.IsAllowed("/proj/secret.key"))
	assert.True(t, p.IsDenied("/proj/secret.key"))
}

func TestDenylistBlocksEvenAllowedSiblings(t *testing.T) {
	p := New()
	p.SetSelective()
	p.Allow("/proj/a.go")
	p.Deny("/proj/secret.key")

	d := p.EnsureAccessForPaths([]string{"/proj/a.go", "/proj/secret.key"})
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"/proj/secret.key"}, d.DeniedPaths)
}

func TestDenylistGlobPatternCoversTree(t *testing.T) {
	p := New()
	p.SetSelective()
	p.Allow("/proj/a.go")
	p.Deny("/proj/secrets/*")

	assert.True(t, p.IsDenied("/proj/secrets/api.key"))
	assert.False(t, p.IsDenied("/proj/a.go"))

	d := p.EnsureAccessForPaths([]string{"/proj/a.go", "/proj/secrets/api.key"})
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"/proj/secrets/api.key"}, d.DeniedPaths)
}

func TestSetFullEmptiesBothLists(t *testing.T) {
	p := New()
	p.SetSelective()
	p.Allow("/proj/a.go")
	p.Deny("/proj/secret.key")

	p.SetFull()
	assert.False(t, p.IsAllowed("/proj/a.go"))
	assert.False(t, p.IsDenied("/proj/secret.key"))
	assert.True(t, p.EnsureAccessForPaths([]string{"/proj/secret.key"}).Allowed)
}

func TestNormalizationDeduplicates(t *testing.T) {
	p := New()
	p.SetSelective()
	p.Allow("/proj/a.go")
	p.Allow("/proj/./a.go")

	assert.True(t, p.IsAllowed("/proj/a.go"))
	d := p.EnsureAccessForPaths([]string{"/proj/./a.go"})
	assert.True(t, d.Allowed)
}
