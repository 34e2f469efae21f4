package gate

import (
	"encoding/hex"
	"testing"

	"github.com/go-crypt/x/blake2b"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docquery/core"
)

func digestOf(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func TestGateDecide(t *testing.T) {
	admin := core.Principal{Sub: "root", Admin: true}
	user := core.Principal{Sub: "alice"}

	enabled := DeployConfig{DebugFlag: true, Env: "dev"}

	t.Run("discloses only when every condition holds", func(t *testing.T) {
		g := NewGate(enabled)
		d := g.Decide(true, admin, "")
		assert.True(t, d.IncludeRetrievalDebug)
		assert.True(t, d.IncludeDebugMeta)
		assert.True(t, d.Admin)
	})

	t.Run("not requested", func(t *testing.T) {
		d := NewGate(enabled).Decide(false, admin, "")
		assert.False(t, d.IncludeRetrievalDebug)
		assert.False(t, d.IncludeDebugMeta)
	})

	t.Run("flag disabled keeps meta for admins", func(t *testing.T) {
		d := NewGate(DeployConfig{Env: "dev"}).Decide(true, admin, "")
		assert.False(t, d.IncludeRetrievalDebug)
		assert.True(t, d.IncludeDebugMeta, "meta is how an admin learns the flag is off")
	})

	t.Run("non-admin caller", func(t *testing.T) {
		d := NewGate(enabled).Decide(true, user, "")
		assert.False(t, d.IncludeRetrievalDebug)
		assert.False(t, d.IncludeDebugMeta)
	})

	t.Run("prod clamps even for admins", func(t *testing.T) {
		g := NewGate(DeployConfig{DebugFlag: true, Env: EnvProduction})
		d := g.Decide(true, admin, "")
		assert.False(t, d.IncludeRetrievalDebug)
		assert.True(t, d.IncludeDebugMeta, "the clamp hides retrieval internals, not its own existence")
	})

	t.Run("prod with explicit unlock discloses", func(t *testing.T) {
		g := NewGate(DeployConfig{DebugFlag: true, Env: EnvProduction, ProdDebugUnlocked: true})
		d := g.Decide(true, admin, "")
		assert.True(t, d.IncludeRetrievalDebug)
	})

	t.Run("unlock without flag stays closed", func(t *testing.T) {
		g := NewGate(DeployConfig{Env: EnvProduction, ProdDebugUnlocked: true})
		d := g.Decide(true, admin, "")
		assert.False(t, d.IncludeRetrievalDebug)
	})

	t.Run("empty principal fails closed", func(t *testing.T) {
		d := NewGate(enabled).Decide(true, core.Principal{}, "")
		assert.False(t, d.Admin)
		assert.False(t, d.IncludeRetrievalDebug)
	})

	t.Run("allowlisted bearer token grants admin", func(t *testing.T) {
		cfg := enabled
		cfg.AdminTokenDigests = []string{digestOf("sesame")}
		d := NewGate(cfg).Decide(true, user, "sesame")
		assert.True(t, d.Admin)
		assert.True(t, d.IncludeRetrievalDebug)
	})

	t.Run("unknown bearer token does not", func(t *testing.T) {
		cfg := enabled
		cfg.AdminTokenDigests = []string{digestOf("sesame")}
		d := NewGate(cfg).Decide(true, user, "not-sesame")
		assert.False(t, d.Admin)
	})
}

func TestIsAdminToken(t *testing.T) {
	allowlist := []string{digestOf("alpha"), digestOf("beta")}

	assert.True(t, IsAdminToken("alpha", allowlist))
	assert.True(t, IsAdminToken("beta", allowlist))
	assert.False(t, IsAdminToken("gamma", allowlist))
	assert.False(t, IsAdminToken("", allowlist))
	assert.False(t, IsAdminToken("alpha", nil))

	t.Run("raw token in the allowlist never matches", func(t *testing.T) {
		// the allowlist holds digests, not tokens
		assert.False(t, IsAdminToken("alpha", []string{"alpha"}))
	})

	t.Run("digest case and whitespace are tolerated", func(t *testing.T) {
		upper := " " + digestOf("alpha") + " "
		assert.True(t, IsAdminToken("alpha", []string{upper}))
	})
}

func TestBuildMeta(t *testing.T) {
	cfg := DeployConfig{
		DebugFlag: true,
		Env:       "staging",
		Signals:   core.SignalFlags{Lexical: true, Vector: true},
	}
	g := NewGate(cfg)

	t.Run("nil unless decision includes it", func(t *testing.T) {
		assert.Nil(t, g.BuildMeta(Decision{}))
	})

	t.Run("carries only the fixed key set", func(t *testing.T) {
		meta := g.BuildMeta(Decision{IncludeDebugMeta: true, Admin: true})
		require.NotNil(t, meta)
		assert.Equal(t, &core.DebugMeta{
			FlagsEnabled: true,
			Admin:        true,
			Env:          "staging",
			Signals:      core.SignalFlags{Lexical: true, Vector: true},
		}, meta)
	})
}
