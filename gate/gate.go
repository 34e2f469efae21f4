// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package gate

import (
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/go-crypt/x/blake2b"

	"github.com/poiesic/docquery/core"
)

// EnvProduction is the environment name that clamps debug disclosure.
const EnvProduction = "prod"

// DeployConfig is the deployment-time disclosure configuration. It is
// immutable after construction; per-request state never mutates it.
type DeployConfig struct {
	// DebugFlag globally enables debug disclosure.
	DebugFlag bool
	// Env is the deployment environment ("dev", "staging", "prod").
	Env string
	// ProdDebugUnlocked permits disclosure in prod despite the clamp.
	// Requires DebugFlag as well.
	ProdDebugUnlocked bool
	// AdminTokenDigests is the allowlist of hex BLAKE2b-256 digests of
	// admin bearer tokens. Raw tokens are never configured or stored.
	AdminTokenDigests []string
	// Signals reports which retrieval signals the deployment runs.
	Signals core.SignalFlags
}

// Decision is the per-request disclosure outcome. Computed once, then
// carried as a value; nothing downstream re-evaluates the conditions.
type Decision struct {
	IncludeRetrievalDebug bool
	IncludeDebugMeta      bool
	Admin                 bool
}

// Gate applies a DeployConfig to requests.
type Gate struct {
	cfg    DeployConfig
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
	}
}

// NewGate creates a disclosure gate for the given deployment configuration.
func NewGate(cfg DeployConfig, opts ...Option) *Gate {
	g := &Gate{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide computes the disclosure decision for one request. bearerToken is
// the raw request token, empty when the request carried none.
//
// Every condition must hold for retrieval debug: the caller requested it,
// the deployment flag is on, the environment allows it, and the caller is
// admin. Debug meta needs only an admin who requested it: the meta carries
// the flag and environment state, which is how an admin learns why the
// retrieval sidecar stayed closed.
func (g *Gate) Decide(requested bool, principal core.Principal, bearerToken string) Decision {
	admin := g.isAdmin(principal, bearerToken)

	envAllows := g.cfg.Env != EnvProduction || g.cfg.ProdDebugUnlocked
	include := requested && g.cfg.DebugFlag && envAllows && admin

	if requested && !include {
		// denial is logged, never explained to the caller
		g.logger.Debug("debug disclosure denied",
			"flag_enabled", g.cfg.DebugFlag,
			"env", g.cfg.Env,
			"admin", admin)
	}

	return Decision{
		IncludeRetrievalDebug: include,
		IncludeDebugMeta:      requested && admin,
		Admin:                 admin,
	}
}

// isAdmin determines admin status from the principal or the bearer token
// digest allowlist. It fails closed: no principal, no token, no match,
// all mean false.
func (g *Gate) isAdmin(principal core.Principal, bearerToken string) bool {
	if principal.Sub != "" && principal.Admin {
		return true
	}
	return IsAdminToken(bearerToken, g.cfg.AdminTokenDigests)
}

// IsAdminToken reports whether the BLAKE2b-256 digest of token appears in
// the hex digest allowlist. Pure function of its inputs; comparison is
// constant-time per entry.
func IsAdminToken(token string, digestAllowlist []string) bool {
	if token == "" || len(digestAllowlist) == 0 {
		return false
	}

	sum := blake2b.Sum256([]byte(token))
	digest := hex.EncodeToString(sum[:])

	match := false
	for _, allowed := range digestAllowlist {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if subtle.ConstantTimeCompare([]byte(digest), []byte(allowed)) == 1 {
			match = true
		}
	}
	return match
}

// BuildMeta builds the gated request metadata. The fixed struct shape is
// the allowlist: no counts, no query text, no subjects, no storage
// identifiers can enter it.
func (g *Gate) BuildMeta(decision Decision) *core.DebugMeta {
	if !decision.IncludeDebugMeta {
		return nil
	}
	return &core.DebugMeta{
		FlagsEnabled: g.cfg.DebugFlag,
		Admin:        decision.Admin,
		Env:          g.cfg.Env,
		Signals:      g.cfg.Signals,
	}
}
