package rank

import (
	"context"

	"github.com/poiesic/docquery/core"
)

// Query is the per-request input shared by all signals. The query text is
// embedded once by the Ranker; signals that need the vector read it here.
type Query struct {
	Text   string
	Vector []float32
}

// Candidate is one entry of a signal's ordered result list.
type Candidate struct {
	ChunkId core.ID
	// Score is the signal's native score; only its ordering matters to fusion.
	Score float64
	// Distance is the vector distance when the signal computes one.
	// Negative means not applicable.
	Distance float64
}

// Signal is one independent retrieval signal. Implementations apply the
// document scope before ranking (server-side filtering) so cross-tenant rank
// information never enters a candidate list.
type Signal interface {
	// Name identifies the signal in diagnostics ("lexical", "vector", "trigram").
	Name() string

	// Rank returns the signal's ordered candidate list for the query,
	// restricted to the scope, up to limit entries. An empty result is a
	// valid answer, not an error.
	Rank(ctx context.Context, q Query, scope core.Scope, limit int) ([]Candidate, error)
}

// QueryVectorConsumer marks a Signal that reads Query.Vector. The Ranker
// refuses construction with such a signal and no embedder.
type QueryVectorConsumer interface {
	ConsumesQueryVector()
}

// disabledSignal is the always-empty Signal used for switched-off signals.
// Representing "off" as a value keeps nil checks out of the fusion path.
type disabledSignal struct {
	name string
}

// Disabled returns an always-empty Signal with the given name.
func Disabled(name string) Signal {
	return disabledSignal{name: name}
}

func (s disabledSignal) Name() string {
	return s.name
}

func (s disabledSignal) Rank(ctx context.Context, q Query, scope core.Scope, limit int) ([]Candidate, error) {
	return nil, nil
}

// IsDisabled reports whether a signal is the always-empty variant.
func IsDisabled(s Signal) bool {
	_, ok := s.(disabledSignal)
	return ok
}
