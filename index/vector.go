package index

import (
	"context"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/rank"
	"github.com/poiesic/docquery/storage"
)

// VectorSignal ranks chunks by embedding similarity via the chunk store's
// scoped similarity search. The store filters by scope before ranking.
type VectorSignal struct {
	chunks        storage.ChunkRepository
	minSimilarity float32
}

var _ rank.Signal = (*VectorSignal)(nil)
var _ rank.QueryVectorConsumer = (*VectorSignal)(nil)

// NewVectorSignal creates a vector signal over the chunk repository.
// Matches below minSimilarity are dropped; zero keeps everything
// non-negative.
func NewVectorSignal(chunks storage.ChunkRepository, minSimilarity float32) *VectorSignal {
	return &VectorSignal{chunks: chunks, minSimilarity: minSimilarity}
}

func (v *VectorSignal) Name() string {
	return "vector"
}

// ConsumesQueryVector marks that Rank reads Query.Vector.
func (v *VectorSignal) ConsumesQueryVector() {}

func (v *VectorSignal) Rank(ctx context.Context, q rank.Query, scope core.Scope, limit int) ([]rank.Candidate, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	matches, err := v.chunks.FindSimilar(ctx, q.Vector, scope, v.minSimilarity, limit)
	if err != nil {
		return nil, err
	}

	candidates := make([]rank.Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, rank.Candidate{
			ChunkId: m.Chunk.Id,
			Score:   float64(m.Score),
			// cosine distance for tie-breaking downstream
			Distance: 1 - float64(m.Score),
		})
	}
	return candidates, nil
}
