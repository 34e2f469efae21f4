package rank

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docquery/ai/mock"
	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
	"github.com/poiesic/docquery/storage/badger"
)

// stubSignal returns a fixed candidate list.
type stubSignal struct {
	name       string
	candidates []Candidate
	err        error
}

func (s *stubSignal) Name() string { return s.name }

func (s *stubSignal) Rank(ctx context.Context, q Query, scope core.Scope, limit int) ([]Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.candidates) > limit {
		return s.candidates[:limit], nil
	}
	return s.candidates, nil
}

// vectorStubSignal is a stubSignal that declares it reads the query vector.
type vectorStubSignal struct {
	stubSignal
}

func (s *vectorStubSignal) ConsumesQueryVector() {}

func setupChunks(t *testing.T, chunks ...*core.Chunk) storage.ChunkRepository {
	t.Helper()

	_, chunkRepo, _, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	if len(chunks) > 0 {
		require.NoError(t, chunkRepo.AddChunks(context.Background(), chunks...))
	}
	return chunkRepo
}

func testChunk(documentID string, page, index int) *core.Chunk {
	text := fmt.Sprintf("chunk %s %d %d", documentID, page, index)
	return &core.Chunk{
		Id:         core.ChunkID(documentID, page, index, text),
		DocumentId: documentID,
		OwnerSub:   "owner-1",
		Page:       page,
		ChunkIndex: index,
		Text:       text,
	}
}

func TestNewRanker(t *testing.T) {
	chunkRepo := setupChunks(t)

	t.Run("requires chunk repository", func(t *testing.T) {
		_, err := NewRanker([]Signal{&stubSignal{name: "lexical"}}, nil, nil)
		assert.ErrorIs(t, err, ErrChunkRepositoryRequired)
	})

	t.Run("rejects all signals disabled", func(t *testing.T) {
		signals := []Signal{Disabled("lexical"), Disabled("vector"), Disabled("trigram")}
		_, err := NewRanker(signals, nil, chunkRepo)
		assert.ErrorIs(t, err, core.ErrAllSignalsDisabled)
	})

	t.Run("requires embedder for vector-consuming signal", func(t *testing.T) {
		_, err := NewRanker([]Signal{&vectorStubSignal{stubSignal{name: "vector"}}}, nil, chunkRepo)
		assert.ErrorIs(t, err, ErrEmbedderRequired)
	})

	t.Run("disabled vector signal needs no embedder", func(t *testing.T) {
		signals := []Signal{&stubSignal{name: "lexical"}, Disabled("vector")}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)
		assert.NotNil(t, r)
	})
}

func TestRankerSearch(t *testing.T) {
	ctx := context.Background()

	a := testChunk("doc-1", 1, 0)
	b := testChunk("doc-1", 1, 1)
	c := testChunk("doc-1", 2, 0)
	chunkRepo := setupChunks(t, a, b, c)

	scope := core.Scope{DocumentIds: []string{"doc-1"}, Reason: "mode=library"}

	t.Run("fuses overlapping lists with reciprocal ranks", func(t *testing.T) {
		lexical := &stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: a.Id, Score: 9.1, Distance: -1},
			{ChunkId: b.Id, Score: 4.2, Distance: -1},
		}}
		trigram := &stubSignal{name: "trigram", candidates: []Candidate{
			{ChunkId: b.Id, Score: 0.8, Distance: -1},
			{ChunkId: c.Id, Score: 0.5, Distance: -1},
		}}

		r, err := NewRanker([]Signal{lexical, trigram}, nil, chunkRepo)
		require.NoError(t, err)

		hits, debug, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 3)

		// b appears in both lists: 1/(60+2) + 1/(60+1)
		assert.Equal(t, b.Id, hits[0].ChunkId)
		assert.InDelta(t, 1.0/62+1.0/61, hits[0].Score, 1e-12)
		assert.Equal(t, a.Id, hits[1].ChunkId)
		assert.InDelta(t, 1.0/61, hits[1].Score, 1e-12)
		assert.Equal(t, c.Id, hits[2].ChunkId)

		assert.Equal(t, map[string]int{"lexical": 2, "trigram": 1}, hits[0].SignalRanks)
		assert.Equal(t, "rrf_hybrid", debug.Strategy)
		assert.Equal(t, []string{"mode=library"}, debug.AppliedFilters)
	})

	t.Run("never returns duplicate chunk ids", func(t *testing.T) {
		shared := []Candidate{
			{ChunkId: a.Id, Score: 1, Distance: -1},
			{ChunkId: b.Id, Score: 1, Distance: -1},
		}
		signals := []Signal{
			&stubSignal{name: "lexical", candidates: shared},
			&stubSignal{name: "trigram", candidates: shared},
		}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, _, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)

		seen := make(map[core.ID]bool)
		for _, h := range hits {
			assert.False(t, seen[h.ChunkId])
			seen[h.ChunkId] = true
		}
	})

	t.Run("identical input produces identical output", func(t *testing.T) {
		signals := []Signal{
			&stubSignal{name: "lexical", candidates: []Candidate{
				{ChunkId: a.Id, Score: 2, Distance: -1},
				{ChunkId: b.Id, Score: 1, Distance: -1},
			}},
			&stubSignal{name: "trigram", candidates: []Candidate{
				{ChunkId: c.Id, Score: 3, Distance: -1},
				{ChunkId: a.Id, Score: 2, Distance: -1},
			}},
		}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		first, _, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		for range 5 {
			again, _, err := r.Search(ctx, "query", scope, 10)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("equal scores tie-break on chunk id", func(t *testing.T) {
		lo, hi := a.Id, b.Id
		if hi < lo {
			lo, hi = hi, lo
		}
		// Listing the higher id first makes positional order disagree with
		// the tie-break, so a stable-by-insertion bug would flip the result.
		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: hi, Score: 1, Distance: -1},
		}}, &stubSignal{name: "trigram", candidates: []Candidate{
			{ChunkId: lo, Score: 1, Distance: -1},
		}}}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, _, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, lo, hits[0].ChunkId)
		assert.Equal(t, hi, hits[1].ChunkId)
	})

	t.Run("vector distance breaks ties before chunk id", func(t *testing.T) {
		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: c.Id, Score: 1, Distance: -1},
		}}, &stubSignal{name: "trigram", candidates: []Candidate{
			{ChunkId: b.Id, Score: 1, Distance: 0.1},
		}}}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, _, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		// b has a distance, c sorts as infinitely far
		assert.Equal(t, b.Id, hits[0].ChunkId)
	})

	t.Run("truncates to k", func(t *testing.T) {
		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: a.Id, Score: 3, Distance: -1},
			{ChunkId: b.Id, Score: 2, Distance: -1},
			{ChunkId: c.Id, Score: 1, Distance: -1},
		}}}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, _, err := r.Search(ctx, "query", scope, 2)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("empty scope returns empty hits without error", func(t *testing.T) {
		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: a.Id, Score: 1, Distance: -1},
		}}}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, debug, err := r.Search(ctx, "query", core.Scope{Reason: "mode=selected_docs"}, 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.Equal(t, []string{"mode=selected_docs"}, debug.AppliedFilters)
	})

	t.Run("failed signal degrades instead of failing the request", func(t *testing.T) {
		signals := []Signal{
			&stubSignal{name: "lexical", candidates: []Candidate{
				{ChunkId: a.Id, Score: 1, Distance: -1},
			}},
			&stubSignal{name: "trigram", err: errors.New("index corrupt")},
		}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, debug, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, a.Id, hits[0].ChunkId)

		require.Len(t, debug.Signals, 2)
		assert.False(t, debug.Signals[0].Failed)
		assert.True(t, debug.Signals[1].Failed)
	})

	t.Run("disabled signal contributes nothing", func(t *testing.T) {
		signals := []Signal{
			&stubSignal{name: "lexical", candidates: []Candidate{
				{ChunkId: a.Id, Score: 1, Distance: -1},
			}},
			Disabled("vector"),
		}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, debug, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.InDelta(t, 1.0/61, hits[0].Score, 1e-12)

		require.Len(t, debug.Signals, 2)
		assert.Equal(t, "vector", debug.Signals[1].Name)
		assert.Zero(t, debug.Signals[1].Candidates)
	})

	t.Run("drops candidates outside the scope", func(t *testing.T) {
		other := testChunk("doc-2", 1, 0)
		repo := setupChunks(t, a, other)

		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: other.Id, Score: 2, Distance: -1},
			{ChunkId: a.Id, Score: 1, Distance: -1},
		}}}
		r, err := NewRanker(signals, nil, repo)
		require.NoError(t, err)

		hits, _, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, a.Id, hits[0].ChunkId)
	})

	t.Run("skips stale candidates missing from storage", func(t *testing.T) {
		stale := core.ChunkID("doc-1", 9, 9, "long gone")
		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: stale, Score: 2, Distance: -1},
			{ChunkId: a.Id, Score: 1, Distance: -1},
		}}}
		r, err := NewRanker(signals, nil, chunkRepo)
		require.NoError(t, err)

		hits, _, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, a.Id, hits[0].ChunkId)
	})

	t.Run("no vector consumer means no query embedding", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("embedding host is down")
		}
		signals := []Signal{
			&stubSignal{name: "lexical", candidates: []Candidate{
				{ChunkId: a.Id, Score: 1, Distance: -1},
			}},
			Disabled("vector"),
		}
		r, err := NewRanker(signals, embedder, chunkRepo)
		require.NoError(t, err)

		hits, _, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err, "a lexical-only search must not depend on the embedder")
		require.Len(t, hits, 1)
		assert.Zero(t, embedder.CallCount())
	})

	t.Run("propagates embedder failure", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("connection refused")
		}
		signals := []Signal{&vectorStubSignal{stubSignal{name: "vector"}}}
		r, err := NewRanker(signals, embedder, chunkRepo)
		require.NoError(t, err)

		_, _, err = r.Search(ctx, "query", scope, 10)
		assert.ErrorIs(t, err, core.ErrEmbedderUnavailable)
	})
}

func TestRankerConfig(t *testing.T) {
	ctx := context.Background()

	a := testChunk("doc-1", 1, 0)
	b := testChunk("doc-1", 1, 1)
	chunkRepo := setupChunks(t, a, b)
	scope := core.Scope{DocumentIds: []string{"doc-1"}, Reason: "mode=library"}

	t.Run("min score filters weak fused results", func(t *testing.T) {
		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: a.Id, Score: 2, Distance: -1},
			{ChunkId: b.Id, Score: 1, Distance: -1},
		}}}
		// a scores 1/61, b scores 1/62; the threshold sits between them
		r, err := NewRanker(signals, nil, chunkRepo,
			WithConfig(Config{RRFK: 60, MinScore: 1.0/62 + 1e-9}))
		require.NoError(t, err)

		hits, debug, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, a.Id, hits[0].ChunkId)
		assert.InDelta(t, 1.0/62+1e-9, debug.UsedMinScore, 1e-12)
	})

	t.Run("max vector distance bounds the vector list", func(t *testing.T) {
		signals := []Signal{&vectorStubSignal{stubSignal{name: "vector", candidates: []Candidate{
			{ChunkId: a.Id, Score: 0.9, Distance: 0.1},
			{ChunkId: b.Id, Score: 0.2, Distance: 0.8},
		}}}}
		r, err := NewRanker(signals, mock.NewMockEmbedder(), chunkRepo,
			WithConfig(Config{RRFK: 60, MaxVectorDistance: 0.5}))
		require.NoError(t, err)

		hits, debug, err := r.Search(ctx, "query", scope, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, a.Id, hits[0].ChunkId)
		assert.Equal(t, 1, debug.Signals[0].Candidates)
	})

	t.Run("zero config values fall back to defaults", func(t *testing.T) {
		signals := []Signal{&stubSignal{name: "lexical", candidates: []Candidate{
			{ChunkId: a.Id, Score: 1, Distance: -1},
		}}}
		r, err := NewRanker(signals, nil, chunkRepo, WithConfig(Config{}))
		require.NoError(t, err)
		assert.Equal(t, float64(DefaultRRFK), r.cfg.RRFK)
	})
}
