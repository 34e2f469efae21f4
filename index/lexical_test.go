package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/rank"
)

func newChunk(documentID string, page, index int, text string) *core.Chunk {
	return &core.Chunk{
		Id:         core.ChunkID(documentID, page, index, text),
		DocumentId: documentID,
		OwnerSub:   "owner-1",
		Page:       page,
		ChunkIndex: index,
		Text:       text,
	}
}

func allDocs(ids ...string) core.Scope {
	return core.Scope{DocumentIds: ids, Reason: "mode=library"}
}

func TestLexicalIndexRank(t *testing.T) {
	ctx := context.Background()

	idx := NewLexicalIndex()
	battery := newChunk("doc-1", 1, 0, "Battery replacement requires a torx screwdriver.")
	warranty := newChunk("doc-1", 2, 0, "The warranty covers battery defects for two years.")
	shipping := newChunk("doc-2", 1, 0, "Shipping times vary by region and carrier.")
	idx.Add(battery, warranty, shipping)

	t.Run("matches on shared terms", func(t *testing.T) {
		candidates, err := idx.Rank(ctx, rank.Query{Text: "battery warranty"}, allDocs("doc-1", "doc-2"), 10)
		require.NoError(t, err)
		require.Len(t, candidates, 2)
		// warranty chunk matches both query terms
		assert.Equal(t, warranty.Id, candidates[0].ChunkId)
		assert.Equal(t, battery.Id, candidates[1].ChunkId)
		assert.Greater(t, candidates[0].Score, candidates[1].Score)
	})

	t.Run("scope excludes other documents", func(t *testing.T) {
		candidates, err := idx.Rank(ctx, rank.Query{Text: "shipping battery"}, allDocs("doc-1"), 10)
		require.NoError(t, err)
		for _, c := range candidates {
			assert.NotEqual(t, shipping.Id, c.ChunkId)
		}
	})

	t.Run("empty scope matches nothing", func(t *testing.T) {
		candidates, err := idx.Rank(ctx, rank.Query{Text: "battery"}, core.Scope{}, 10)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("stopword-only query matches nothing", func(t *testing.T) {
		candidates, err := idx.Rank(ctx, rank.Query{Text: "the and of"}, allDocs("doc-1"), 10)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("limit truncates", func(t *testing.T) {
		candidates, err := idx.Rank(ctx, rank.Query{Text: "battery"}, allDocs("doc-1"), 1)
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})

	t.Run("candidates carry no vector distance", func(t *testing.T) {
		candidates, err := idx.Rank(ctx, rank.Query{Text: "battery"}, allDocs("doc-1"), 10)
		require.NoError(t, err)
		require.NotEmpty(t, candidates)
		assert.Negative(t, candidates[0].Distance)
	})
}

func TestLexicalIndexRemoveDocument(t *testing.T) {
	ctx := context.Background()

	idx := NewLexicalIndex()
	kept := newChunk("doc-1", 1, 0, "battery replacement guide")
	dropped := newChunk("doc-2", 1, 0, "battery recycling policy")
	idx.Add(kept, dropped)

	idx.RemoveDocument("doc-2")

	candidates, err := idx.Rank(ctx, rank.Query{Text: "battery"}, allDocs("doc-1", "doc-2"), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, kept.Id, candidates[0].ChunkId)
}

func TestLexicalIndexReaddIsNoop(t *testing.T) {
	ctx := context.Background()

	idx := NewLexicalIndex()
	chunk := newChunk("doc-1", 1, 0, "battery battery battery")
	idx.Add(chunk)
	first, err := idx.Rank(ctx, rank.Query{Text: "battery"}, allDocs("doc-1"), 10)
	require.NoError(t, err)

	idx.Add(chunk)
	again, err := idx.Rank(ctx, rank.Query{Text: "battery"}, allDocs("doc-1"), 10)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"battery", "torx", "t5"}, tokenize("The Battery, the Torx-T5!"))
	assert.Empty(t, tokenize("  "))
	assert.Empty(t, tokenize("the and or"))
}
