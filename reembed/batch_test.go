package reembed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docquery/ai/mock"
	"github.com/poiesic/docquery/core"
)

// recordingIndexer captures chunks handed to an external vector store.
type recordingIndexer struct {
	mu     sync.Mutex
	chunks []*core.Chunk
	err    error
}

func (r *recordingIndexer) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.chunks = append(r.chunks, chunks...)
	return nil
}

func TestBatchProcessor_Process(t *testing.T) {
	documents, chunks := setupRepos(t)
	seeded := seedDocument(t, documents, chunks, "doc-a", 2)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{0, 3, 4} // magnitude 5, exercises normalization
		}
		return vectors, nil
	}

	processor := NewBatchProcessor(chunks, embedder, nil, 3, time.Millisecond)
	require.NoError(t, processor.Process(ctx, seeded))

	for _, want := range seeded {
		got, err := chunks.GetChunk(ctx, want.Id)
		require.NoError(t, err)
		assert.InDelta(t, 0.6, got.Vector[1], 1e-6)
		assert.InDelta(t, 0.8, got.Vector[2], 1e-6)
		assert.Equal(t, want.Text, got.Text, "text is untouched")
	}
}

func TestBatchProcessor_RefreshesVectorIndex(t *testing.T) {
	documents, chunks := setupRepos(t)
	seeded := seedDocument(t, documents, chunks, "doc-a", 3)

	indexer := &recordingIndexer{}
	processor := NewBatchProcessor(chunks, mock.NewMockEmbedder(), indexer, 3, time.Millisecond)
	require.NoError(t, processor.Process(context.Background(), seeded))

	assert.Len(t, indexer.chunks, 3)
}

func TestBatchProcessor_RetriesEmbedding(t *testing.T) {
	documents, chunks := setupRepos(t)
	seeded := seedDocument(t, documents, chunks, "doc-a", 1)

	attempts := 0
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("transient embedding failure")
		}
		return [][]float32{{1, 0, 0}}, nil
	}

	processor := NewBatchProcessor(chunks, embedder, nil, 3, time.Millisecond)
	require.NoError(t, processor.Process(context.Background(), seeded))
	assert.Equal(t, 2, attempts)
}

func TestBatchProcessor_EmbeddingExhausted(t *testing.T) {
	documents, chunks := setupRepos(t)
	seeded := seedDocument(t, documents, chunks, "doc-a", 1)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("embedding service down")
	}

	processor := NewBatchProcessor(chunks, embedder, nil, 2, time.Millisecond)
	err := processor.Process(context.Background(), seeded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	documents, chunks := setupRepos(t)
	seeded := seedDocument(t, documents, chunks, "doc-a", 2)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}

	processor := NewBatchProcessor(chunks, embedder, nil, 1, time.Millisecond)
	err := processor.Process(context.Background(), seeded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	_, chunks := setupRepos(t)

	processor := NewBatchProcessor(chunks, mock.NewMockEmbedder(), nil, 1, time.Millisecond)
	assert.NoError(t, processor.Process(context.Background(), nil))
}
