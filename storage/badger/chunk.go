package badger

import (
	"context"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// Chunks are immutable: there is no update path, only add and delete.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	return &ChunkRepository{backend: backend}, nil
}

// Close releases repository resources.
func (r *ChunkRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *ChunkRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// AddChunks stores chunks and their per-document index entries.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) error {
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			key := makeChunkKey(chunk.Id)
			if _, err := tx.Get(key); err == nil {
				return storage.ErrDuplicateKey
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			docKey := makeChunkDocumentKey(chunk.DocumentId, chunk.Page, chunk.ChunkIndex, chunk.Id)
			if err := tx.Set(docKey, storage.MarshalID(chunk.Id)); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// DeleteChunksByDocument removes every chunk of a document.
func (r *ChunkRepository) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	// Collect first, delete second: badger forbids deleting under an open iterator.
	var docKeys [][]byte
	var ids []core.ID
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkDocumentKey(documentID)
		opts.PrefetchValues = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			docKeys = append(docKeys, item.KeyCopy(nil))
			if err := item.Value(func(val []byte) error {
				id, err := storage.UnmarshalID(val)
				if err != nil {
					return err
				}
				ids = append(ids, id)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return err
	}

	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for i, docKey := range docKeys {
			if err := tx.Delete(docKey); err != nil {
				return err
			}
			if err := tx.Delete(makeChunkKey(ids[i])); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		var err error
		chunk, err = r.readChunk(tx, makeChunkKey(id))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, storage.ErrNotFound
	}
	return chunk, nil
}

// GetChunks retrieves multiple chunks by their IDs.
// Missing chunks are skipped without error.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	chunks := make([]*core.Chunk, 0, len(ids))
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := r.readChunk(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if chunk != nil {
				chunks = append(chunks, chunk)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunksByDocument returns a document's chunks in (page, chunk index) order.
func (r *ChunkRepository) GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.IterateByDocuments(ctx, []string{documentID}, func(chunk *core.Chunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// IterateByDocuments streams every chunk of the given documents to fn.
func (r *ChunkRepository) IterateByDocuments(ctx context.Context, documentIDs []string, fn func(*core.Chunk) error) error {
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, docID := range documentIDs {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = makePartialChunkDocumentKey(docID)
			iter := tx.NewIterator(opts)

			for iter.Rewind(); iter.Valid(); iter.Next() {
				var id core.ID
				if err := iter.Item().Value(func(val []byte) error {
					var err error
					id, err = storage.UnmarshalID(val)
					return err
				}); err != nil {
					iter.Close()
					return err
				}
				chunk, err := r.readChunk(tx, makeChunkKey(id))
				if err != nil {
					iter.Close()
					return err
				}
				if chunk == nil {
					continue
				}
				if err := fn(chunk); err != nil {
					iter.Close()
					return err
				}
			}
			iter.Close()
		}
		return nil
	}, false)
}

// UpdateChunkVectors overwrites the stored records of existing chunks.
// The per-document index entries are untouched: chunk identity and position
// never change here, only the vector.
func (r *ChunkRepository) UpdateChunkVectors(ctx context.Context, chunks ...*core.Chunk) error {
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			key := makeChunkKey(chunk.Id)
			if _, err := tx.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return storage.ErrNotFound
				}
				return err
			}
			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// FindSimilar scans the scoped documents' chunks and ranks them by cosine
// similarity (dot product of normalized vectors). An empty scope matches
// nothing: scope filtering happens before ranking so cross-tenant rank
// information cannot leak.
func (r *ChunkRepository) FindSimilar(ctx context.Context, vector []float32, scope core.Scope, minSimilarity float32, limit int) ([]*storage.ChunkMatch, error) {
	var results []*storage.ChunkMatch

	err := r.IterateByDocuments(ctx, scope.DocumentIds, func(chunk *core.Chunk) error {
		if len(chunk.Vector) == 0 {
			return nil
		}
		similarity := dotProduct(vector, chunk.Vector)
		if similarity >= minSimilarity {
			results = append(results, &storage.ChunkMatch{
				Chunk: chunk,
				Score: similarity,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, chunk ID ascending on ties for determinism
	slices.SortFunc(results, func(a, b *storage.ChunkMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.Chunk.Id < b.Chunk.Id {
			return -1
		}
		if a.Chunk.Id > b.Chunk.Id {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// readChunk reads and unmarshals a chunk, returning nil if absent.
func (r *ChunkRepository) readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
