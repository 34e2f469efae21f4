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


package reembed

import (
	"context"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

const (
	// DefaultBatchSize is the default number of chunks to gather per batch
	DefaultBatchSize = 100
)

// ChunkIterator walks every chunk of every document, batch by batch.
type ChunkIterator struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks per batch (must be > 0)
func NewChunkIterator(documents storage.DocumentRepository, chunks storage.ChunkRepository, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		documents: documents,
		chunks:    chunks,
		batchSize: batchSize,
	}
}

// Count returns the total number of chunks across all documents.
func (it *ChunkIterator) Count(ctx context.Context) (int, error) {
	ids, err := it.documentIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	err = it.chunks.IterateByDocuments(ctx, ids, func(*core.Chunk) error {
		total++
		return nil
	})
	return total, err
}

// ForEach calls fn for each batch of chunks. Iteration stops on the first
// error from fn. Context cancellation is checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]*core.Chunk) error) error {
	ids, err := it.documentIDs(ctx)
	if err != nil {
		return err
	}

	batch := make([]*core.Chunk, 0, it.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		batch = batch[:0]

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	err = it.chunks.IterateByDocuments(ctx, ids, func(chunk *core.Chunk) error {
		batch = append(batch, chunk)
		if len(batch) >= it.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}

	return flush()
}

func (it *ChunkIterator) documentIDs(ctx context.Context) ([]string, error) {
	docs, err := it.documents.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.Id)
	}
	return ids, nil
}
