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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/docquery/ai"
	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

// TextIndexer receives committed chunks for in-memory text indexing.
type TextIndexer interface {
	Add(chunks ...*core.Chunk)
	RemoveDocument(documentID string)
}

// VectorIndexer receives committed chunks for an external vector store.
type VectorIndexer interface {
	Upsert(ctx context.Context, chunks ...*core.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Pipeline orchestrates document upload and background indexing.
// It manages concurrent indexing jobs over a shared worker pool.
type Pipeline struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	embedder  ai.Embedder
	text      TextIndexer
	vectors   VectorIndexer
	pool      *ants.Pool
	logger    *slog.Logger

	mu sync.Mutex
	// inflight keys (owner, hash) pairs with an indexing job running,
	// so a repeated upload never starts a second job.
	inflight map[string]*core.Document
	cancels  map[string]context.CancelFunc
	jobs     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent indexing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithTextIndexer registers the in-memory text indexes to keep current.
func WithTextIndexer(text TextIndexer) Option {
	return func(p *Pipeline) error {
		p.text = text
		return nil
	}
}

// WithVectorIndexer registers an external vector store to keep current.
func WithVectorIndexer(vectors VectorIndexer) Option {
	return func(p *Pipeline) error {
		p.vectors = vectors
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		documents: documents,
		chunks:    chunks,
		embedder:  embedder,
		pool:      pool,
		logger:    slog.Default(),
		inflight:  make(map[string]*core.Document),
		cancels:   make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	return p, nil
}

// Upload stores a document and schedules background indexing.
//
// Uploading the same content for the same owner is idempotent: the
// existing document is returned, whether its indexing already finished or
// is still in flight, and no second job starts.
func (p *Pipeline) Upload(ctx context.Context, ownerSub, filename string, pages []string) (*core.Document, error) {
	if err := core.ValidateUpload(ownerSub, filename, pages); err != nil {
		return nil, err
	}

	hash := core.ContentHash(pages)
	key := ownerSub + "\x00" + hash

	p.mu.Lock()
	if doc, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		return snapshot(doc), nil
	}
	p.mu.Unlock()

	existing, err := p.documents.FindByContentHash(ctx, ownerSub, hash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("checking for existing document: %w", err)
	}

	doc := &core.Document{
		Id:          uuid.NewString(),
		OwnerSub:    ownerSub,
		Filename:    filename,
		ContentHash: hash,
		Status:      core.DocumentStatusUploaded,
		PageCount:   len(pages),
	}

	p.mu.Lock()
	if raced, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		return snapshot(raced), nil
	}
	added, err := p.documents.AddDocument(ctx, doc)
	if err != nil {
		p.mu.Unlock()
		if errors.Is(err, storage.ErrDuplicateKey) {
			return p.documents.FindByContentHash(ctx, ownerSub, hash)
		}
		return nil, err
	}

	// The indexing job keeps mutating added; callers and the in-flight
	// table get their own copies, taken before the job can start.
	result := snapshot(added)

	// Jobs outlive the upload request, so they run on their own context.
	jobCtx, cancel := context.WithCancel(context.Background())
	p.inflight[key] = snapshot(added)
	p.cancels[added.Id] = cancel
	p.mu.Unlock()

	p.jobs.Add(1)
	if err := p.pool.Submit(func() {
		defer p.jobs.Done()
		defer p.finish(key, added.Id)
		p.index(jobCtx, added, pages)
	}); err != nil {
		p.jobs.Done()
		p.finish(key, added.Id)
		p.fail(added, fmt.Errorf("submitting indexing job: %w", err))
		return snapshot(added), nil
	}

	return result, nil
}

func snapshot(doc *core.Document) *core.Document {
	copied := *doc
	return &copied
}

// CancelIndexing cancels the in-flight indexing job of a document, if any.
// The document ends up failed with its partial chunks removed.
func (p *Pipeline) CancelIndexing(documentID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[documentID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Wait blocks until all scheduled indexing jobs finish.
func (p *Pipeline) Wait() {
	p.jobs.Wait()
}

// Release cancels outstanding jobs and releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.mu.Unlock()

	p.jobs.Wait()
	if p.pool != nil {
		p.pool.Release()
	}
}

func (p *Pipeline) finish(key, documentID string) {
	p.mu.Lock()
	delete(p.inflight, key)
	if cancel, ok := p.cancels[documentID]; ok {
		cancel()
		delete(p.cancels, documentID)
	}
	p.mu.Unlock()
}

// index runs one background indexing job: chunk, embed, commit, register,
// then flip the status. Chunks become retrievable only after the whole
// batch is committed.
func (p *Pipeline) index(ctx context.Context, doc *core.Document, pages []string) {
	logger := p.logger.With("document", doc.Id)

	doc.Status = core.DocumentStatusIndexing
	if _, err := p.documents.UpdateDocument(ctx, doc); err != nil {
		logger.Error("error marking document indexing", "err", err)
		p.fail(doc, err)
		return
	}

	chunks, err := p.buildChunks(ctx, doc, pages)
	if err != nil {
		logger.Error("error building chunks", "err", err)
		p.fail(doc, err)
		return
	}

	if err := p.chunks.AddChunks(ctx, chunks...); err != nil {
		logger.Error("error writing chunks", "err", err)
		p.fail(doc, err)
		return
	}

	if p.vectors != nil {
		if err := p.vectors.Upsert(ctx, chunks...); err != nil {
			logger.Error("error upserting vectors", "err", err)
			p.fail(doc, err)
			return
		}
	}
	if p.text != nil {
		p.text.Add(chunks...)
	}

	doc.Status = core.DocumentStatusIndexed
	if _, err := p.documents.UpdateDocument(ctx, doc); err != nil {
		logger.Error("error marking document indexed", "err", err)
		p.fail(doc, err)
		return
	}
	logger.Info("document indexed", "pages", len(pages), "chunks", len(chunks))
}

// fail marks the document failed and removes anything the failed attempt
// wrote. Runs on a fresh context; the job's context may already be
// canceled.
func (p *Pipeline) fail(doc *core.Document, cause error) {
	ctx := context.Background()
	logger := p.logger.With("document", doc.Id)

	if err := p.chunks.DeleteChunksByDocument(ctx, doc.Id); err != nil {
		logger.Error("error removing chunks of failed document", "err", err)
	}
	if p.text != nil {
		p.text.RemoveDocument(doc.Id)
	}
	if p.vectors != nil {
		if err := p.vectors.DeleteByDocument(ctx, doc.Id); err != nil {
			logger.Error("error removing vectors of failed document", "err", err)
		}
	}

	doc.Status = core.DocumentStatusFailed
	if _, err := p.documents.UpdateDocument(ctx, doc); err != nil {
		logger.Error("error marking document failed", "err", err)
	}
	logger.Warn("document indexing failed", "err", cause)
}

// buildChunks chunks every page and embeds all chunk texts in one batch.
func (p *Pipeline) buildChunks(ctx context.Context, doc *core.Document, pages []string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	for pageIdx, page := range pages {
		pageNum := pageIdx + 1
		for chunkIdx, text := range chunkPage(page) {
			chunks = append(chunks, &core.Chunk{
				Id:         core.ChunkID(doc.Id, pageNum, chunkIdx, text),
				DocumentId: doc.Id,
				OwnerSub:   doc.OwnerSub,
				Page:       pageNum,
				ChunkIndex: chunkIdx,
				Text:       text,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, core.ErrEmptyDocument
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedderUnavailable, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, chunk := range chunks {
		chunk.Vector = vectors[i]
	}
	return chunks, nil
}

// Reindex replaces a document's chunks with a freshly chunked and embedded
// revision. Unchanged content is a no-op. The swap is one storage
// transaction, so retrieval sees either the old revision or the new one,
// never a gap.
func (p *Pipeline) Reindex(ctx context.Context, documentID string, pages []string) (*core.Document, error) {
	doc, err := p.documents.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
		}
		return nil, err
	}

	hash := core.ContentHash(pages)
	if hash == doc.ContentHash && doc.Status == core.DocumentStatusIndexed {
		return doc, nil
	}

	doc.ContentHash = hash
	doc.PageCount = len(pages)
	chunks, err := p.buildChunks(ctx, doc, pages)
	if err != nil {
		return nil, err
	}

	err = p.chunks.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := p.chunks.DeleteChunksByDocument(txCtx, documentID); err != nil {
			return err
		}
		return p.chunks.AddChunks(txCtx, chunks...)
	})
	if err != nil {
		return nil, fmt.Errorf("swapping chunk revision: %w", err)
	}

	if p.text != nil {
		p.text.RemoveDocument(documentID)
		p.text.Add(chunks...)
	}
	if p.vectors != nil {
		if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
			p.logger.Error("error removing old vectors", "document", documentID, "err", err)
		}
		if err := p.vectors.Upsert(ctx, chunks...); err != nil {
			return nil, fmt.Errorf("upserting vectors: %w", err)
		}
	}

	doc.Status = core.DocumentStatusIndexed
	return p.documents.UpdateDocument(ctx, doc)
}

// Delete removes a document, its chunks and its index entries.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	p.CancelIndexing(documentID)

	if err := p.documents.DeleteDocument(ctx, documentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
		}
		return err
	}
	if err := p.chunks.DeleteChunksByDocument(ctx, documentID); err != nil {
		return err
	}
	if p.text != nil {
		p.text.RemoveDocument(documentID)
	}
	if p.vectors != nil {
		if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
			return err
		}
	}
	return nil
}
