package storage

import (
	"context"

	"github.com/poiesic/docquery/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// WithTransaction executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// DocumentRepository provides operations for managing documents.
type DocumentRepository interface {
	Repository

	// AddDocument stores a new document. The caller sets the Id.
	// Returns ErrDuplicateKey if (OwnerSub, ContentHash) already exists.
	AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// UpdateDocument updates an existing document.
	// Updates the UpdatedAt timestamp automatically.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// DeleteDocument removes a document by ID, including its owner and
	// content-hash index entries. Chunks are deleted separately.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id string) error

	// GetDocument retrieves a single document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// GetDocuments retrieves multiple documents by their IDs.
	// Returns only the documents that exist (no error for missing documents).
	GetDocuments(ctx context.Context, ids ...string) ([]*core.Document, error)

	// FindByContentHash looks up a document by (owner, content hash).
	// Returns ErrNotFound if no matching document exists.
	FindByContentHash(ctx context.Context, ownerSub, contentHash string) (*core.Document, error)

	// ListByOwner returns all documents belonging to an owner,
	// ordered by creation time.
	ListByOwner(ctx context.Context, ownerSub string) ([]*core.Document, error)

	// ListAll returns every document across all owners.
	// Used to rebuild in-memory indexes on open.
	ListAll(ctx context.Context) ([]*core.Document, error)
}

// ChunkRepository provides operations for managing immutable chunks.
type ChunkRepository interface {
	Repository

	// AddChunks stores chunks. Chunks are immutable; there is no update.
	// Returns ErrDuplicateKey if a chunk with the same ID already exists.
	AddChunks(ctx context.Context, chunks ...*core.Chunk) error

	// DeleteChunksByDocument removes every chunk of a document.
	// Used when a document is deleted or reindexed.
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// GetChunks retrieves multiple chunks by their IDs.
	// Returns only the chunks that exist (no error for missing chunks).
	GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error)

	// GetChunksByDocument returns a document's chunks ordered by
	// (page, chunk index).
	GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// FindSimilar finds chunks similar to the given vector, restricted to the
	// given document scope. Results are ordered by similarity (highest first),
	// up to limit. An empty scope matches nothing.
	FindSimilar(ctx context.Context, vector []float32, scope core.Scope, minSimilarity float32, limit int) ([]*ChunkMatch, error)

	// IterateByDocuments streams every chunk of the given documents to fn.
	// Used to rebuild in-memory indexes on open. Iteration stops on error.
	IterateByDocuments(ctx context.Context, documentIDs []string, fn func(*core.Chunk) error) error

	// UpdateChunkVectors rewrites the stored vectors of existing chunks.
	// Chunk text and identity never change; this exists only for
	// re-embedding after an embedding model switch.
	// Returns ErrNotFound if any chunk doesn't exist.
	UpdateChunkVectors(ctx context.Context, chunks ...*core.Chunk) error
}

// ChunkMatch is a chunk returned from vector similarity search.
type ChunkMatch struct {
	Chunk *core.Chunk
	// Score is cosine similarity in [-1, 1] (dot product of normalized vectors).
	Score float32
}

// RunRepository provides operations for managing runs.
type RunRepository interface {
	Repository

	// AddRun stores a new run. The caller sets the Id.
	AddRun(ctx context.Context, run *core.Run) (*core.Run, error)

	// UpdateRun updates an existing run.
	// Updates the UpdatedAt timestamp automatically.
	// Returns ErrNotFound if the run doesn't exist.
	UpdateRun(ctx context.Context, run *core.Run) (*core.Run, error)

	// DeleteRun removes a run by ID. Callers enforce the active-status
	// rejection before calling; the repository only handles storage.
	// Returns ErrNotFound if the run doesn't exist.
	DeleteRun(ctx context.Context, id string) error

	// GetRun retrieves a single run by ID.
	// Returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, id string) (*core.Run, error)

	// ListByOwner returns all runs belonging to an owner,
	// ordered by creation time.
	ListByOwner(ctx context.Context, ownerSub string) ([]*core.Run, error)
}
