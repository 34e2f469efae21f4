package index

import (
	"context"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

// Set bundles the in-memory text indexes so ingestion and deletion update
// them together.
type Set struct {
	Lexical *LexicalIndex
	Trigram *TrigramIndex
}

// NewSet creates empty lexical and trigram indexes.
func NewSet() *Set {
	return &Set{
		Lexical: NewLexicalIndex(),
		Trigram: NewTrigramIndex(),
	}
}

// Add indexes chunks in both indexes.
func (s *Set) Add(chunks ...*core.Chunk) {
	s.Lexical.Add(chunks...)
	s.Trigram.Add(chunks...)
}

// RemoveDocument drops a document's chunks from both indexes.
func (s *Set) RemoveDocument(documentID string) {
	s.Lexical.RemoveDocument(documentID)
	s.Trigram.RemoveDocument(documentID)
}

// Rebuild streams the given documents' chunks out of storage into the
// indexes. Called on open; the text indexes are not persisted.
func (s *Set) Rebuild(ctx context.Context, chunks storage.ChunkRepository, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	return chunks.IterateByDocuments(ctx, documentIDs, func(chunk *core.Chunk) error {
		s.Add(chunk)
		return nil
	})
}
