package index

import (
	"context"
	"sort"
	"sync"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/rank"
)

// minTrigramSimilarity drops near-noise matches. Matches the pg_trgm
// default similarity threshold.
const minTrigramSimilarity = 0.3

// TrigramIndex matches queries against chunk text by trigram overlap,
// scored with Jaccard similarity. It catches typos and partial words the
// lexical index misses. Safe for concurrent use.
type TrigramIndex struct {
	mu sync.RWMutex

	// postings maps trigram -> set of chunks containing it.
	postings map[string]map[core.ID]struct{}
	sizes    map[core.ID]int // trigram set size per chunk
	docs     map[core.ID]string
	byDoc    map[string][]core.ID
}

var _ rank.Signal = (*TrigramIndex)(nil)

// NewTrigramIndex creates an empty trigram index.
func NewTrigramIndex() *TrigramIndex {
	return &TrigramIndex{
		postings: make(map[string]map[core.ID]struct{}),
		sizes:    make(map[core.ID]int),
		docs:     make(map[core.ID]string),
		byDoc:    make(map[string][]core.ID),
	}
}

func (idx *TrigramIndex) Name() string {
	return "trigram"
}

// Add indexes chunks. Re-adding an indexed chunk is a no-op.
func (idx *TrigramIndex) Add(chunks ...*core.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, chunk := range chunks {
		if _, exists := idx.sizes[chunk.Id]; exists {
			continue
		}
		set := trigrams(chunk.Text)
		idx.sizes[chunk.Id] = len(set)
		idx.docs[chunk.Id] = chunk.DocumentId
		idx.byDoc[chunk.DocumentId] = append(idx.byDoc[chunk.DocumentId], chunk.Id)

		for gram := range set {
			posting, ok := idx.postings[gram]
			if !ok {
				posting = make(map[core.ID]struct{})
				idx.postings[gram] = posting
			}
			posting[chunk.Id] = struct{}{}
		}
	}
}

// RemoveDocument drops every chunk of a document from the index.
func (idx *TrigramIndex) RemoveDocument(documentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids := idx.byDoc[documentID]
	if len(ids) == 0 {
		return
	}
	delete(idx.byDoc, documentID)

	removed := make(map[core.ID]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
		delete(idx.sizes, id)
		delete(idx.docs, id)
	}

	for gram, posting := range idx.postings {
		for id := range removed {
			delete(posting, id)
		}
		if len(posting) == 0 {
			delete(idx.postings, gram)
		}
	}
}

// Rank returns scoped chunks by trigram Jaccard similarity to the query,
// highest first, chunk ID as tie-break. Candidates below the similarity
// threshold are dropped.
func (idx *TrigramIndex) Rank(ctx context.Context, q rank.Query, scope core.Scope, limit int) ([]rank.Candidate, error) {
	queryGrams := trigrams(q.Text)
	if len(queryGrams) == 0 || limit <= 0 {
		return nil, nil
	}

	inScope := make(map[string]struct{}, len(scope.DocumentIds))
	for _, id := range scope.DocumentIds {
		inScope[id] = struct{}{}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	overlap := make(map[core.ID]int)
	for gram := range queryGrams {
		for id := range idx.postings[gram] {
			if _, ok := inScope[idx.docs[id]]; !ok {
				continue
			}
			overlap[id]++
		}
	}

	candidates := make([]rank.Candidate, 0, len(overlap))
	for id, shared := range overlap {
		union := len(queryGrams) + idx.sizes[id] - shared
		score := float64(shared) / float64(union)
		if score < minTrigramSimilarity {
			continue
		}
		candidates = append(candidates, rank.Candidate{ChunkId: id, Score: score, Distance: -1})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkId < candidates[j].ChunkId
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
