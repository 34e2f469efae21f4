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


package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/rank"
)

// BM25 parameters. Standard values; k1 controls term frequency saturation,
// b controls length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// chunkStats holds the per-chunk state the scorer needs.
type chunkStats struct {
	documentID string
	length     int // token count
}

// LexicalIndex is an in-memory inverted index scored with BM25.
// Safe for concurrent use.
type LexicalIndex struct {
	mu sync.RWMutex

	// postings maps term -> chunk -> term frequency.
	postings map[string]map[core.ID]int
	chunks   map[core.ID]chunkStats
	byDoc    map[string][]core.ID

	totalTokens int
}

var _ rank.Signal = (*LexicalIndex)(nil)

// NewLexicalIndex creates an empty lexical index.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{
		postings: make(map[string]map[core.ID]int),
		chunks:   make(map[core.ID]chunkStats),
		byDoc:    make(map[string][]core.ID),
	}
}

func (idx *LexicalIndex) Name() string {
	return "lexical"
}

// Add indexes chunks. Re-adding an already indexed chunk is a no-op;
// chunk IDs are content-addressed, so the indexed text cannot have changed.
func (idx *LexicalIndex) Add(chunks ...*core.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, chunk := range chunks {
		if _, exists := idx.chunks[chunk.Id]; exists {
			continue
		}
		tokens := tokenize(chunk.Text)
		idx.chunks[chunk.Id] = chunkStats{documentID: chunk.DocumentId, length: len(tokens)}
		idx.byDoc[chunk.DocumentId] = append(idx.byDoc[chunk.DocumentId], chunk.Id)
		idx.totalTokens += len(tokens)

		for _, token := range tokens {
			posting, ok := idx.postings[token]
			if !ok {
				posting = make(map[core.ID]int)
				idx.postings[token] = posting
			}
			posting[chunk.Id]++
		}
	}
}

// RemoveDocument drops every chunk of a document from the index.
func (idx *LexicalIndex) RemoveDocument(documentID string) {
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
		idx.totalTokens -= idx.chunks[id].length
		delete(idx.chunks, id)
	}

	for token, posting := range idx.postings {
		for id := range removed {
			delete(posting, id)
		}
		if len(posting) == 0 {
			delete(idx.postings, token)
		}
	}
}

// Rank scores scoped chunks against the query with BM25 and returns the
// top candidates, ordered by score descending with chunk ID as tie-break.
func (idx *LexicalIndex) Rank(ctx context.Context, q rank.Query, scope core.Scope, limit int) ([]rank.Candidate, error) {
	terms := tokenize(q.Text)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	inScope := make(map[string]struct{}, len(scope.DocumentIds))
	for _, id := range scope.DocumentIds {
		inScope[id] = struct{}{}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.chunks)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(idx.totalTokens) / float64(n)

	scores := make(map[core.ID]float64)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		// repeated query terms score once
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		posting := idx.postings[term]
		if len(posting) == 0 {
			continue
		}
		df := float64(len(posting))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))

		for id, tf := range posting {
			stats := idx.chunks[id]
			if _, ok := inScope[stats.documentID]; !ok {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(stats.length)/avgLen
			tfF := float64(tf)
			scores[id] += idf * tfF * (bm25K1 + 1) / (tfF + bm25K1*norm)
		}
	}

	candidates := make([]rank.Candidate, 0, len(scores))
	for id, score := range scores {
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
