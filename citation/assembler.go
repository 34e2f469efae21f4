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


package citation

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

// StaleChunkReason marks a citation whose chunk reference no longer
// resolves, typically because the document was reindexed after retrieval.
const StaleChunkReason = "stale_chunk_reference"

// Assembler builds footnoted synthesis context and citations from fused
// hits. Safe for concurrent use.
type Assembler struct {
	chunks     storage.ChunkRepository
	quarantine *Quarantine
}

// NewAssembler creates an assembler. The chunk repository is used to
// re-verify chunk references at assembly time; chunks can go stale between
// retrieval and assembly when a document is reindexed.
func NewAssembler(chunks storage.ChunkRepository) *Assembler {
	return &Assembler{
		chunks:     chunks,
		quarantine: NewQuarantine(),
	}
}

// Assemble returns one citation per hit, in hit order, plus the synthesis
// context string. docs maps document id to document for filename lookup.
//
// SourceId is "S<n>" by position; the same markers label the context
// blocks, so footnotes in a synthesized answer resolve to citations. Hit
// text enters the context only after quarantine.
func (a *Assembler) Assemble(ctx context.Context, hits []core.FusedHit, docs map[string]*core.Document) ([]core.Citation, string, error) {
	if len(hits) == 0 {
		return []core.Citation{}, "", nil
	}

	resolvable, err := a.resolvable(ctx, hits)
	if err != nil {
		return nil, "", err
	}

	citations := make([]core.Citation, 0, len(hits))
	var b strings.Builder
	for i, hit := range hits {
		sourceID := fmt.Sprintf("S%d", i+1)

		cit := core.Citation{
			SourceId:   sourceID,
			DocumentId: hit.DocumentId,
			Page:       hit.Page,
		}
		if doc, ok := docs[hit.DocumentId]; ok {
			cit.Filename = doc.Filename
		}
		if resolvable[hit.ChunkId] {
			cit.ChunkId = hit.ChunkId
		} else {
			cit.DrilldownBlockedReason = StaleChunkReason
		}
		citations = append(citations, cit)

		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s (page %d)\n", sourceID, cit.Filename, hit.Page)
		b.WriteString(a.quarantine.Clean(hit.Text))
	}

	return citations, b.String(), nil
}

// resolvable checks which hit chunk ids still exist in storage.
func (a *Assembler) resolvable(ctx context.Context, hits []core.FusedHit) (map[core.ID]bool, error) {
	ids := make([]core.ID, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ChunkId
	}
	chunks, err := a.chunks.GetChunks(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("verifying chunk references: %w", err)
	}

	found := make(map[core.ID]bool, len(chunks))
	for _, chunk := range chunks {
		found[chunk.Id] = true
	}
	return found, nil
}
