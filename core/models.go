package core

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for content-addressed entities such as chunks.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ContentHash computes the hex-encoded BLAKE2b-256 digest of document content.
// Identical bytes always produce identical hashes, which is the basis for
// idempotent ingestion.
func ContentHash(pages []string) string {
	h, _ := blake2b.New(32, nil)
	for _, page := range pages {
		h.Write([]byte(page))
		h.Write([]byte{0}) // page boundary
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentStatus tracks a document through its indexing lifecycle.
type DocumentStatus int

const (
	// DocumentStatusUploaded means the document is stored but not yet chunked.
	DocumentStatusUploaded DocumentStatus = iota + 1
	// DocumentStatusIndexing means a background indexing job is in flight.
	DocumentStatusIndexing
	// DocumentStatusIndexed means all chunks are written and visible to retrieval.
	DocumentStatusIndexed
	// DocumentStatusFailed means indexing failed; no chunks are retrievable.
	DocumentStatusFailed
)

// String returns the wire representation of the status.
func (s DocumentStatus) String() string {
	switch s {
	case DocumentStatusUploaded:
		return "uploaded"
	case DocumentStatusIndexing:
		return "indexing"
	case DocumentStatusIndexed:
		return "indexed"
	case DocumentStatusFailed:
		return "failed"
	}
	return "unknown"
}

// Document represents an uploaded document owned by a single tenant.
type Document struct {
	Id          string // UUID
	OwnerSub    string
	Filename    string
	ContentHash string // hex BLAKE2b-256, unique per owner
	Status      DocumentStatus
	PageCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is an immutable fragment of an indexed document.
// Reindexing writes new chunks; existing chunks are never mutated in place.
type Chunk struct {
	Id         ID
	DocumentId string
	OwnerSub   string // denormalized from the document for scope filtering
	Page       int    // 1-based page number
	ChunkIndex int    // stable 0-based order within a page
	Text       string
	Vector     []float32
}

// ChunkID derives the content-addressed ID for a chunk.
// The document id, position and text all participate, so a reindexed
// document produces new chunk IDs even for identical text.
func ChunkID(documentID string, page, chunkIndex int, text string) ID {
	buf := make([]byte, 0, len(documentID)+len(text)+16)
	buf = append(buf, documentID...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(page))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(chunkIndex))
	buf = append(buf, text...)
	return IDFromContent(string(buf))
}

// RunStatus tracks a run through its processing lifecycle.
type RunStatus int

const (
	// RunStatusPending means the run is created but processing has not started.
	RunStatusPending RunStatus = iota + 1
	// RunStatusRunning means the run is actively processing.
	RunStatusRunning
	// RunStatusComplete means the run finished successfully.
	RunStatusComplete
	// RunStatusFailed means the run finished with an error.
	RunStatusFailed
)

// String returns the wire representation of the status.
func (s RunStatus) String() string {
	switch s {
	case RunStatusPending:
		return "pending"
	case RunStatusRunning:
		return "running"
	case RunStatusComplete:
		return "complete"
	case RunStatusFailed:
		return "failed"
	}
	return "unknown"
}

// Active reports whether the run is in a state that blocks deletion.
func (s RunStatus) Active() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Run is an owner-scoped unit of work over a set of documents.
// An empty DocumentIds means the owner's whole library.
type Run struct {
	Id          string // UUID
	OwnerSub    string
	Status      RunStatus
	DocumentIds []string // ordered; mutated only via explicit attach
	Config      map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Principal identifies the caller of a request.
type Principal struct {
	Sub         string
	Admin       bool
	Permissions []string

	// BearerToken is the raw request token, checked against the admin
	// digest allowlist by the disclosure gate. Never persisted or logged.
	BearerToken string
}

// SearchMode selects the retrieval scope of a search request.
type SearchMode int

const (
	// SearchModeLibrary searches all indexed documents the caller owns.
	SearchModeLibrary SearchMode = iota + 1
	// SearchModeSelectedDocs searches an explicit set of documents.
	SearchModeSelectedDocs
)

// String returns the wire representation of the mode.
func (m SearchMode) String() string {
	switch m {
	case SearchModeLibrary:
		return "library"
	case SearchModeSelectedDocs:
		return "selected_docs"
	}
	return "unknown"
}

// SearchRequest is a caller's retrieval request.
// Debug is a request for diagnostics, not a guarantee; the disclosure gate decides.
type SearchRequest struct {
	Query       string
	Mode        SearchMode
	DocumentIds []string // required iff Mode is SearchModeSelectedDocs
	RunId       string   // alternative scope; mutually exclusive with DocumentIds
	K           int
	Debug       bool

	// ForOwner searches another owner's library. Admin only; the scope
	// resolver rejects it otherwise and logs the broadening when allowed.
	ForOwner string
}

// Scope is the resolved, authorized document universe for one request.
type Scope struct {
	// DocumentIds is the authorized set. Empty with Reason set means
	// "resolved to zero documents", not "unconstrained".
	DocumentIds []string
	// Reason records how the scope was derived ("mode=library",
	// "mode=selected_docs", "run=<id>").
	Reason string
}

// Contains reports whether a document is inside the scope.
func (s Scope) Contains(documentID string) bool {
	for _, id := range s.DocumentIds {
		if id == documentID {
			return true
		}
	}
	return false
}

// FusedHit is one ranked retrieval result after fusion.
// Per-signal rank contributions stay internal and are never serialized to callers.
type FusedHit struct {
	ChunkId    ID      `json:"chunk_id"`
	DocumentId string  `json:"document_id"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`

	// VectorDistance is the cosine distance from the vector signal,
	// used only for deterministic tie-breaking. Negative means the
	// vector signal did not see this chunk.
	VectorDistance float64 `json:"-"`
	// SignalRanks maps signal name to 1-based rank within that signal's list.
	SignalRanks map[string]int `json:"-"`
}

// Citation maps a fused hit to a stable footnote in a synthesized answer.
type Citation struct {
	// SourceId is the footnote label ("S1", "S2", ...) matching markers
	// embedded in the synthesized answer text.
	SourceId   string
	ChunkId    ID // 0 when drilldown is withheld
	DocumentId string
	Page       int
	Filename   string
	// DrilldownBlockedReason is set when ChunkId is withheld, e.g. because
	// the document was reindexed and the reference went stale. Consumers
	// must treat such citations as non-actionable, not erroneous.
	DrilldownBlockedReason string
}

// SignalDebug summarizes one signal's contribution for the gated debug sidecar.
type SignalDebug struct {
	Name        string  `json:"name"`
	Candidates  int     `json:"candidates"`
	MinScore    float64 `json:"min_score"`
	MedianScore float64 `json:"median_score"`
	MaxScore    float64 `json:"max_score"`
	Failed      bool    `json:"failed"`
}

// RetrievalDebug is the admin-gated diagnostics sidecar.
// It is ephemeral and response-only; it is never persisted and never merged
// into the hit payload.
type RetrievalDebug struct {
	Strategy           string        `json:"strategy"`
	Signals            []SignalDebug `json:"signals"`
	AppliedFilters     []string      `json:"applied_filters"`
	UsedRRFK           float64       `json:"used_rrf_k"`
	UsedMinScore       float64       `json:"used_min_score"`
	UsedMaxVecDistance float64       `json:"used_max_vec_distance"`
}

// SignalFlags records which signals were enabled for a request.
type SignalFlags struct {
	Lexical bool `json:"lexical"`
	Vector  bool `json:"vector"`
	Trigram bool `json:"trigram"`
}

// DebugMeta is the boolean-only debug summary. The struct itself is the
// disclosure allowlist: there is nowhere to put raw text, counts, or
// principal/database identifiers.
type DebugMeta struct {
	FlagsEnabled bool        `json:"flags_enabled"`
	Admin        bool        `json:"admin"`
	Env          string      `json:"env"`
	Signals      SignalFlags `json:"signals"`
}
