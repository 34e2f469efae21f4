package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIDFromContent(t *testing.T) {
	a := IDFromContent("hello world")
	b := IDFromContent("hello world")
	if a != b {
		t.Fatalf("same content produced different IDs: %d vs %d", a, b)
	}

	c := IDFromContent("hello world!")
	if a == c {
		t.Fatal("different content produced the same ID")
	}

	if IDFromContent("") == 0 {
		t.Fatal("empty content should still hash to a non-zero ID")
	}
}

func TestChunkID(t *testing.T) {
	base := ChunkID("doc-1", 1, 0, "some text")

	if got := ChunkID("doc-1", 1, 0, "some text"); got != base {
		t.Fatal("chunk ID is not deterministic")
	}
	if got := ChunkID("doc-2", 1, 0, "some text"); got == base {
		t.Fatal("document id should participate in the chunk ID")
	}
	if got := ChunkID("doc-1", 2, 0, "some text"); got == base {
		t.Fatal("page should participate in the chunk ID")
	}
	if got := ChunkID("doc-1", 1, 1, "some text"); got == base {
		t.Fatal("chunk index should participate in the chunk ID")
	}
	if got := ChunkID("doc-1", 1, 0, "other text"); got == base {
		t.Fatal("text should participate in the chunk ID")
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]string{"page one", "page two"})
	b := ContentHash([]string{"page one", "page two"})
	if a != b {
		t.Fatal("same pages produced different hashes")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}

	// Page boundaries matter: the same bytes split differently are
	// different documents.
	c := ContentHash([]string{"page onepage two"})
	if a == c {
		t.Fatal("page boundary should participate in the hash")
	}
}

func TestDocumentStatusString(t *testing.T) {
	tests := []struct {
		status DocumentStatus
		want   string
	}{
		{DocumentStatusUploaded, "uploaded"},
		{DocumentStatusIndexing, "indexing"},
		{DocumentStatusIndexed, "indexed"},
		{DocumentStatusFailed, "failed"},
		{DocumentStatus(0), "unknown"},
		{DocumentStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("DocumentStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
		active bool
	}{
		{RunStatusPending, "pending", true},
		{RunStatusRunning, "running", true},
		{RunStatusComplete, "complete", false},
		{RunStatusFailed, "failed", false},
		{RunStatus(0), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("RunStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
		if got := tt.status.Active(); got != tt.active {
			t.Errorf("RunStatus(%d).Active() = %v, want %v", tt.status, got, tt.active)
		}
	}
}

func TestFusedHitJSONShape(t *testing.T) {
	hit := FusedHit{
		ChunkId:        ChunkID("doc-1", 3, 0, "refund policy"),
		DocumentId:     "doc-1",
		Page:           3,
		ChunkIndex:     0,
		Text:           "refund policy",
		Score:          0.032,
		VectorDistance: 0.41,
		SignalRanks:    map[string]int{"lexical": 1, "vector": 2},
	}

	data, err := json.Marshal(hit)
	if err != nil {
		t.Fatalf("marshal hit: %v", err)
	}
	body := string(data)

	for _, key := range []string{
		`"chunk_id"`, `"document_id"`, `"page"`, `"chunk_index"`, `"text"`, `"score"`,
	} {
		if !strings.Contains(body, key) {
			t.Errorf("expected key %s in %s", key, body)
		}
	}
	for _, leak := range []string{"VectorDistance", "SignalRanks", "vector_distance", "signal_ranks", "lexical"} {
		if strings.Contains(body, leak) {
			t.Errorf("internal field %s leaked into %s", leak, body)
		}
	}
}

func TestScopeContains(t *testing.T) {
	scope := Scope{DocumentIds: []string{"doc-1", "doc-2"}, Reason: "mode=selected_docs"}

	if !scope.Contains("doc-1") {
		t.Fatal("expected doc-1 in scope")
	}
	if scope.Contains("doc-3") {
		t.Fatal("doc-3 should not be in scope")
	}
	if (Scope{}).Contains("doc-1") {
		t.Fatal("empty scope should contain nothing")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{ErrEmptyQuery, CodeValidation},
		{ErrMissingDocumentIDs, CodeValidation},
		{ErrUnexpectedDocumentIDs, CodeValidation},
		{ErrAmbiguousScope, CodeValidation},
		{ErrInvalidMode, CodeValidation},
		{ErrEmptyDocument, CodeValidation},
		{ErrInvalidPrincipal, CodeValidation},
		{ErrOwnerOverrideDenied, CodeValidation},
		{ErrNotFound, CodeNotFound},
		{ErrAllSignalsDisabled, CodeConfiguration},
		{ErrEmbedderUnavailable, CodeConfiguration},
		{ErrRunActive, CodeConflict},
		{errors.New("disk on fire"), CodeInternal},
		{fmt.Errorf("document %s: %w", "abc", ErrNotFound), CodeNotFound},
		{fmt.Errorf("embed: %w", ErrEmbedderUnavailable), CodeConfiguration},
	}

	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
