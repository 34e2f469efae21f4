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


package docquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/poiesic/docquery/access"
	"github.com/poiesic/docquery/ai"
	"github.com/poiesic/docquery/ai/openai"
	"github.com/poiesic/docquery/citation"
	"github.com/poiesic/docquery/config"
	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/gate"
	"github.com/poiesic/docquery/index"
	"github.com/poiesic/docquery/ingestion"
	"github.com/poiesic/docquery/rank"
	"github.com/poiesic/docquery/reembed"
	"github.com/poiesic/docquery/storage"
	"github.com/poiesic/docquery/storage/badger"
)

// Database is the retrieval engine facade: storage, signals, fusion,
// access control, disclosure and ingestion wired from one configuration.
type Database struct {
	cfg        config.Config
	backend    *badger.Backend
	documents  storage.DocumentRepository
	chunks     storage.ChunkRepository
	runs       storage.RunRepository
	embedder   ai.Embedder
	indexes    *index.Set
	ranker     *rank.Ranker
	resolver   *access.Resolver
	gate       *gate.Gate
	quarantine *citation.Quarantine
	assembler  *citation.Assembler
	pipeline   *ingestion.Pipeline
	vectors    ingestion.VectorIndexer // nil without an external vector store
	logger     *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	embedder ai.Embedder
	logger   *slog.Logger
}

// WithEmbedder injects an embedder instead of constructing the configured
// OpenAI-compatible one. Used by tests and embedded deployments.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewDatabase opens storage, rebuilds the text indexes and wires the
// retrieval engine from cfg.
func NewDatabase(cfg config.Config, opts ...DatabaseOption) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger

	backend, err := badger.OpenBackend(cfg.DBPath, cfg.InMemory)
	if err != nil {
		return nil, err
	}

	documents, err := badger.NewDocumentRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	chunks, err := badger.NewChunkRepository(backend)
	if err != nil {
		documents.Close()
		backend.Close()
		return nil, err
	}
	runs, err := badger.NewRunRepository(backend)
	if err != nil {
		chunks.Close()
		documents.Close()
		backend.Close()
		return nil, err
	}

	closeAll := func() {
		runs.Close()
		chunks.Close()
		documents.Close()
		backend.Close()
	}

	embedder := options.embedder
	if embedder == nil {
		aiCfg := ai.DefaultConfig()
		aiCfg.EmbeddingHost = cfg.EmbeddingHost
		aiCfg.EmbeddingModel = cfg.EmbeddingModel
		aiCfg.APIToken = cfg.APIToken
		embedder, err = openai.NewEmbedder(aiCfg)
		if err != nil {
			closeAll()
			return nil, err
		}
	}

	indexes := index.NewSet()
	if err := rebuildIndexes(documents, chunks, indexes); err != nil {
		closeAll()
		return nil, err
	}

	var vectorIndexer ingestion.VectorIndexer
	vectorSignal := rank.Signal(rank.Disabled("vector"))
	if cfg.Signals.Vector {
		if cfg.QdrantHost != "" {
			qdrant := index.NewQdrantSignal(cfg.QdrantHost, cfg.QdrantCollection)
			vectorSignal = qdrant
			vectorIndexer = qdrant
		} else {
			vectorSignal = index.NewVectorSignal(chunks, 0)
		}
	}
	lexicalSignal := rank.Signal(rank.Disabled("lexical"))
	if cfg.Signals.Lexical {
		lexicalSignal = indexes.Lexical
	}
	trigramSignal := rank.Signal(rank.Disabled("trigram"))
	if cfg.Signals.Trigram {
		trigramSignal = indexes.Trigram
	}

	ranker, err := rank.NewRanker(
		[]rank.Signal{lexicalSignal, vectorSignal, trigramSignal},
		embedder,
		chunks,
		rank.WithLogger(logger),
		rank.WithConfig(rank.Config{
			RRFK:              cfg.RRFK,
			MinScore:          cfg.MinScore,
			MaxVectorDistance: cfg.MaxVectorDistance,
		}),
	)
	if err != nil {
		closeAll()
		return nil, err
	}

	resolver, err := access.NewResolver(documents, runs, access.WithLogger(logger))
	if err != nil {
		closeAll()
		return nil, err
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithTextIndexer(indexes),
		ingestion.WithLogger(logger),
	}
	if vectorIndexer != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithVectorIndexer(vectorIndexer))
	}
	pipeline, err := ingestion.NewPipeline(documents, chunks, embedder, pipelineOpts...)
	if err != nil {
		closeAll()
		return nil, err
	}

	return &Database{
		cfg:        cfg,
		backend:    backend,
		documents:  documents,
		chunks:     chunks,
		runs:       runs,
		embedder:   embedder,
		indexes:    indexes,
		ranker:     ranker,
		resolver:   resolver,
		gate:       gate.NewGate(cfg.DeployConfig(), gate.WithLogger(logger)),
		quarantine: citation.NewQuarantine(),
		assembler:  citation.NewAssembler(chunks),
		pipeline:   pipeline,
		vectors:    vectorIndexer,
		logger:     logger,
	}, nil
}

// rebuildIndexes streams all indexed documents' chunks into the in-memory
// text indexes. They are not persisted; open cost buys cheap queries.
func rebuildIndexes(documents storage.DocumentRepository, chunks storage.ChunkRepository, indexes *index.Set) error {
	ctx := context.Background()
	docs, err := documents.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing documents for index rebuild: %w", err)
	}
	var ids []string
	for _, doc := range docs {
		if doc.Status == core.DocumentStatusIndexed {
			ids = append(ids, doc.Id)
		}
	}
	return indexes.Rebuild(ctx, chunks, ids)
}

// Close drains ingestion and closes all storage.
func (db *Database) Close() error {
	db.pipeline.Release()

	if err := db.runs.Close(); err != nil {
		db.logger.Error("error closing run repository", "err", err)
		return err
	}
	if err := db.chunks.Close(); err != nil {
		db.logger.Error("error closing chunk repository", "err", err)
		return err
	}
	if err := db.documents.Close(); err != nil {
		db.logger.Error("error closing document repository", "err", err)
		return err
	}
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

// SearchResponse is the result of one search request. RetrievalDebug and
// DebugMeta are present only when the disclosure gate allowed them.
type SearchResponse struct {
	Hits            []core.FusedHit      `json:"hits"`
	DocFilterReason string               `json:"doc_filter_reason"`
	RetrievalDebug  *core.RetrievalDebug `json:"retrieval_debug,omitempty"`
	DebugMeta       *core.DebugMeta      `json:"debug_meta,omitempty"`
}

// Search validates the request, resolves the caller's scope, runs the
// fused retrieval and applies the disclosure gate once. Hit text passes
// the injection quarantine before it is returned.
func (db *Database) Search(ctx context.Context, principal core.Principal, req core.SearchRequest) (*SearchResponse, error) {
	if err := core.ValidateSearchRequest(&req); err != nil {
		return nil, err
	}
	k := core.NormalizeK(req.K)

	scope, err := db.resolver.Resolve(ctx, principal, req)
	if err != nil {
		return nil, err
	}

	hits, debug, err := db.ranker.Search(ctx, req.Query, scope, k)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Text = db.quarantine.Clean(hits[i].Text)
	}

	decision := db.gate.Decide(req.Debug, principal, principal.BearerToken)
	resp := &SearchResponse{
		Hits:            hits,
		DocFilterReason: scope.Reason,
		DebugMeta:       db.gate.BuildMeta(decision),
	}
	if decision.IncludeRetrievalDebug {
		resp.RetrievalDebug = debug
	}
	return resp, nil
}

// ChatContext is retrieval packaged for answer synthesis: quarantined,
// footnoted context plus the citations resolving those footnotes.
type ChatContext struct {
	Context   string          `json:"context"`
	Citations []core.Citation `json:"citations"`
}

// RetrieveForChat runs a search and assembles its hits into synthesis
// context. All retrieved text passes the injection quarantine before it
// is returned.
func (db *Database) RetrieveForChat(ctx context.Context, principal core.Principal, question string, req core.SearchRequest) (*ChatContext, error) {
	req.Query = question
	resp, err := db.Search(ctx, principal, req)
	if err != nil {
		return nil, err
	}

	docIDs := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if !slices.Contains(docIDs, hit.DocumentId) {
			docIDs = append(docIDs, hit.DocumentId)
		}
	}
	docs, err := db.documents.GetDocuments(ctx, docIDs...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*core.Document, len(docs))
	for _, doc := range docs {
		byID[doc.Id] = doc
	}

	citations, contextText, err := db.assembler.Assemble(ctx, resp.Hits, byID)
	if err != nil {
		return nil, err
	}
	return &ChatContext{Context: contextText, Citations: citations}, nil
}

// Upload stores a document for the principal and schedules indexing.
func (db *Database) Upload(ctx context.Context, principal core.Principal, filename string, pages []string) (*core.Document, error) {
	if err := core.ValidatePrincipal(principal); err != nil {
		return nil, err
	}
	return db.pipeline.Upload(ctx, principal.Sub, filename, pages)
}

// Reindex replaces a document's content with a new revision.
func (db *Database) Reindex(ctx context.Context, principal core.Principal, documentID string, pages []string) (*core.Document, error) {
	if _, err := db.ownedDocument(ctx, principal, documentID); err != nil {
		return nil, err
	}
	return db.pipeline.Reindex(ctx, documentID, pages)
}

// DeleteDocument removes a document, its chunks and its index entries.
func (db *Database) DeleteDocument(ctx context.Context, principal core.Principal, documentID string) error {
	if _, err := db.ownedDocument(ctx, principal, documentID); err != nil {
		return err
	}
	return db.pipeline.Delete(ctx, documentID)
}

// GetDocument returns one of the principal's documents.
func (db *Database) GetDocument(ctx context.Context, principal core.Principal, documentID string) (*core.Document, error) {
	return db.ownedDocument(ctx, principal, documentID)
}

// ListDocuments returns the principal's documents in creation order.
func (db *Database) ListDocuments(ctx context.Context, principal core.Principal) ([]*core.Document, error) {
	if err := core.ValidatePrincipal(principal); err != nil {
		return nil, err
	}
	return db.documents.ListByOwner(ctx, principal.Sub)
}

// ownedDocument loads a document and masks cross-owner access as missing.
func (db *Database) ownedDocument(ctx context.Context, principal core.Principal, documentID string) (*core.Document, error) {
	if err := core.ValidatePrincipal(principal); err != nil {
		return nil, err
	}
	doc, err := db.documents.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
		}
		return nil, err
	}
	if doc.OwnerSub != principal.Sub && !principal.Admin {
		return nil, fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
	}
	return doc, nil
}

// CreateRun creates a run over the given documents. Every document must
// exist and belong to the principal.
func (db *Database) CreateRun(ctx context.Context, principal core.Principal, documentIDs []string, runConfig map[string]string) (*core.Run, error) {
	if err := core.ValidatePrincipal(principal); err != nil {
		return nil, err
	}
	if len(documentIDs) > 0 {
		if _, err := db.resolver.ResolveDocuments(ctx, principal, documentIDs); err != nil {
			return nil, err
		}
	}

	run := &core.Run{
		Id:          uuid.NewString(),
		OwnerSub:    principal.Sub,
		Status:      core.RunStatusPending,
		DocumentIds: documentIDs,
		Config:      runConfig,
	}
	return db.runs.AddRun(ctx, run)
}

// AttachDocuments appends documents to a run. This is the only mutation a
// run's document list supports; already attached ids are skipped.
func (db *Database) AttachDocuments(ctx context.Context, principal core.Principal, runID string, documentIDs ...string) (*core.Run, error) {
	run, err := db.ownedRun(ctx, principal, runID)
	if err != nil {
		return nil, err
	}
	if _, err := db.resolver.ResolveDocuments(ctx, principal, documentIDs); err != nil {
		return nil, err
	}

	for _, id := range documentIDs {
		if !slices.Contains(run.DocumentIds, id) {
			run.DocumentIds = append(run.DocumentIds, id)
		}
	}
	return db.runs.UpdateRun(ctx, run)
}

// SetRunStatus advances a run through its lifecycle.
func (db *Database) SetRunStatus(ctx context.Context, principal core.Principal, runID string, status core.RunStatus) (*core.Run, error) {
	run, err := db.ownedRun(ctx, principal, runID)
	if err != nil {
		return nil, err
	}
	run.Status = status
	return db.runs.UpdateRun(ctx, run)
}

// GetRun returns one of the principal's runs.
func (db *Database) GetRun(ctx context.Context, principal core.Principal, runID string) (*core.Run, error) {
	return db.ownedRun(ctx, principal, runID)
}

// ListRuns returns the principal's runs in creation order.
func (db *Database) ListRuns(ctx context.Context, principal core.Principal) ([]*core.Run, error) {
	if err := core.ValidatePrincipal(principal); err != nil {
		return nil, err
	}
	return db.runs.ListByOwner(ctx, principal.Sub)
}

// DeleteRun removes a run. A run that is still pending or running is
// rejected with a conflict; cancel or finish it first.
func (db *Database) DeleteRun(ctx context.Context, principal core.Principal, runID string) error {
	run, err := db.ownedRun(ctx, principal, runID)
	if err != nil {
		return err
	}
	if run.Status.Active() {
		return fmt.Errorf("run %s: %w", runID, core.ErrRunActive)
	}
	return db.runs.DeleteRun(ctx, runID)
}

// ownedRun loads a run and masks cross-owner access as missing.
func (db *Database) ownedRun(ctx context.Context, principal core.Principal, runID string) (*core.Run, error) {
	if err := core.ValidatePrincipal(principal); err != nil {
		return nil, err
	}
	run, err := db.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, core.ErrNotFound)
		}
		return nil, err
	}
	if run.OwnerSub != principal.Sub && !principal.Admin {
		return nil, fmt.Errorf("run %s: %w", runID, core.ErrNotFound)
	}
	return run, nil
}

// WaitForIngestion blocks until all scheduled indexing jobs finish.
// Intended for tests and CLI batch flows.
func (db *Database) WaitForIngestion() {
	db.pipeline.Wait()
}

// Reembed regenerates the vectors of every stored chunk with the current
// embedder, refreshing the external vector store when one is configured.
// Run it after switching embedding models; text and chunk identity are
// untouched. Progress goes to the given writer.
func (db *Database) Reembed(ctx context.Context, cfg *reembed.Config, progress io.Writer) error {
	db.pipeline.Wait()
	return reembed.NewReembedder(db.documents, db.chunks, db.embedder, db.vectors, cfg, progress).Run(ctx)
}
