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


package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

// Resolver turns (principal, request) into an authorized document scope.
// Safe for concurrent use.
type Resolver struct {
	documents storage.DocumentRepository
	runs      storage.RunRepository
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewResolver creates a scope resolver over the given repositories.
func NewResolver(documents storage.DocumentRepository, runs storage.RunRepository, opts ...Option) (*Resolver, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if runs == nil {
		return nil, ErrRunRepositoryRequired
	}

	r := &Resolver{
		documents: documents,
		runs:      runs,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve computes the authorized document scope for a validated request.
// The returned Scope always carries a Reason recording how it was derived.
//
// Any resource the principal may not see resolves to core.ErrNotFound;
// authorization failures are indistinguishable from missing resources.
func (r *Resolver) Resolve(ctx context.Context, principal core.Principal, req core.SearchRequest) (core.Scope, error) {
	if err := core.ValidatePrincipal(principal); err != nil {
		return core.Scope{}, err
	}

	if req.RunId != "" {
		return r.resolveRun(ctx, principal, req.RunId)
	}

	switch req.Mode {
	case core.SearchModeSelectedDocs:
		return r.ResolveDocuments(ctx, principal, req.DocumentIds)
	case core.SearchModeLibrary:
		return r.resolveLibrary(ctx, principal, req.ForOwner)
	default:
		return core.Scope{}, core.ErrInvalidMode
	}
}

// resolveLibrary scopes to every indexed document the owner has.
// forOwner broadens to another owner's library; admin only, and audited.
func (r *Resolver) resolveLibrary(ctx context.Context, principal core.Principal, forOwner string) (core.Scope, error) {
	owner := principal.Sub
	if forOwner != "" && forOwner != principal.Sub {
		if !principal.Admin {
			return core.Scope{}, core.ErrOwnerOverrideDenied
		}
		r.logger.Warn("admin library broadening",
			"admin_sub", principal.Sub,
			"for_owner", forOwner)
		owner = forOwner
	}

	docs, err := r.documents.ListByOwner(ctx, owner)
	if err != nil {
		return core.Scope{}, fmt.Errorf("listing documents: %w", err)
	}

	scope := core.Scope{Reason: "mode=library"}
	for _, doc := range docs {
		// only indexed documents have retrievable chunks
		if doc.Status == core.DocumentStatusIndexed {
			scope.DocumentIds = append(scope.DocumentIds, doc.Id)
		}
	}
	return scope, nil
}

// ResolveDocuments verifies every document exists and belongs to the
// principal. One miss fails the whole request; partial scopes would
// silently narrow what the caller asked for. Also used when attaching
// documents to runs.
func (r *Resolver) ResolveDocuments(ctx context.Context, principal core.Principal, ids []string) (core.Scope, error) {
	docs, err := r.documents.GetDocuments(ctx, ids...)
	if err != nil {
		return core.Scope{}, fmt.Errorf("loading documents: %w", err)
	}

	byID := make(map[string]*core.Document, len(docs))
	for _, doc := range docs {
		byID[doc.Id] = doc
	}

	scope := core.Scope{Reason: "mode=selected_docs"}
	for _, id := range ids {
		doc, ok := byID[id]
		if !ok {
			return core.Scope{}, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
		}
		if doc.OwnerSub != principal.Sub && !principal.Admin {
			// masked: same error as a missing document
			return core.Scope{}, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
		}
		scope.DocumentIds = append(scope.DocumentIds, id)
	}
	return scope, nil
}

// resolveRun scopes to the documents attached to a run. A run with no
// attached documents means the run owner's whole library, not an empty
// scope.
func (r *Resolver) resolveRun(ctx context.Context, principal core.Principal, runID string) (core.Scope, error) {
	run, err := r.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.Scope{}, fmt.Errorf("run %s: %w", runID, core.ErrNotFound)
		}
		return core.Scope{}, fmt.Errorf("loading run: %w", err)
	}
	if run.OwnerSub != principal.Sub && !principal.Admin {
		return core.Scope{}, fmt.Errorf("run %s: %w", runID, core.ErrNotFound)
	}

	reason := "run=" + runID
	if len(run.DocumentIds) == 0 {
		scope, err := r.resolveLibrary(ctx, core.Principal{Sub: run.OwnerSub}, "")
		if err != nil {
			return core.Scope{}, err
		}
		scope.Reason = reason
		return scope, nil
	}

	return core.Scope{
		DocumentIds: run.DocumentIds,
		Reason:      reason,
	}, nil
}
