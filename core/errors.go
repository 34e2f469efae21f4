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


package core

import "errors"

// Code classifies an error into the closed response taxonomy. Every error
// that reaches a caller maps to exactly one code; raw internals never leak.
type Code string

const (
	// CodeValidation marks malformed client input.
	CodeValidation Code = "validation"
	// CodeNotFound marks missing resources. Unauthorized access to
	// another owner's resource uses the same code so existence never leaks.
	CodeNotFound Code = "not_found"
	// CodeConfiguration marks server-side misconfiguration (all signals
	// disabled, embedding provider unavailable).
	CodeConfiguration Code = "configuration"
	// CodeConflict marks operations rejected by resource state,
	// such as deleting a run that is still processing.
	CodeConflict Code = "conflict"
	// CodeInternal is the fallback for everything else.
	CodeInternal Code = "internal"
)

// Domain errors
var (
	// ErrEmptyQuery indicates a search request with no query text.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrMissingDocumentIDs indicates mode=selected_docs with no document ids.
	// This is a caller error, never an empty-scope query.
	ErrMissingDocumentIDs = errors.New("selected_docs mode requires document ids")

	// ErrUnexpectedDocumentIDs indicates mode=library with explicit document ids.
	ErrUnexpectedDocumentIDs = errors.New("library mode does not accept document ids")

	// ErrAmbiguousScope indicates a request naming both a run scope and an
	// explicit document scope.
	ErrAmbiguousScope = errors.New("run scope and document scope are mutually exclusive")

	// ErrInvalidMode indicates an unrecognized search mode.
	ErrInvalidMode = errors.New("invalid search mode")

	// ErrNotFound indicates the resource does not exist or the caller
	// is not authorized to see it. The two cases are indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrAllSignalsDisabled indicates every retrieval signal is disabled.
	// This is a configuration error raised at construction, never an
	// ambiguous empty result.
	ErrAllSignalsDisabled = errors.New("all retrieval signals disabled")

	// ErrEmbedderUnavailable indicates the embedding provider failed.
	ErrEmbedderUnavailable = errors.New("embedding provider unavailable")

	// ErrRunActive indicates a deletion attempt on a run that is still
	// pending or running.
	ErrRunActive = errors.New("run is actively processing")

	// ErrEmptyDocument indicates an upload with no page content.
	ErrEmptyDocument = errors.New("document has no content")

	// ErrInvalidPrincipal indicates a request with no caller identity.
	ErrInvalidPrincipal = errors.New("principal subject required")

	// ErrOwnerOverrideDenied indicates a non-admin request setting ForOwner.
	ErrOwnerOverrideDenied = errors.New("owner override requires admin")
)

// CodeOf maps an error to its taxonomy code. Unknown errors map to
// CodeInternal so callers never see raw internals.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyQuery),
		errors.Is(err, ErrMissingDocumentIDs),
		errors.Is(err, ErrUnexpectedDocumentIDs),
		errors.Is(err, ErrAmbiguousScope),
		errors.Is(err, ErrInvalidMode),
		errors.Is(err, ErrEmptyDocument),
		errors.Is(err, ErrInvalidPrincipal),
		errors.Is(err, ErrOwnerOverrideDenied):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAllSignalsDisabled),
		errors.Is(err, ErrEmbedderUnavailable):
		return CodeConfiguration
	case errors.Is(err, ErrRunActive):
		return CodeConflict
	}
	return CodeInternal
}
