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

import (
	"fmt"
	"strings"
)

// DefaultK is the result count used when a request leaves K unset.
const DefaultK = 10

// MaxK bounds the result count a single request may ask for.
const MaxK = 100

// ValidateSearchRequest validates a SearchRequest according to domain rules.
//
// Validation rules:
//   - Query must not be blank
//   - RunId and DocumentIds are mutually exclusive
//   - A request with RunId set is run-scoped; Mode is ignored
//   - Otherwise Mode must be library or selected_docs;
//     selected_docs requires a non-empty DocumentIds, library rejects one
//
// K is normalized, not validated: zero or negative becomes DefaultK,
// values above MaxK are clamped.
func ValidateSearchRequest(req *SearchRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidMode)
	}

	if strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}

	if req.RunId != "" && len(req.DocumentIds) > 0 {
		return ErrAmbiguousScope
	}

	// A run id fully determines the scope; mode is not consulted.
	if req.RunId != "" {
		return nil
	}

	switch req.Mode {
	case SearchModeLibrary:
		if len(req.DocumentIds) > 0 {
			return ErrUnexpectedDocumentIDs
		}
	case SearchModeSelectedDocs:
		if len(req.DocumentIds) == 0 {
			return ErrMissingDocumentIDs
		}
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidMode, req.Mode)
	}

	return nil
}

// NormalizeK clamps a requested result count into [1, MaxK].
func NormalizeK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// ValidatePrincipal validates that a caller identity is usable.
func ValidatePrincipal(p Principal) error {
	if strings.TrimSpace(p.Sub) == "" {
		return ErrInvalidPrincipal
	}
	return nil
}

// ValidateUpload validates upload input before ingestion.
func ValidateUpload(ownerSub, filename string, pages []string) error {
	if strings.TrimSpace(ownerSub) == "" {
		return ErrInvalidPrincipal
	}
	if len(pages) == 0 {
		return ErrEmptyDocument
	}
	empty := true
	for _, page := range pages {
		if strings.TrimSpace(page) != "" {
			empty = false
			break
		}
	}
	if empty {
		return ErrEmptyDocument
	}
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: filename required", ErrEmptyDocument)
	}
	return nil
}
