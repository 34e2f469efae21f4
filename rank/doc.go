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


// Package rank fuses independent retrieval signals into one ranked hit list
// using Reciprocal Rank Fusion (RRF).
//
// Each retrieval signal (lexical, vector, trigram) satisfies the small Signal
// interface: given a query and an authorized document scope, it returns its
// own ordered candidate list. The Ranker fans out to all signals
// concurrently, joins the results, and fuses them:
//
//	fused_score(chunk) = Σ 1 / (rrfK + rank_in_list)
//
// where rank is the 1-based position within each list that contains the
// chunk. Rank-based fusion sidesteps incomparable raw scores: BM25 scores,
// cosine similarities and trigram ratios live on different scales, but their
// ranks are always comparable.
//
// A disabled signal is an always-empty Signal value, not a nil check: it
// contributes nothing and can never fail a request. A signal error or
// timeout likewise removes only that signal's contribution; the failure is
// recorded in the diagnostics sidecar, never surfaced as a request failure.
//
// Ordering is fully deterministic: fused score descending, then vector
// distance ascending, then chunk ID ascending.
package rank
