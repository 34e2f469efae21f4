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


// Package index provides the concrete retrieval signals fused by package
// rank: a BM25 lexical index, a trigram similarity index, and a vector
// signal over the chunk store.
//
// The lexical and trigram indexes are in-memory inverted indexes, rebuilt
// from the chunk store on open and kept current by ingestion. Both apply
// the document scope before ranking, so a candidate list never carries
// rank information from documents outside the caller's scope.
package index
