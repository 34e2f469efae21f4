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


// Package citation turns fused hits into footnoted synthesis context and
// stable citations.
//
// Retrieved text is untrusted: a document can embed instructions aimed at
// the model that will read it. The quarantine pass redacts suspect lines
// exactly once, upstream of both the synthesis context and any serialized
// citation text, so no call path sees the raw line twice or skips the
// scan.
package citation
