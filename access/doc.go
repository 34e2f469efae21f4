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


// Package access resolves a caller's search request into an authorized
// document scope before any retrieval runs.
//
// The resolver is the tenant boundary. Every downstream signal ranks only
// inside the scope it produces, so isolation does not depend on result
// filtering. A resource the caller cannot see is reported exactly like a
// resource that does not exist; no response distinguishes "missing" from
// "not yours".
package access
