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


// Package gate decides whether retrieval diagnostics may leave the system
// boundary for a given request.
//
// Disclosure requires every condition at once: the caller asked, the
// deployment flag is on, the environment permits it, and the caller is an
// admin. Production denies debug output even for admins unless it was
// explicitly unlocked. Admin determination fails closed; any ambiguity
// means not admin. The decision is computed once per request and carried
// as an immutable value, so the response path cannot re-derive a different
// answer than the one that was logged.
package gate
