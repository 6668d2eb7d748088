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

// Package session manages session metadata and their chunked media
// collections.
//
// Metadata is a small record that loads in O(1) regardless of how many
// items a session holds. Media items live in fixed-size chunks addressed
// through per-collection manifests, so appends touch only the tail chunk
// and full loads can fetch chunks in parallel.
//
// All mutations of one session serialize on a per-session lane: there is
// exactly one writer per session at any time. Mutations are persisted
// through the write queue; an in-memory working set keeps the freshest
// metadata visible to subsequent operations before the queue commits.
package session
