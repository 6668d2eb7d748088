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

// Package content implements content-addressed blob storage with
// deduplication and reference counting.
//
// Blobs are keyed by the blake2b-256 hash of their bytes. Saving the same
// bytes twice stores them physically once and bumps the reference count.
// Counts that reach zero are not deleted immediately: the blob enters a
// grace period and is reclaimed by CollectGarbage once the period has
// passed. Blob bytes are immutable; mutable state (mime type, refcount,
// zero-since timestamp) lives in a separate meta record.
package content
