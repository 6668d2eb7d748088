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

// Package cache provides a byte-bounded LRU cache for hot records.
//
// The cache is purely derived state: every caller must stay correct with
// the cache empty. Capacity is bounded by total resident bytes, not entry
// count. Entries expire after a TTL, checked lazily on access and swept
// periodically in the background.
package cache
