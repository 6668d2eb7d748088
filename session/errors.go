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

package session

import "errors"

var (
	// ErrSessionTombstoned indicates a mutation against a deleted session.
	ErrSessionTombstoned = errors.New("session is tombstoned")

	// ErrInvalidChunkSize indicates a non-positive items-per-chunk setting.
	ErrInvalidChunkSize = errors.New("items per chunk must be positive")

	// ErrInvalidPoolSize indicates a non-positive loader pool size.
	ErrInvalidPoolSize = errors.New("pool size must be positive")

	// ErrInvalidSweepInterval indicates a non-positive sweep interval.
	ErrInvalidSweepInterval = errors.New("sweep interval must be positive")
)
