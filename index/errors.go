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

package index

import "errors"

var (
	// ErrNoSource indicates a rebuild was requested without a metadata
	// source to rebuild from.
	ErrNoSource = errors.New("no metadata source configured")

	// ErrNilPredicate indicates a search with a nil predicate tree.
	ErrNilPredicate = errors.New("predicate must not be nil")

	// ErrInvalidDateRange indicates a date range whose end precedes its start.
	ErrInvalidDateRange = errors.New("date range end precedes start")

	// ErrInvalidFlushInterval indicates a non-positive flush interval.
	ErrInvalidFlushInterval = errors.New("flush interval must be positive")
)
