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


// Package storage provides the storage abstraction layer for sessiondb.
//
// This package defines the Adapter contract that decouples the engine
// components from the concrete key/value backend. It allows different
// backends (BadgerDB, in-memory, etc.) to be used interchangeably; the
// active backend is chosen once at startup and injected — engine logic
// never inspects which implementation it is talking to.
//
// # Key Layout
//
// Every component addresses the backend through the logical key layout
// defined in keys.go:
//
//	sessions/{id}/metadata
//	sessions/{id}/{kind}/chunk-{n}
//	content/{hashPrefix}/{hash}/data
//	content/{hashPrefix}/{hash}/meta
//	index/{indexName}
//
// The bytes-on-disk format below these keys belongs to the adapter and is
// deliberately unspecified here.
//
// # Serialization
//
// Records are serialized with the mus format (serialization.go). Metadata
// is the source of truth: indexes and caches are always reconstructible
// from the serialized session metadata.
//
// # Thread Safety
//
// All Adapter implementations must be thread-safe and support concurrent
// access from multiple goroutines. Update callbacks execute atomically:
// either every Set/Delete in the callback is applied, or none is.
//
// # Context Support
//
// All Adapter methods accept context.Context for cancellation and timeout
// support. Pass context.Background() for operations without specific
// timeout requirements.
package storage
