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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidSession indicates a SessionMetadata failed validation.
	ErrInvalidSession = errors.New("invalid session metadata")

	// ErrInvalidItem indicates a MediaItem failed validation.
	ErrInvalidItem = errors.New("invalid media item")

	// ErrEmptySessionID indicates the session Id field is empty.
	ErrEmptySessionID = errors.New("session id cannot be empty")

	// ErrInvalidStatus indicates an invalid SessionStatus value.
	ErrInvalidStatus = errors.New("invalid session status")

	// ErrInvalidCollection indicates an unknown CollectionKind.
	ErrInvalidCollection = errors.New("invalid collection kind")

	// ErrEmptyContentID indicates the item ContentId field is empty.
	ErrEmptyContentID = errors.New("content id cannot be empty")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrManifestMismatch indicates manifest counts diverged from chunk contents.
	ErrManifestMismatch = errors.New("manifest does not match chunk contents")
)
