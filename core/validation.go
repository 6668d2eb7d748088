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

import (
	"fmt"
	"time"
)

// ValidateSessionMetadata validates a SessionMetadata according to domain rules.
//
// Validation rules:
//   - Id must not be empty
//   - Status must be a known value
//   - CreatedAt must not be in the future
//   - Manifest counts must be internally consistent
//     (ChunkCount == ceil(ItemCount / ItemsPerChunk))
//
// NOT validated:
//   - Version (0 is valid for records not yet persisted)
//   - Tags and Category (free-form)
func ValidateSessionMetadata(meta *SessionMetadata) error {
	if meta == nil {
		return fmt.Errorf("%w: metadata is nil", ErrInvalidSession)
	}

	if meta.Id == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrEmptySessionID)
	}

	if err := ValidateStatus(meta.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	if !IsValidTimestamp(meta.CreatedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrInvalidTimestamp)
	}

	for kind, manifest := range meta.Manifests {
		if err := ValidateCollectionKind(kind); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSession, err)
		}
		if err := ValidateManifest(manifest); err != nil {
			return fmt.Errorf("%w: collection %q: %w", ErrInvalidSession, kind, err)
		}
	}

	return nil
}

// ValidateManifest checks that a manifest's counts are internally consistent.
func ValidateManifest(m Manifest) error {
	if m.ItemsPerChunk <= 0 {
		return fmt.Errorf("%w: items per chunk must be positive", ErrManifestMismatch)
	}
	if m.ItemCount < 0 || m.ChunkCount < 0 {
		return fmt.Errorf("%w: negative counts", ErrManifestMismatch)
	}
	expected := (m.ItemCount + m.ItemsPerChunk - 1) / m.ItemsPerChunk
	if m.ChunkCount != expected {
		return fmt.Errorf("%w: %d items in %d chunks of %d",
			ErrManifestMismatch, m.ItemCount, m.ChunkCount, m.ItemsPerChunk)
	}
	return nil
}

// ValidateMediaItem validates a MediaItem according to domain rules.
//
// Validation rules:
//   - ContentId must not be empty (the payload lives in the content store)
//   - CapturedAt must not be in the future
func ValidateMediaItem(item *MediaItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidItem)
	}

	if item.ContentId == "" {
		return fmt.Errorf("%w: %w", ErrInvalidItem, ErrEmptyContentID)
	}

	if !IsValidTimestamp(item.CapturedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidItem, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateStatus validates that a SessionStatus has a valid value.
func ValidateStatus(status SessionStatus) error {
	switch status {
	case StatusActive, StatusPaused, StatusCompleted, StatusInterrupted, StatusTombstoned:
		return nil
	}
	return fmt.Errorf("%w: value %d", ErrInvalidStatus, status)
}

// ValidateCollectionKind validates that a CollectionKind is known.
func ValidateCollectionKind(kind CollectionKind) error {
	switch kind {
	case CollectionScreenshots, CollectionAudio, CollectionVideo:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidCollection, kind)
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
