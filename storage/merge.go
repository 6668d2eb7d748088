package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/sessiondb/core"
)

// Merge helpers for accumulating queue operations. The write queue collapses
// chunk-append and blob-ref operations per key; these functions apply the
// collapsed result against the previously stored value.

// MergeChunkAppend appends serialized MediaItem payloads to a stored chunk.
// existing may be nil, in which case a fresh chunk is created from the key's
// (session, kind, index) triple.
func MergeChunkAppend(key string, existing []byte, payloads [][]byte) ([]byte, error) {
	var chunk *core.Chunk
	if existing == nil {
		id, kind, index, err := parseChunkKey(key)
		if err != nil {
			return nil, err
		}
		chunk = &core.Chunk{SessionId: id, Kind: kind, Index: index}
	} else {
		var err error
		chunk, err = UnmarshalChunk(existing)
		if err != nil {
			return nil, err
		}
	}

	for _, payload := range payloads {
		item, err := UnmarshalMediaItem(payload)
		if err != nil {
			return nil, err
		}
		chunk.Items = append(chunk.Items, *item)
	}

	return MarshalChunk(chunk), nil
}

// ApplyBlobDelta adjusts the refcount of a stored BlobInfo by delta.
// existing must be a serialized BlobInfo; blob creation goes through a
// simple write of the full record, never through a delta.
func ApplyBlobDelta(existing []byte, delta int64, now time.Time) ([]byte, error) {
	if existing == nil {
		return nil, fmt.Errorf("%w: blob meta missing for refcount delta", ErrNotFound)
	}
	info, err := UnmarshalBlobInfo(existing)
	if err != nil {
		return nil, err
	}

	info.RefCount += delta
	if info.RefCount < 0 {
		info.RefCount = 0
	}
	if info.RefCount == 0 {
		if info.ZeroSince.IsZero() {
			info.ZeroSince = now.UTC()
		}
	} else {
		info.ZeroSince = time.Time{}
	}

	return MarshalBlobInfo(info), nil
}

// parseChunkKey extracts (session, kind, index) from a chunk key.
func parseChunkKey(key string) (core.SessionID, core.CollectionKind, int, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0]+"/" != SessionPrefix {
		return "", "", 0, fmt.Errorf("%w: not a chunk key: %s", ErrSerializationFailed, key)
	}
	index := ChunkIndexFromKey(key)
	if index < 0 {
		return "", "", 0, fmt.Errorf("%w: not a chunk key: %s", ErrSerializationFailed, key)
	}
	return core.SessionID(parts[1]), core.CollectionKind(parts[2]), index, nil
}
