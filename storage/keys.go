package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/sessiondb/core"
)

// Key prefixes for the logical layout. The layout is adapter-agnostic:
// every backend sees the same keys.
const (
	SessionPrefix = "sessions/"
	ContentPrefix = "content/"
	IndexPrefix   = "index/"
)

// MetadataKey returns the key of a session's metadata record.
func MetadataKey(id core.SessionID) string {
	return SessionPrefix + string(id) + "/metadata"
}

// ChunkKey returns the key of one chunk of a session collection.
func ChunkKey(id core.SessionID, kind core.CollectionKind, index int) string {
	return fmt.Sprintf("%s%s/%s/chunk-%d", SessionPrefix, id, kind, index)
}

// SessionKeyPrefix returns the prefix covering every key of one session.
func SessionKeyPrefix(id core.SessionID) string {
	return SessionPrefix + string(id) + "/"
}

// CollectionKeyPrefix returns the prefix covering every chunk of one collection.
func CollectionKeyPrefix(id core.SessionID, kind core.CollectionKind) string {
	return fmt.Sprintf("%s%s/%s/chunk-", SessionPrefix, id, kind)
}

// BlobDataKey returns the key of a blob's bytes.
func BlobDataKey(hash core.ContentHash) string {
	return ContentPrefix + hash.Prefix() + "/" + string(hash) + "/data"
}

// BlobMetaKey returns the key of a blob's metadata record.
func BlobMetaKey(hash core.ContentHash) string {
	return ContentPrefix + hash.Prefix() + "/" + string(hash) + "/meta"
}

// IndexKey returns the key of a named index's serialized posting lists.
func IndexKey(name string) string {
	return IndexPrefix + name
}

// SessionIDFromKey extracts the session id from any sessions/ key.
// Returns false if the key is not part of the session layout.
func SessionIDFromKey(key string) (core.SessionID, bool) {
	rest, ok := strings.CutPrefix(key, SessionPrefix)
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return core.SessionID(id), true
}

// HashFromBlobKey extracts the content hash from a content/ key.
// Returns false if the key is not part of the content layout.
func HashFromBlobKey(key string) (core.ContentHash, bool) {
	rest, ok := strings.CutPrefix(key, ContentPrefix)
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return core.ContentHash(parts[1]), true
}

// ChunkIndexFromKey extracts the chunk index from a chunk key.
// Returns -1 if the key is not a chunk key.
func ChunkIndexFromKey(key string) int {
	pos := strings.LastIndex(key, "/chunk-")
	if pos < 0 {
		return -1
	}
	n, err := strconv.Atoi(key[pos+len("/chunk-"):])
	if err != nil {
		return -1
	}
	return n
}
