package core

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/oklog/ulid/v2"
)

// SessionID is the unique identifier of a session. IDs are ULIDs, so they
// sort lexicographically in creation order.
type SessionID string

// NewSessionID generates a new time-ordered session ID.
func NewSessionID() SessionID {
	return SessionID(ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

// ContentHash is the storage identity of a binary blob: the lowercase hex
// encoding of the BLAKE2b-256 digest of its bytes. Identical bytes always
// produce the same ContentHash.
type ContentHash string

// HashContent computes the ContentHash for a byte slice.
func HashContent(data []byte) ContentHash {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return ContentHash(hex.EncodeToString(h.Sum(nil)))
}

// Prefix returns the two-character fan-out prefix used in the key layout.
func (h ContentHash) Prefix() string {
	if len(h) < 2 {
		return string(h)
	}
	return string(h[:2])
}

// SessionStatus describes the lifecycle state of a session.
type SessionStatus int

const (
	// StatusActive is a session currently being recorded.
	StatusActive SessionStatus = iota + 1
	// StatusPaused is a session whose capture is temporarily suspended.
	StatusPaused
	// StatusCompleted is a session that ended normally.
	StatusCompleted
	// StatusInterrupted is a session that ended without a clean stop.
	StatusInterrupted
	// StatusTombstoned marks a logically deleted session awaiting cleanup.
	StatusTombstoned
)

// String returns the index term for the status.
func (s SessionStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusInterrupted:
		return "interrupted"
	case StatusTombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}

// CollectionKind names one of a session's chunked media collections.
type CollectionKind string

const (
	CollectionScreenshots CollectionKind = "screenshots"
	CollectionAudio       CollectionKind = "audio"
	CollectionVideo       CollectionKind = "video"
)

// Collections lists every collection kind a session can carry.
var Collections = []CollectionKind{CollectionScreenshots, CollectionAudio, CollectionVideo}

// Manifest tracks the chunk layout of one collection. Its counts must
// always match the persisted chunk contents.
type Manifest struct {
	ItemCount     int
	ChunkCount    int
	ItemsPerChunk int
}

// SessionMetadata is the small, always-loadable record describing a session.
// The heavy media collections live in separate chunks referenced through
// the manifests.
type SessionMetadata struct {
	Id           SessionID
	Title        string
	Category     string
	Tags         []string
	Status       SessionStatus
	CaptureAudio bool
	CaptureVideo bool
	HasSummary   bool
	Manifests    map[CollectionKind]Manifest
	Version      uint64 // Monotonic, bumped on every committed mutation
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Manifest returns the manifest for a collection, zero-valued if the
// collection has no items yet.
func (m *SessionMetadata) Manifest(kind CollectionKind) Manifest {
	if m.Manifests == nil {
		return Manifest{}
	}
	return m.Manifests[kind]
}

// MediaItem is one entry of a chunked collection. The binary payload lives
// in the content store; the item only carries the reference.
type MediaItem struct {
	Id         string
	CapturedAt time.Time
	ContentId  ContentHash
	Metadata   map[string]string
}

// Chunk is an ordered, bounded group of items belonging to one
// (session, collection, index) triple. Chunks are immutable once full;
// only the tail chunk of a collection grows.
type Chunk struct {
	SessionId SessionID
	Kind      CollectionKind
	Index     int
	Items     []MediaItem
}

// BlobInfo is the metadata record of a deduplicated content blob.
type BlobInfo struct {
	Hash      ContentHash
	Size      int64
	MimeType  string
	RefCount  int64
	CreatedAt time.Time
	ZeroSince time.Time // Set when RefCount drops to zero; zero value means referenced
}

// Session is a fully reconstructed record: metadata plus every collection's
// items in order.
type Session struct {
	Metadata    *SessionMetadata
	Collections map[CollectionKind][]MediaItem
}
