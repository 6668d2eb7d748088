package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	id1 := NewSessionID()
	id2 := NewSessionID()

	assert.Len(t, string(id1), 26)
	assert.NotEqual(t, id1, id2)
}

func TestHashContent_Deterministic(t *testing.T) {
	data := []byte("the same bytes")

	h1 := HashContent(data)
	h2 := HashContent(data)

	assert.Equal(t, h1, h2)
	assert.Len(t, string(h1), 64) // 32 bytes hex-encoded
}

func TestHashContent_DifferentInputs(t *testing.T) {
	h1 := HashContent([]byte("first"))
	h2 := HashContent([]byte("second"))

	assert.NotEqual(t, h1, h2)
}

func TestContentHashPrefix(t *testing.T) {
	h := HashContent([]byte("payload"))
	prefix := h.Prefix()

	require.Len(t, prefix, 2)
	assert.Equal(t, string(h)[:2], prefix)
}

func TestSessionStatusString(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		expected string
	}{
		{StatusActive, "active"},
		{StatusPaused, "paused"},
		{StatusCompleted, "completed"},
		{StatusInterrupted, "interrupted"},
		{StatusTombstoned, "tombstoned"},
		{SessionStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestSessionMetadataManifest(t *testing.T) {
	meta := &SessionMetadata{Id: NewSessionID()}

	// Nil map returns zero manifest
	assert.Equal(t, Manifest{}, meta.Manifest(CollectionScreenshots))

	meta.Manifests = map[CollectionKind]Manifest{
		CollectionScreenshots: {ItemCount: 25, ChunkCount: 2, ItemsPerChunk: 20},
	}
	m := meta.Manifest(CollectionScreenshots)
	assert.Equal(t, 25, m.ItemCount)
	assert.Equal(t, 2, m.ChunkCount)
	assert.Equal(t, Manifest{}, meta.Manifest(CollectionAudio))
}
