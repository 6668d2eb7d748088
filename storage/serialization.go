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


package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/sessiondb/core"
)

// Hand-written mus serializers for the engine's record types. Field order
// is the wire format; never reorder fields without a migration.

// boundCount rejects element counts that cannot fit in the remaining
// bytes. Every element occupies at least one byte on the wire, so a
// corrupt count larger than the buffer fails here instead of sizing an
// allocation.
func boundCount(count, remaining int) error {
	if count < 0 || count > remaining {
		return ErrTruncatedData
	}
	return nil
}

// timeMUS serializes a time.Time as Unix microseconds.
type timeMUS struct{}

func (timeMUS) Marshal(t time.Time, bs []byte) int {
	if t.IsZero() {
		return varint.Int64.Marshal(0, bs)
	}
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func (timeMUS) Unmarshal(bs []byte) (time.Time, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || v == 0 {
		return time.Time{}, n, err
	}
	return time.UnixMicro(v).UTC(), n, nil
}

func (timeMUS) Size(t time.Time) int {
	if t.IsZero() {
		return varint.Int64.Size(0)
	}
	return varint.Int64.Size(t.UnixMicro())
}

var timeSer = timeMUS{}

// stringSliceMUS serializes a []string as count + elements.
type stringSliceMUS struct{}

func (stringSliceMUS) Marshal(v []string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, s := range v {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

func (stringSliceMUS) Unmarshal(bs []byte) (v []string, n int, err error) {
	count, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if err := boundCount(count, len(bs)-n); err != nil {
		return nil, n, err
	}
	if count == 0 {
		return nil, n, nil
	}
	v = make([]string, count)
	for i := 0; i < count; i++ {
		var m int
		v[i], m, err = ord.String.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
	}
	return v, n, nil
}

func (stringSliceMUS) Size(v []string) (size int) {
	size = varint.Int.Size(len(v))
	for _, s := range v {
		size += ord.String.Size(s)
	}
	return size
}

var stringSliceSer = stringSliceMUS{}

// stringMapMUS serializes a map[string]string with sorted keys so the
// encoding is deterministic.
type stringMapMUS struct{}

func (stringMapMUS) Marshal(v map[string]string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v[k], bs[n:])
	}
	return n
}

func (stringMapMUS) Unmarshal(bs []byte) (v map[string]string, n int, err error) {
	count, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if err := boundCount(count, len(bs)-n); err != nil {
		return nil, n, err
	}
	if count == 0 {
		return nil, n, nil
	}
	v = make(map[string]string, count)
	for i := 0; i < count; i++ {
		var key, val string
		var m int
		key, m, err = ord.String.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
		val, m, err = ord.String.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
		v[key] = val
	}
	return v, n, nil
}

func (stringMapMUS) Size(v map[string]string) (size int) {
	size = varint.Int.Size(len(v))
	for k, val := range v {
		size += ord.String.Size(k) + ord.String.Size(val)
	}
	return size
}

var stringMapSer = stringMapMUS{}

// sessionMetadataMUS serializes core.SessionMetadata.
type sessionMetadataMUS struct{}

// SessionMetadataMUS is the wire serializer for session metadata records.
var SessionMetadataMUS = sessionMetadataMUS{}

func (sessionMetadataMUS) Marshal(v core.SessionMetadata, bs []byte) (n int) {
	n = ord.String.Marshal(string(v.Id), bs)
	n += ord.String.Marshal(v.Title, bs[n:])
	n += ord.String.Marshal(v.Category, bs[n:])
	n += stringSliceSer.Marshal(v.Tags, bs[n:])
	n += varint.Int.Marshal(int(v.Status), bs[n:])
	n += ord.Bool.Marshal(v.CaptureAudio, bs[n:])
	n += ord.Bool.Marshal(v.CaptureVideo, bs[n:])
	n += ord.Bool.Marshal(v.HasSummary, bs[n:])

	// Manifests, sorted by kind for determinism
	n += varint.Int.Marshal(len(v.Manifests), bs[n:])
	kinds := make([]string, 0, len(v.Manifests))
	for kind := range v.Manifests {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		m := v.Manifests[core.CollectionKind(kind)]
		n += ord.String.Marshal(kind, bs[n:])
		n += varint.Int.Marshal(m.ItemCount, bs[n:])
		n += varint.Int.Marshal(m.ChunkCount, bs[n:])
		n += varint.Int.Marshal(m.ItemsPerChunk, bs[n:])
	}

	n += varint.Uint64.Marshal(v.Version, bs[n:])
	n += timeSer.Marshal(v.CreatedAt, bs[n:])
	n += timeSer.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (sessionMetadataMUS) Unmarshal(bs []byte) (v core.SessionMetadata, n int, err error) {
	var m int
	var s string

	s, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return v, n, err
	}
	v.Id = core.SessionID(s)

	v.Title, m, err = ord.String.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.Category, m, err = ord.String.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.Tags, m, err = stringSliceSer.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}

	var status int
	status, m, err = varint.Int.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.Status = core.SessionStatus(status)

	v.CaptureAudio, m, err = ord.Bool.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.CaptureVideo, m, err = ord.Bool.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.HasSummary, m, err = ord.Bool.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}

	var count int
	count, m, err = varint.Int.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	if err = boundCount(count, len(bs)-n); err != nil {
		return v, n, err
	}
	if count > 0 {
		v.Manifests = make(map[core.CollectionKind]core.Manifest, count)
		for i := 0; i < count; i++ {
			var kind string
			var manifest core.Manifest
			kind, m, err = ord.String.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return v, n, err
			}
			manifest.ItemCount, m, err = varint.Int.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return v, n, err
			}
			manifest.ChunkCount, m, err = varint.Int.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return v, n, err
			}
			manifest.ItemsPerChunk, m, err = varint.Int.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return v, n, err
			}
			v.Manifests[core.CollectionKind(kind)] = manifest
		}
	}

	v.Version, m, err = varint.Uint64.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.CreatedAt, m, err = timeSer.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.UpdatedAt, m, err = timeSer.Unmarshal(bs[n:])
	n += m
	return v, n, err
}

func (sessionMetadataMUS) Size(v core.SessionMetadata) (size int) {
	size = ord.String.Size(string(v.Id))
	size += ord.String.Size(v.Title)
	size += ord.String.Size(v.Category)
	size += stringSliceSer.Size(v.Tags)
	size += varint.Int.Size(int(v.Status))
	size += ord.Bool.Size(v.CaptureAudio)
	size += ord.Bool.Size(v.CaptureVideo)
	size += ord.Bool.Size(v.HasSummary)
	size += varint.Int.Size(len(v.Manifests))
	for kind, m := range v.Manifests {
		size += ord.String.Size(string(kind))
		size += varint.Int.Size(m.ItemCount)
		size += varint.Int.Size(m.ChunkCount)
		size += varint.Int.Size(m.ItemsPerChunk)
	}
	size += varint.Uint64.Size(v.Version)
	size += timeSer.Size(v.CreatedAt)
	size += timeSer.Size(v.UpdatedAt)
	return size
}

// mediaItemMUS serializes core.MediaItem.
type mediaItemMUS struct{}

// MediaItemMUS is the wire serializer for collection items. It is also the
// payload format of chunk-append queue operations.
var MediaItemMUS = mediaItemMUS{}

func (mediaItemMUS) Marshal(v core.MediaItem, bs []byte) (n int) {
	n = ord.String.Marshal(v.Id, bs)
	n += timeSer.Marshal(v.CapturedAt, bs[n:])
	n += ord.String.Marshal(string(v.ContentId), bs[n:])
	n += stringMapSer.Marshal(v.Metadata, bs[n:])
	return n
}

func (mediaItemMUS) Unmarshal(bs []byte) (v core.MediaItem, n int, err error) {
	var m int
	v.Id, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return v, n, err
	}
	v.CapturedAt, m, err = timeSer.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	var s string
	s, m, err = ord.String.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.ContentId = core.ContentHash(s)
	v.Metadata, m, err = stringMapSer.Unmarshal(bs[n:])
	n += m
	return v, n, err
}

func (mediaItemMUS) Size(v core.MediaItem) (size int) {
	size = ord.String.Size(v.Id)
	size += timeSer.Size(v.CapturedAt)
	size += ord.String.Size(string(v.ContentId))
	size += stringMapSer.Size(v.Metadata)
	return size
}

// chunkMUS serializes core.Chunk.
type chunkMUS struct{}

// ChunkMUS is the wire serializer for collection chunks.
var ChunkMUS = chunkMUS{}

func (chunkMUS) Marshal(v core.Chunk, bs []byte) (n int) {
	n = ord.String.Marshal(string(v.SessionId), bs)
	n += ord.String.Marshal(string(v.Kind), bs[n:])
	n += varint.Int.Marshal(v.Index, bs[n:])
	n += varint.Int.Marshal(len(v.Items), bs[n:])
	for _, item := range v.Items {
		n += MediaItemMUS.Marshal(item, bs[n:])
	}
	return n
}

func (chunkMUS) Unmarshal(bs []byte) (v core.Chunk, n int, err error) {
	var m int
	var s string
	s, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return v, n, err
	}
	v.SessionId = core.SessionID(s)
	s, m, err = ord.String.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.Kind = core.CollectionKind(s)
	v.Index, m, err = varint.Int.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	var count int
	count, m, err = varint.Int.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	if err = boundCount(count, len(bs)-n); err != nil {
		return v, n, err
	}
	if count > 0 {
		v.Items = make([]core.MediaItem, count)
		for i := 0; i < count; i++ {
			v.Items[i], m, err = MediaItemMUS.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return v, n, err
			}
		}
	}
	return v, n, nil
}

func (chunkMUS) Size(v core.Chunk) (size int) {
	size = ord.String.Size(string(v.SessionId))
	size += ord.String.Size(string(v.Kind))
	size += varint.Int.Size(v.Index)
	size += varint.Int.Size(len(v.Items))
	for _, item := range v.Items {
		size += MediaItemMUS.Size(item)
	}
	return size
}

// blobInfoMUS serializes core.BlobInfo.
type blobInfoMUS struct{}

// BlobInfoMUS is the wire serializer for blob metadata records.
var BlobInfoMUS = blobInfoMUS{}

func (blobInfoMUS) Marshal(v core.BlobInfo, bs []byte) (n int) {
	n = ord.String.Marshal(string(v.Hash), bs)
	n += varint.Int64.Marshal(v.Size, bs[n:])
	n += ord.String.Marshal(v.MimeType, bs[n:])
	n += varint.Int64.Marshal(v.RefCount, bs[n:])
	n += timeSer.Marshal(v.CreatedAt, bs[n:])
	n += timeSer.Marshal(v.ZeroSince, bs[n:])
	return n
}

func (blobInfoMUS) Unmarshal(bs []byte) (v core.BlobInfo, n int, err error) {
	var m int
	var s string
	s, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return v, n, err
	}
	v.Hash = core.ContentHash(s)
	v.Size, m, err = varint.Int64.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.MimeType, m, err = ord.String.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.RefCount, m, err = varint.Int64.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.CreatedAt, m, err = timeSer.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return v, n, err
	}
	v.ZeroSince, m, err = timeSer.Unmarshal(bs[n:])
	n += m
	return v, n, err
}

func (blobInfoMUS) Size(v core.BlobInfo) (size int) {
	size = ord.String.Size(string(v.Hash))
	size += varint.Int64.Size(v.Size)
	size += ord.String.Size(v.MimeType)
	size += varint.Int64.Size(v.RefCount)
	size += timeSer.Size(v.CreatedAt)
	size += timeSer.Size(v.ZeroSince)
	return size
}

// postingsMUS serializes one named index: term -> sorted session ids.
type postingsMUS struct{}

// PostingsMUS is the wire serializer for persisted posting lists.
var PostingsMUS = postingsMUS{}

func (postingsMUS) Marshal(v map[string][]string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	terms := make([]string, 0, len(v))
	for term := range v {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		n += ord.String.Marshal(term, bs[n:])
		n += stringSliceSer.Marshal(v[term], bs[n:])
	}
	return n
}

func (postingsMUS) Unmarshal(bs []byte) (v map[string][]string, n int, err error) {
	count, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if err := boundCount(count, len(bs)-n); err != nil {
		return nil, n, err
	}
	v = make(map[string][]string, count)
	for i := 0; i < count; i++ {
		var term string
		var ids []string
		var m int
		term, m, err = ord.String.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
		ids, m, err = stringSliceSer.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return nil, n, err
		}
		v[term] = ids
	}
	return v, n, nil
}

func (postingsMUS) Size(v map[string][]string) (size int) {
	size = varint.Int.Size(len(v))
	for term, ids := range v {
		size += ord.String.Size(term) + stringSliceSer.Size(ids)
	}
	return size
}

// Convenience wrappers matching the engine's call sites.

// MarshalSessionMetadata serializes a SessionMetadata to bytes.
func MarshalSessionMetadata(meta *core.SessionMetadata) []byte {
	buf := make([]byte, SessionMetadataMUS.Size(*meta))
	SessionMetadataMUS.Marshal(*meta, buf)
	return buf
}

// UnmarshalSessionMetadata deserializes a SessionMetadata from bytes.
func UnmarshalSessionMetadata(data []byte) (*core.SessionMetadata, error) {
	meta, _, err := SessionMetadataMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &meta, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, ChunkMUS.Size(*chunk))
	ChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := ChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &chunk, nil
}

// MarshalMediaItem serializes a MediaItem to bytes.
func MarshalMediaItem(item *core.MediaItem) []byte {
	buf := make([]byte, MediaItemMUS.Size(*item))
	MediaItemMUS.Marshal(*item, buf)
	return buf
}

// UnmarshalMediaItem deserializes a MediaItem from bytes.
func UnmarshalMediaItem(data []byte) (*core.MediaItem, error) {
	item, _, err := MediaItemMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &item, nil
}

// MarshalBlobInfo serializes a BlobInfo to bytes.
func MarshalBlobInfo(info *core.BlobInfo) []byte {
	buf := make([]byte, BlobInfoMUS.Size(*info))
	BlobInfoMUS.Marshal(*info, buf)
	return buf
}

// UnmarshalBlobInfo deserializes a BlobInfo from bytes.
func UnmarshalBlobInfo(data []byte) (*core.BlobInfo, error) {
	info, _, err := BlobInfoMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &info, nil
}

// MarshalPostings serializes a named index's posting lists to bytes.
func MarshalPostings(postings map[string][]string) []byte {
	buf := make([]byte, PostingsMUS.Size(postings))
	PostingsMUS.Marshal(postings, buf)
	return buf
}

// UnmarshalPostings deserializes posting lists from bytes.
func UnmarshalPostings(data []byte) (map[string][]string, error) {
	postings, _, err := PostingsMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return postings, nil
}
