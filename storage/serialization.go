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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/poiesic/boardmax/core"
	"github.com/vmihailenco/msgpack/v5"
)

// entryRecord is the on-disk form of core.IndexEntry.
// Short field names keep stored values compact.
type entryRecord struct {
	ID         uint64    `msgpack:"i"`
	DocumentID string    `msgpack:"d"`
	ChunkIndex int       `msgpack:"c"`
	Subject    string    `msgpack:"s"`
	Source     string    `msgpack:"o"`
	Text       string    `msgpack:"t"`
	Vector     []float32 `msgpack:"v"`
	IndexedAt  time.Time `msgpack:"a"`
}

type manifestRecord struct {
	DocumentID  string    `msgpack:"d"`
	Subject     string    `msgpack:"s"`
	Fingerprint uint64    `msgpack:"f"`
	Chunks      int       `msgpack:"c"`
	UpdatedAt   time.Time `msgpack:"u"`
}

// MarshalID serializes an ID to 8 big-endian bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// UnmarshalID deserializes an ID from bytes produced by MarshalID.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: id must be 8 bytes, got %d", ErrSerializationFailed, len(data))
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

// MarshalIndexEntry serializes an IndexEntry to bytes.
func MarshalIndexEntry(entry *core.IndexEntry) ([]byte, error) {
	data, err := msgpack.Marshal(&entryRecord{
		ID:         uint64(entry.ID),
		DocumentID: entry.DocumentID,
		ChunkIndex: entry.ChunkIndex,
		Subject:    entry.Subject,
		Source:     entry.Source,
		Text:       entry.Text,
		Vector:     entry.Vector,
		IndexedAt:  entry.IndexedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalIndexEntry deserializes an IndexEntry from bytes.
func UnmarshalIndexEntry(data []byte) (*core.IndexEntry, error) {
	var rec entryRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &core.IndexEntry{
		ID:         core.ID(rec.ID),
		DocumentID: rec.DocumentID,
		ChunkIndex: rec.ChunkIndex,
		Subject:    rec.Subject,
		Source:     rec.Source,
		Text:       rec.Text,
		Vector:     rec.Vector,
		IndexedAt:  rec.IndexedAt.UTC(),
	}, nil
}

// MarshalManifest serializes a Manifest to bytes.
func MarshalManifest(manifest *core.Manifest) ([]byte, error) {
	data, err := msgpack.Marshal(&manifestRecord{
		DocumentID:  manifest.DocumentID,
		Subject:     manifest.Subject,
		Fingerprint: uint64(manifest.Fingerprint),
		Chunks:      manifest.Chunks,
		UpdatedAt:   manifest.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalManifest deserializes a Manifest from bytes.
func UnmarshalManifest(data []byte) (*core.Manifest, error) {
	var rec manifestRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &core.Manifest{
		DocumentID:  rec.DocumentID,
		Subject:     rec.Subject,
		Fingerprint: core.ID(rec.Fingerprint),
		Chunks:      rec.Chunks,
		UpdatedAt:   rec.UpdatedAt.UTC(),
	}, nil
}
