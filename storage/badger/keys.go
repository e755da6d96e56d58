package badger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/poiesic/boardmax/core"
)

// Key prefixes for different data types
const (
	entryPrefix    = "idxent:"
	entryIDPrefix  = "idxid:"
	entryDocPrefix = "idxdoc:"
	manifestPrefix = "idxman:"
)

// keySep terminates variable-length key segments. Subjects and document IDs never contain it.
const keySep = 0x00

// makeEntryKey generates the primary key for an index entry.
// Format: prefix subject 0x00 id, so entries of one subject share a prefix.
func makeEntryKey(subject string, id core.ID) []byte {
	buf := make([]byte, 0, len(entryPrefix)+len(subject)+1+8)
	buf = append(buf, entryPrefix...)
	buf = append(buf, subject...)
	buf = append(buf, keySep)
	// Write in BigEndian order so lexicographic sort works correctly
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// makeSubjectPrefix generates the scan prefix for all entries of subject.
// An empty subject yields the prefix of every entry.
func makeSubjectPrefix(subject string) []byte {
	if subject == "" {
		return []byte(entryPrefix)
	}
	buf := make([]byte, 0, len(entryPrefix)+len(subject)+1)
	buf = append(buf, entryPrefix...)
	buf = append(buf, subject...)
	return append(buf, keySep)
}

// subjectFromEntryKey extracts the subject segment of a primary key.
func subjectFromEntryKey(key []byte) (string, error) {
	rest := bytes.TrimPrefix(key, []byte(entryPrefix))
	i := bytes.IndexByte(rest, keySep)
	if i < 0 || len(rest)-i-1 != 8 {
		return "", fmt.Errorf("malformed entry key %q", key)
	}
	return string(rest[:i]), nil
}

// makeIDKey generates the secondary key mapping an entry ID to its primary key.
func makeIDKey(id core.ID) []byte {
	buf := make([]byte, 0, len(entryIDPrefix)+8)
	buf = append(buf, entryIDPrefix...)
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// makeDocKey generates the secondary key for (document, chunk index).
// Format: prefix documentID 0x00 chunkIndex
func makeDocKey(documentID string, chunkIndex int) []byte {
	buf := makeDocPrefix(documentID)
	return binary.BigEndian.AppendUint64(buf, uint64(chunkIndex))
}

// makeDocPrefix generates the scan prefix for all chunks of a document.
func makeDocPrefix(documentID string) []byte {
	buf := make([]byte, 0, len(entryDocPrefix)+len(documentID)+1+8)
	buf = append(buf, entryDocPrefix...)
	buf = append(buf, documentID...)
	return append(buf, keySep)
}

// chunkIndexFromDocKey extracts the chunk index from a document key.
func chunkIndexFromDocKey(key []byte) int {
	if len(key) < 8 {
		return -1
	}
	return int(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeManifestKey generates the key for a document manifest.
func makeManifestKey(documentID string) []byte {
	return []byte(manifestPrefix + documentID)
}
