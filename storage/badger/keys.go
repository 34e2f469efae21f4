package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/docquery/core"
)

// Key prefixes for different data types
const (
	documentPrefix      = "docrec"
	documentOwnerPrefix = "docown"
	documentHashPrefix  = "dochash"
	chunkPrefix         = "chkrec"
	chunkDocumentPrefix = "chkdoc"
	runPrefix           = "runrec"
	runOwnerPrefix      = "runown"
)

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentPrefix, id))
}

// makeDocumentOwnerKey generates a composite key for the owner index.
// Format: prefix:ownerSub:createdMicros:id. Timestamps are BigEndian so
// lexicographic iteration yields creation order.
func makeDocumentOwnerKey(ownerSub string, createdMicros int64, id string) []byte {
	prefix := fmt.Sprintf("%s:%s:", documentOwnerPrefix, ownerSub)
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdMicros))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// makePartialDocumentOwnerKey generates the iteration prefix for an owner's documents.
func makePartialDocumentOwnerKey(ownerSub string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", documentOwnerPrefix, ownerSub))
}

// makeDocumentHashKey generates the dedup index key for (owner, content hash).
func makeDocumentHashKey(ownerSub, contentHash string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", documentHashPrefix, ownerSub, contentHash))
}

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id core.ID) []byte {
	prefix := chunkPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeChunkDocumentKey generates a composite key for the per-document chunk index.
// Format: prefix:documentID:page:chunkIndex. Page and index are BigEndian so
// iteration yields (page, chunk_index) order.
func makeChunkDocumentKey(documentID string, page, chunkIndex int, id core.ID) []byte {
	prefix := fmt.Sprintf("%s:%s:", chunkDocumentPrefix, documentID)
	buf := make([]byte, len(prefix)+24)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(page))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(chunkIndex))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makePartialChunkDocumentKey generates the iteration prefix for a document's chunks.
func makePartialChunkDocumentKey(documentID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", chunkDocumentPrefix, documentID))
}

// makeRunKey generates a key for a run by ID.
func makeRunKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", runPrefix, id))
}

// makeRunOwnerKey generates a composite key for the run owner index.
func makeRunOwnerKey(ownerSub string, createdMicros int64, id string) []byte {
	prefix := fmt.Sprintf("%s:%s:", runOwnerPrefix, ownerSub)
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdMicros))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// makePartialRunOwnerKey generates the iteration prefix for an owner's runs.
func makePartialRunOwnerKey(ownerSub string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", runOwnerPrefix, ownerSub))
}
