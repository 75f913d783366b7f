package remote

import (
	"encoding/json"
	"fmt"
)

// MaxWritesInBatch is the backend limit of operations in one physical write.
const MaxWritesInBatch = 500

// OpKind is the kind of a write operation.
type OpKind string

const (
	// OpSet replaces the whole document.
	OpSet OpKind = "set"
	// OpUpdate merges Patch into the existing document.
	OpUpdate OpKind = "update"
	// OpDelete removes the document.
	OpDelete OpKind = "delete"
)

// WriteOp is one document write.
type WriteOp struct {
	Kind       OpKind          `json:"kind"`
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Patch      map[string]any  `json:"patch,omitempty"`
}

// SetOp builds an OpSet from an already encoded document.
func SetOp(coll Collection, id string, data json.RawMessage) WriteOp {
	return WriteOp{Kind: OpSet, Collection: coll, ID: id, Data: data}
}

// UpdateOp builds an OpUpdate merging patch into document id.
func UpdateOp(coll Collection, id string, patch map[string]any) WriteOp {
	return WriteOp{Kind: OpUpdate, Collection: coll, ID: id, Patch: patch}
}

// DeleteOp builds an OpDelete.
func DeleteOp(coll Collection, id string) WriteOp {
	return WriteOp{Kind: OpDelete, Collection: coll, ID: id}
}

// Chunk splits items into consecutive slices of at most size elements.
// Order is kept inside each chunk.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		panic(fmt.Sprintf("remote.Chunk: invalid size %d", size))
	}
	var chunks [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// Batches splits ops into physical writes accepted by the backend.
func Batches(ops []WriteOp) [][]WriteOp {
	return Chunk(ops, MaxWritesInBatch)
}

// MergePatch applies patch on top of the JSON object doc.
func MergePatch(doc json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	obj := map[string]any{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &obj); err != nil {
			return nil, fmt.Errorf("MergePatch: decode document: %w", err)
		}
	}
	for k, v := range patch {
		obj[k] = v
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("MergePatch: encode document: %w", err)
	}
	return out, nil
}
