package remote

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatches_SplitsAtBackendLimit(t *testing.T) {
	ops := make([]WriteOp, 1200)
	for i := range ops {
		ops[i] = DeleteOp(Transactions, fmt.Sprintf("tx-%04d", i))
	}

	chunks := Batches(ops)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Len(t, chunks[2], 200)

	// order inside a chunk is preserved
	assert.Equal(t, "tx-0000", chunks[0][0].ID)
	assert.Equal(t, "tx-0499", chunks[0][499].ID)
	assert.Equal(t, "tx-0500", chunks[1][0].ID)
	assert.Equal(t, "tx-1199", chunks[2][199].ID)
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{"empty", nil, 2, nil},
		{"exact", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3}, 2, [][]int{{1, 2}, {3}}},
		{"smaller than size", []int{1}, 500, [][]int{{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunk(tt.items, tt.size))
		})
	}
}

func TestChunk_PanicsOnInvalidSize(t *testing.T) {
	assert.Panics(t, func() { Chunk([]int{1}, 0) })
}

func TestMergePatch(t *testing.T) {
	out, err := MergePatch(json.RawMessage(`{"id":"a","repeating":"monthly","note":"rent"}`),
		map[string]any{"repeating": "inactive"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "inactive", got["repeating"])
	assert.Equal(t, "rent", got["note"])
}
