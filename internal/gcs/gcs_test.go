package gcs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://bucket/u1/backup/a.json", "bucket", "u1/backup/a.json", false},
		{"gs://bucket", "", "", true},
		{"gs://bucket/", "", "", true},
		{"s3://bucket/a", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			b, o, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, b)
			assert.Equal(t, tt.wantObject, o)
		})
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "a.json", BaseName("gs://bucket/u1/backup/a.json"))
	assert.Equal(t, "a.json", BaseName("u1/backup/a.json"))
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()

	require.NoError(t, m.UploadBytes(ctx, "u1/backup/b.json", []byte("b"), "application/json"))
	require.NoError(t, m.UploadBytes(ctx, "u1/backup/a.json", []byte("a"), "application/json"))
	require.NoError(t, m.UploadBytes(ctx, "u2/backup/c.json", []byte("c"), "application/json"))

	objs, err := m.List(ctx, "u1/backup/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "u1/backup/a.json", objs[0].Name)

	data, err := m.Download(ctx, "u1/backup/b.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	require.NoError(t, m.Delete(ctx, "u1/backup/b.json"))
	_, err = m.Download(ctx, "u1/backup/b.json")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
	assert.True(t, errors.Is(m.Delete(ctx, "missing"), ErrObjectNotFound))
}
