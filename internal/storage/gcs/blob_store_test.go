package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "mirrors"})
	assert.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	assert.Error(t, err)

	store, err := New(&storage.Client{}, Config{Bucket: "mirrors", Prefix: "/snapshots/"})
	require.NoError(t, err)
	assert.Equal(t, "snapshots", store.prefix)
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		path   string
		want   string
	}{
		{name: "no prefix", prefix: "", path: "example.com/raw.html", want: "example.com/raw.html"},
		{name: "with prefix", prefix: "snapshots", path: "example.com/raw.html", want: "snapshots/example.com/raw.html"},
		{name: "leading slash stripped", prefix: "snapshots", path: "/example.com/raw.html", want: "snapshots/example.com/raw.html"},
		{name: "dot segments collapsed", prefix: "", path: "a/../b/raw.html", want: "b/raw.html"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := &BlobStore{bucket: "mirrors", prefix: tc.prefix}
			assert.Equal(t, tc.want, store.objectKey(tc.path))
		})
	}
}
