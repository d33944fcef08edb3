package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/affiliate-crawler/internal/hash/sha256"
	"github.com/JakeFAU/affiliate-crawler/internal/storage/memory"
)

func TestBlobSnapshotterNamesByDigest(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	hasher := sha256.New()
	s := NewBlobSnapshotter(blobs, hasher, "runs/cli")

	markup := []byte("<html><body>robot check</body></html>")
	require.NoError(t, s.Snapshot(context.Background(), "hub", 2, markup))

	digest, err := hasher.Hash(markup)
	require.NoError(t, err)
	body, contentType, ok := blobs.Object("runs/cli/" + digest + ".html")
	require.True(t, ok)
	assert.Equal(t, markup, body)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
}

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("boom") }

func (failingHasher) Key(string, []byte) (string, error) { return "", errors.New("boom") }

func TestBlobSnapshotterHashFailure(t *testing.T) {
	t.Parallel()

	s := NewBlobSnapshotter(memory.NewBlobStore(), failingHasher{}, "x")
	err := s.Snapshot(context.Background(), "hub", 1, []byte("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash snapshot")
}
