package search

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

// BlobSnapshotter stores unusable result pages in a blob store so the
// markup can be inspected later.
type BlobSnapshotter struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
}

// NewBlobSnapshotter writes snapshots under prefix.
func NewBlobSnapshotter(store crawler.BlobStore, hasher crawler.Hasher, prefix string) *BlobSnapshotter {
	return &BlobSnapshotter{store: store, hasher: hasher, prefix: prefix}
}

// Snapshot stores markup under <prefix>/<sha256>.html.
func (s *BlobSnapshotter) Snapshot(ctx context.Context, _ string, _ int, markup []byte) error {
	namespace := ""
	if dir := path.Clean(s.prefix); s.prefix != "" && dir != "." {
		namespace = dir + "/"
	}
	name, err := s.hasher.Key(namespace, markup)
	if err != nil {
		return fmt.Errorf("hash snapshot: %w", err)
	}
	if _, err := s.store.PutObject(ctx, name+".html", "text/html; charset=utf-8", bytes.NewReader(markup)); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}
