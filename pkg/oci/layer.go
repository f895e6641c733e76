package oci

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
)

// Layer represents a single image layer
type Layer interface {
	Digest() digest.Digest
	Size() int64
	MediaType() string
	// Compressed returns a reader for the compressed (tar.gz) layer data
	// The caller must close the reader when done
	Compressed(ctx context.Context) (io.ReadCloser, error)
}

// CachedLayer is a layer blob stored in the local layer cache.
type CachedLayer struct {
	digest digest.Digest
	path   string
}

func NewCachedLayer(dgst digest.Digest, path string) *CachedLayer {
	return &CachedLayer{digest: dgst, path: path}
}

func (l *CachedLayer) Digest() digest.Digest {
	return l.digest
}

func (l *CachedLayer) Path() string {
	return l.path
}

func (l *CachedLayer) Size() int64 {
	info, err := os.Stat(l.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (l *CachedLayer) MediaType() string {
	return string(types.DockerLayer)
}

// Compressed opens the cached blob. The content is not re-verified here; the
// downloader only publishes blobs whose digest matched.
func (l *CachedLayer) Compressed(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open cached layer %s: %w", l.digest.Encoded(), err)
	}
	return f, nil
}
