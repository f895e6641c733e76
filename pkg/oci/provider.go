package oci

import (
	"context"
)

// ImageSource resolves a registry tag of one image to cached, verified
// layers.
type ImageSource interface {
	Pull(ctx context.Context, image, tag string) (*PullResult, error)
	Info() string
}

// PullResult describes what a Pull did.
type PullResult struct {
	Manifest   *Manifest
	Cache      *Cache
	Downloaded int // blobs transferred
	Reused     int // blobs already cached and verified
	Removed    int // orphan blobs garbage collected
}
