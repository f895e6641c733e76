package oci

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

var (
	ErrInvalidDigest   = errors.New("invalid digest")
	ErrNoToken         = errors.New("registry returned no token")
	ErrNoImageDigest   = errors.New("registry returned no image digest")
	ErrTagNotFound     = errors.New("tag not cached")
	ErrImageNotFound   = errors.New("image not cached")
	ErrDigestMismatch  = errors.New("digest mismatch")
	ErrUnsupportedAlgo = errors.New("unsupported digest algorithm")
)

// IntegrityError reports a blob whose content does not hash to its digest.
// The offending bytes have already been discarded when it is returned.
type IntegrityError struct {
	Expected digest.Digest
	Actual   digest.Digest
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("bad hash for blob %s: got %s", e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrDigestMismatch
}
