package fs

import (
	"context"
	"fmt"

	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/opencontainers/go-digest"
)

// Unpacker applies a single compressed layer onto a directory.
type Unpacker interface {
	Unpack(ctx context.Context, layer oci.Layer, targetDir string) error
}

// ExtractResult describes what an incremental extraction did.
type ExtractResult struct {
	Dir     string // destination directory
	Applied int    // layers unpacked by this run
	Skipped int    // layers already present from a previous run
	Wiped   bool   // previous state diverged and the destination was discarded
}

// ExtractionError is returned when a layer cannot be unpacked. Detail carries
// the diagnostic output of the failed unpack.
type ExtractionError struct {
	Layer  digest.Digest
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	name := "archive"
	if e.Layer != "" {
		name = "layer " + e.Layer.Encoded()
	}
	if e.Detail != "" {
		return fmt.Sprintf("extract %s: %v: %s", name, e.Err, e.Detail)
	}
	return fmt.Sprintf("extract %s: %v", name, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
