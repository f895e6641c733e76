package fs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/maxdollinger/relocpy/pkg/utils"
	"github.com/opencontainers/go-digest"
)

// ImageExtractor materializes a layer list into a directory and remembers how
// far it got in a marker file, so that a later run only applies what is new.
type ImageExtractor struct {
	unpacker Unpacker
	logger   *slog.Logger
}

func NewImageExtractor(unpacker Unpacker) *ImageExtractor {
	return &ImageExtractor{
		unpacker: unpacker,
		logger:   slog.Default(),
	}
}

// Extract brings dest to the state of layers applied in order.
//
// Process:
//  1. Read the digests recorded in dest/.extracted
//  2. Wipe dest when the record is not a prefix of layers
//  3. Unpack the remaining layers one by one
//  4. Rewrite the record after each layer
//
// A failing layer is never recorded, the next run retries it.
func (e *ImageExtractor) Extract(ctx context.Context, layers []oci.Layer, dest string) (*ExtractResult, error) {
	result := &ExtractResult{Dir: dest}
	logger := e.logger.With("dest", dest)

	applied, err := ReadMarker(dest)
	if err != nil {
		return nil, err
	}

	if !isPrefix(applied, layers) {
		logger.InfoContext(ctx, "extracted tree diverged from image, wiping", "recorded", len(applied))
		if err := RemoveTree(dest); err != nil {
			return nil, fmt.Errorf("wipe diverged tree: %w", err)
		}
		applied = nil
		result.Wiped = true
	}
	result.Skipped = len(applied)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}

	for _, layer := range layers[len(applied):] {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		logger.InfoContext(ctx, "extracting layer", "layer", layer.Digest().Encoded(), "size", layer.Size())
		if err := e.unpacker.Unpack(ctx, layer, dest); err != nil {
			return result, err
		}

		applied = append(applied, layer.Digest())
		if err := writeMarker(dest, applied); err != nil {
			return result, err
		}
		result.Applied++
	}

	logger.DebugContext(ctx, "extraction complete", "applied", result.Applied, "skipped", result.Skipped)
	return result, nil
}

// ReadMarker returns the layer digests recorded as applied in dir. A missing
// marker means nothing was applied.
func ReadMarker(dir string) ([]digest.Digest, error) {
	data, err := os.ReadFile(filepath.Join(dir, oci.MarkerFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read extraction marker: %w", err)
	}

	var digests []digest.Digest
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		dgst := digest.NewDigestFromEncoded(digest.SHA256, line)
		if err := dgst.Validate(); err != nil {
			// unreadable state is treated as divergent
			return []digest.Digest{dgst}, nil
		}
		digests = append(digests, dgst)
	}
	return digests, scanner.Err()
}

func writeMarker(dir string, applied []digest.Digest) error {
	var buf bytes.Buffer
	for _, dgst := range applied {
		buf.WriteString(dgst.Encoded())
		buf.WriteByte('\n')
	}
	if err := utils.WriteFileAtomic(filepath.Join(dir, oci.MarkerFile), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write extraction marker: %w", err)
	}
	return nil
}

func isPrefix(applied []digest.Digest, layers []oci.Layer) bool {
	if len(applied) > len(layers) {
		return false
	}
	for i, dgst := range applied {
		if layers[i].Digest() != dgst {
			return false
		}
	}
	return true
}
