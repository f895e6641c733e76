// Package fs materializes image layers on disk.
//
// The LayerUnpacker applies one gzip compressed tar layer onto a directory.
// It handles:
//   - File overwrites by later layers
//   - OCI whiteout markers (.wh.* files) for deletions
//   - Opaque whiteouts (.wh..wh..opaque) for directory clearing
//   - Directory traversal protection
//   - Context cancellation
//
// Device nodes and FIFOs are skipped. After every layer the whole tree is made
// owner readable and writable, since base images ship read-only directories
// that would otherwise block later layers and cleanup.
//
// The ImageExtractor builds on it to extract a layer list incrementally.
package fs

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"github.com/maxdollinger/relocpy/pkg/oci"
)

type LayerUnpacker struct{}

func NewLayerUnpacker() *LayerUnpacker {
	return &LayerUnpacker{}
}

// Unpack extracts layer into targetDir. Permissions are normalized even when
// extraction fails partway, so the next run can always wipe the directory.
func (f *LayerUnpacker) Unpack(ctx context.Context, layer oci.Layer, targetDir string) (err error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	defer func() {
		if permErr := GrantOwnerRW(targetDir); permErr != nil {
			err = errors.Join(err, permErr)
		}
	}()

	entry, err := f.extractLayer(ctx, layer, targetDir)
	if err != nil {
		detail := ""
		if entry != "" {
			detail = "at entry " + entry
		}
		return &ExtractionError{Layer: layer.Digest(), Detail: detail, Err: err}
	}
	return nil
}

// extractLayer returns the name of the entry being processed when it fails.
func (f *LayerUnpacker) extractLayer(ctx context.Context, layer oci.Layer, targetDir string) (string, error) {
	reader, err := layer.Compressed(ctx)
	if err != nil {
		return "", fmt.Errorf("get compressed layer: %w", err)
	}
	defer reader.Close()

	gzipReader, err := gzip.NewReader(reader)
	if err != nil {
		return "", fmt.Errorf("decompress gzip: %w", err)
	}
	defer gzipReader.Close()

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return "", fmt.Errorf("resolve target directory: %w", err)
	}

	tarReader := tar.NewReader(gzipReader)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read tar header: %w", err)
		}

		if isWhiteout(header.Name) {
			if err := f.handleWhiteout(root, header.Name); err != nil {
				return header.Name, fmt.Errorf("handle whiteout: %w", err)
			}
			continue
		}

		if err := f.extractTarEntry(root, header, tarReader); err != nil {
			return header.Name, err
		}
	}

	return "", nil
}

func isWhiteout(name string) bool {
	// OCI whiteout: .wh.FILENAME deletes FILENAME
	// Opaque whiteout: .wh..wh..opaque deletes the directory
	_, file := filepath.Split(filepath.Clean(name))
	return strings.HasPrefix(file, ".wh.")
}

// handleWhiteout removes a file or directory indicated by a whiteout marker
func (f *LayerUnpacker) handleWhiteout(root, whiteoutPath string) error {
	dir, file := filepath.Split(filepath.Clean(whiteoutPath))
	actualName := strings.TrimPrefix(file, ".wh.")

	if actualName == ".wh..opaque" {
		opaqueDir, err := securejoin.SecureJoin(root, filepath.Clean("/"+dir))
		if err != nil {
			return fmt.Errorf("resolve opaque directory %s: %w", dir, err)
		}
		entries, err := os.ReadDir(opaqueDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read opaque directory: %w", err)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(opaqueDir, e.Name())); err != nil {
				return fmt.Errorf("clear opaque directory: %w", err)
			}
		}
		return os.MkdirAll(opaqueDir, 0o755)
	}

	deletePath, err := safeJoin(root, filepath.Join(dir, actualName))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(deletePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove whiteout file: %w", err)
	}

	return nil
}

// safeJoin resolves name below root and rejects paths escaping it. Symlinks
// in the parent directories are followed as if root were the filesystem
// root, so a link unpacked by an earlier entry cannot redirect a write or a
// removal outside the tree. The last element is never resolved.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean("/" + name)
	rel, err := filepath.Rel(root, filepath.Join(root, clean))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}
	if clean == "/" {
		return root, nil
	}

	parent, err := securejoin.SecureJoin(root, filepath.Dir(clean))
	if err != nil {
		return "", fmt.Errorf("resolve parent of %s: %w", name, err)
	}
	return filepath.Join(parent, filepath.Base(clean)), nil
}

// removeNonDir clears the way for a new entry unless a directory is there.
func removeNonDir(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	return os.Remove(path)
}

// extractTarEntry extracts a single tar entry below root
func (f *LayerUnpacker) extractTarEntry(root string, header *tar.Header, reader io.Reader) error {
	targetPath, err := safeJoin(root, header.Name)
	if err != nil {
		return err
	}
	if targetPath == root && header.Typeflag != tar.TypeDir {
		return nil
	}

	switch header.Typeflag {
	case tar.TypeDir:
		// owner rwx so the rest of the layer can be written below it
		mode := os.FileMode(header.Mode).Perm() | 0o700
		if err := removeNonDir(targetPath); err != nil {
			return fmt.Errorf("replace with directory: %w", err)
		}
		if err := os.MkdirAll(targetPath, mode); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
		if err := os.Chmod(targetPath, mode); err != nil {
			return fmt.Errorf("chmod directory: %w", err)
		}
		// Restore ownership if possible (may require root)
		_ = os.Lchown(targetPath, header.Uid, header.Gid)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
		if err := removeNonDir(targetPath); err != nil {
			return fmt.Errorf("replace file: %w", err)
		}

		file, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm()|0o200)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		if _, err := io.CopyN(file, reader, header.Size); err != nil && err != io.EOF {
			_ = file.Close()
			return fmt.Errorf("copy file content: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		if err := os.Chmod(targetPath, os.FileMode(header.Mode)&os.ModePerm); err != nil {
			return fmt.Errorf("chmod file: %w", err)
		}

		// Restore ownership if possible (may require root)
		_ = os.Lchown(targetPath, header.Uid, header.Gid)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
		if err := removeNonDir(targetPath); err != nil {
			return fmt.Errorf("replace symlink: %w", err)
		}
		if err := os.Symlink(header.Linkname, targetPath); err != nil {
			return fmt.Errorf("create symlink: %w", err)
		}

	case tar.TypeLink:
		linkTarget, err := safeJoin(root, header.Linkname)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
		if err := removeNonDir(targetPath); err != nil {
			return fmt.Errorf("replace hardlink: %w", err)
		}
		if err := os.Link(linkTarget, targetPath); err != nil {
			return fmt.Errorf("create hardlink: %w", err)
		}

	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		// Skip special files (device nodes, pipes)
		return nil

	default:
		// Unknown type - skip
		return nil
	}

	return nil
}
