package fs

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/maxdollinger/relocpy/pkg/oci/ocitest"
)

func unpackAll(t *testing.T, dir string, layers ...oci.Layer) {
	t.Helper()
	unpacker := NewLayerUnpacker()
	for _, layer := range layers {
		if err := unpacker.Unpack(context.Background(), layer, dir); err != nil {
			t.Fatalf("Unpack failed: %v", err)
		}
	}
}

func readString(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

// TestLayerUnpackerBasicExtraction tests extracting a simple layer
func TestLayerUnpackerBasicExtraction(t *testing.T) {
	tmpDir := t.TempDir()

	unpackAll(t, tmpDir, ocitest.NewLayer(
		ocitest.File("file.txt", "hello"),
		ocitest.Dir("dir/", 0o755),
		ocitest.File("dir/nested.txt", "world"),
		ocitest.Symlink("dir/link", "nested.txt"),
	))

	if got := readString(t, filepath.Join(tmpDir, "file.txt")); got != "hello" {
		t.Errorf("file.txt content = %q, want %q", got, "hello")
	}
	if got := readString(t, filepath.Join(tmpDir, "dir", "link")); got != "world" {
		t.Errorf("dir/link content = %q, want %q", got, "world")
	}

	target, err := os.Readlink(filepath.Join(tmpDir, "dir", "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "nested.txt" {
		t.Errorf("link target = %q, want nested.txt", target)
	}
}

// TestLayerUnpackerLayerOverwrite tests that later layers overwrite earlier ones
func TestLayerUnpackerLayerOverwrite(t *testing.T) {
	tmpDir := t.TempDir()

	unpackAll(t, tmpDir,
		ocitest.NewLayer(ocitest.File("file.txt", "original"), ocitest.File("link", "a file")),
		ocitest.NewLayer(ocitest.File("file.txt", "updated"), ocitest.Symlink("link", "file.txt")),
	)

	if got := readString(t, filepath.Join(tmpDir, "file.txt")); got != "updated" {
		t.Errorf("file.txt content = %q, want %q", got, "updated")
	}
	info, err := os.Lstat(filepath.Join(tmpDir, "link"))
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("regular file should be replaced by the symlink of the later layer")
	}
}

// TestLayerUnpackerWhiteout tests OCI whiteout handling
func TestLayerUnpackerWhiteout(t *testing.T) {
	tmpDir := t.TempDir()

	unpackAll(t, tmpDir,
		ocitest.NewLayer(
			ocitest.File("file.txt", "delete me"),
			ocitest.File("keep.txt", "keep me"),
			ocitest.Dir("opaque/", 0o755),
			ocitest.File("opaque/old.txt", "old"),
		),
		ocitest.NewLayer(
			ocitest.File(".wh.file.txt", ""),
			ocitest.File("opaque/.wh..wh..opaque", ""),
			ocitest.File("opaque/new.txt", "new"),
		),
	)

	if _, err := os.Stat(filepath.Join(tmpDir, "file.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("file.txt should be deleted by whiteout")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".wh.file.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("whiteout marker should not be materialized")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "keep.txt")); err != nil {
		t.Errorf("keep.txt should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "opaque", "old.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("opaque whiteout should clear earlier content")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "opaque", "new.txt")); err != nil {
		t.Errorf("opaque/new.txt should exist: %v", err)
	}
}

func TestLayerUnpackerRejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry ocitest.Entry
	}{
		{"dotdot file", ocitest.File("../escape.txt", "x")},
		{"hardlink out of root", ocitest.Entry{Name: "link", Typeflag: tar.TypeLink, Linkname: "../../etc/passwd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			tmpDir := filepath.Join(parent, "root")

			err := NewLayerUnpacker().Unpack(context.Background(), ocitest.NewLayer(tt.entry), tmpDir)
			if err == nil {
				// entries are clamped below the root rather than rejected
				if _, statErr := os.Stat(filepath.Join(parent, "escape.txt")); statErr == nil {
					t.Fatal("entry escaped the target directory")
				}
				return
			}

			var extractionErr *ExtractionError
			if !errors.As(err, &extractionErr) {
				t.Fatalf("error = %T, want *ExtractionError", err)
			}
		})
	}
}

func TestLayerUnpackerConfinesSymlinkedParents(t *testing.T) {
	parent := t.TempDir()
	outside := filepath.Join(parent, "outside")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	victim := filepath.Join(outside, "victim")
	if err := os.WriteFile(victim, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	tmpDir := filepath.Join(parent, "root")

	unpackAll(t, tmpDir, ocitest.NewLayer(
		ocitest.Symlink("escape", outside),
		ocitest.File("escape/pwned", "x"),
		ocitest.File("escape/.wh.victim", ""),
		ocitest.Symlink("up", "../.."),
		ocitest.File("up/pwned", "x"),
		ocitest.Entry{Name: "hard", Typeflag: tar.TypeLink, Linkname: "escape/pwned"},
	))

	if _, err := os.Stat(filepath.Join(outside, "pwned")); err == nil {
		t.Error("write through an absolute symlink escaped the target directory")
	}
	if _, err := os.Stat(filepath.Join(parent, "pwned")); err == nil {
		t.Error("write through a relative symlink escaped the target directory")
	}
	if got := readString(t, victim); got != "keep" {
		t.Errorf("whiteout through a symlink removed a file outside the tree")
	}

	// absolute links resolve against the tree itself
	if got := readString(t, filepath.Join(tmpDir, outside, "pwned")); got != "x" {
		t.Errorf("rebased file content = %q, want x", got)
	}
	if got := readString(t, filepath.Join(tmpDir, "pwned")); got != "x" {
		t.Errorf("clamped file content = %q, want x", got)
	}
	if got := readString(t, filepath.Join(tmpDir, "hard")); got != "x" {
		t.Errorf("hardlink content = %q, want the rebased file", got)
	}
}

func TestLayerUnpackerFollowsLinksInsideTree(t *testing.T) {
	tmpDir := t.TempDir()

	unpackAll(t, tmpDir,
		ocitest.NewLayer(
			ocitest.Dir("usr/", 0o755),
			ocitest.Dir("usr/lib64/", 0o755),
			ocitest.Symlink("lib64", "/usr/lib64"),
			ocitest.Symlink("lib", "usr/lib64"),
		),
		ocitest.NewLayer(
			ocitest.File("lib64/libz.so.1", "zlib"),
			ocitest.File("lib/libffi.so.8", "ffi"),
		),
	)

	for _, name := range []string{"libz.so.1", "libffi.so.8"} {
		if _, err := os.Stat(filepath.Join(tmpDir, "usr", "lib64", name)); err != nil {
			t.Errorf("%s not written through the in-tree link: %v", name, err)
		}
	}
	if target, err := os.Readlink(filepath.Join(tmpDir, "lib64")); err != nil || target != "/usr/lib64" {
		t.Errorf("lib64 link = %q, %v, want it kept", target, err)
	}
}

func TestLayerUnpackerSkipsDevices(t *testing.T) {
	tmpDir := t.TempDir()

	unpackAll(t, tmpDir, ocitest.NewLayer(
		ocitest.Dir("dev/", 0o755),
		ocitest.Entry{Name: "dev/null", Typeflag: tar.TypeChar, Mode: 0o666},
		ocitest.Entry{Name: "dev/pipe", Typeflag: tar.TypeFifo, Mode: 0o644},
		ocitest.File("dev/README", "devices are skipped"),
	))

	for _, name := range []string{"null", "pipe"} {
		if _, err := os.Lstat(filepath.Join(tmpDir, "dev", name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("dev/%s should be skipped", name)
		}
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "dev", "README")); err != nil {
		t.Errorf("dev/README should exist: %v", err)
	}
}

func TestLayerUnpackerGrantsOwnerWrite(t *testing.T) {
	tmpDir := t.TempDir()

	unpackAll(t, tmpDir,
		ocitest.NewLayer(
			ocitest.Dir("usr/", 0o555),
			ocitest.Dir("usr/lib/", 0o555),
			ocitest.Entry{Name: "usr/lib/libfoo.so", Typeflag: tar.TypeReg, Content: []byte("elf"), Mode: 0o444},
		),
		ocitest.NewLayer(ocitest.File("usr/lib/libbar.so", "elf")),
	)

	for _, rel := range []string{"usr", "usr/lib", "usr/lib/libfoo.so"} {
		info, err := os.Stat(filepath.Join(tmpDir, rel))
		if err != nil {
			t.Fatalf("stat %s: %v", rel, err)
		}
		if info.Mode().Perm()&0o600 != 0o600 {
			t.Errorf("%s mode = %v, want owner rw", rel, info.Mode().Perm())
		}
	}

	if err := RemoveTree(tmpDir); err != nil {
		t.Errorf("RemoveTree failed: %v", err)
	}
}

func TestLayerUnpackerCorruptLayer(t *testing.T) {
	layer := &ocitest.MemoryLayer{Data: []byte("not a gzip stream")}

	err := NewLayerUnpacker().Unpack(context.Background(), layer, t.TempDir())

	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
	if extractionErr.Layer != layer.Digest() {
		t.Errorf("error layer = %s, want %s", extractionErr.Layer, layer.Digest())
	}
}

// TestLayerUnpackerContextCancellation tests that extraction respects context cancellation
func TestLayerUnpackerContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLayerUnpacker().Unpack(ctx, ocitest.NewLayer(ocitest.File("file.txt", "x")), t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
