package ocitest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// Entry is one tar member of a fixture layer.
type Entry struct {
	Name     string
	Typeflag byte
	Content  []byte
	Linkname string
	Mode     int64
}

// File is a regular file entry with mode 0644.
func File(name, content string) Entry {
	return Entry{Name: name, Typeflag: tar.TypeReg, Content: []byte(content), Mode: 0o644}
}

// Dir is a directory entry with the given mode.
func Dir(name string, mode int64) Entry {
	return Entry{Name: name, Typeflag: tar.TypeDir, Mode: mode}
}

// Symlink is a symbolic link entry.
func Symlink(name, target string) Entry {
	return Entry{Name: name, Typeflag: tar.TypeSymlink, Linkname: target, Mode: 0o777}
}

// TarGz builds a gzip compressed tarball in memory.
func TarGz(entries ...Entry) []byte {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.Name,
			Typeflag: entry.Typeflag,
			Size:     int64(len(entry.Content)),
			Mode:     entry.Mode,
			Linkname: entry.Linkname,
		}
		if entry.Typeflag != tar.TypeReg {
			header.Size = 0
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			panic(err)
		}

		if header.Size > 0 {
			if _, err := tarWriter.Write(entry.Content); err != nil {
				panic(err)
			}
		}
	}

	if err := tarWriter.Close(); err != nil {
		panic(err)
	}
	if err := gzipWriter.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// MemoryLayer is an in-memory layer satisfying oci.Layer.
type MemoryLayer struct {
	Data []byte
	// Err is returned by Compressed when set.
	Err error
}

// NewLayer builds a MemoryLayer from tar entries.
func NewLayer(entries ...Entry) *MemoryLayer {
	return &MemoryLayer{Data: TarGz(entries...)}
}

func (l *MemoryLayer) Digest() digest.Digest {
	return digest.FromBytes(l.Data)
}

func (l *MemoryLayer) Size() int64 {
	return int64(len(l.Data))
}

func (l *MemoryLayer) MediaType() string {
	return "application/vnd.docker.image.rootfs.diff.tar.gzip"
}

func (l *MemoryLayer) Compressed(ctx context.Context) (io.ReadCloser, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	return io.NopCloser(bytes.NewReader(l.Data)), nil
}
