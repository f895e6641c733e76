package relocate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/maxdollinger/relocpy/pkg/manylinux"
)

// Resolver maps a library name to the file providing it.
type Resolver interface {
	Resolve(name string) (string, error)
}

// SearchPath resolves libraries against an ordered list of directories.
// With a root set, symlinks are resolved as if root were the filesystem
// root, so an absolute link inside an image never reaches the host.
type SearchPath struct {
	root string
	dirs []string
}

func NewSearchPath(dirs ...string) *SearchPath {
	return &SearchPath{dirs: dirs}
}

// NewImageSearchPath derives the library directories of an extracted
// manylinux image: the system lib directory of arch, usr/local/lib, then the
// vendored OpenSSL and SQLite builds below opt/_internal.
func NewImageSearchPath(imageRoot string, arch manylinux.Arch) *SearchPath {
	dirs := []string{
		filepath.Join(imageRoot, arch.LibDir()),
		filepath.Join(imageRoot, "usr", "local", "lib"),
	}
	for _, pattern := range []string{"openssl-*", "sqlite*"} {
		matches, _ := filepath.Glob(filepath.Join(imageRoot, "opt", "_internal", pattern))
		sort.Strings(matches)
		for _, m := range matches {
			dirs = append(dirs, filepath.Join(m, "lib"))
		}
	}
	search := NewSearchPath(dirs...)
	search.root = imageRoot
	return search
}

func (s *SearchPath) Dirs() []string {
	return append([]string(nil), s.dirs...)
}

// Resolve returns the first existing dir/name. Below a root the returned
// path has its symlinks resolved.
func (s *SearchPath) Resolve(name string) (string, error) {
	for _, dir := range s.dirs {
		path, err := s.scoped(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", &DependencyResolutionError{Library: name, SearchPath: s.Dirs()}
}

func (s *SearchPath) scoped(path string) (string, error) {
	if s.root == "" {
		return path, nil
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("library path %s: %w", path, err)
	}
	resolved, err := securejoin.SecureJoin(s.root, rel)
	if err != nil {
		return "", fmt.Errorf("resolve %s in image: %w", rel, err)
	}
	return resolved, nil
}
