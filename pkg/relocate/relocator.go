// Package relocate bundles the shared library closure of binaries into a
// single directory and points their RPATH at it.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/maxdollinger/relocpy/pkg/elf"
	"github.com/maxdollinger/relocpy/pkg/fs"
	"golang.org/x/sync/errgroup"
)

// OriginRPath is set on every bundled library so it finds its siblings.
const OriginRPath = "$ORIGIN"

type Options struct {
	Deps     elf.DependencyReader
	Editor   elf.RPathEditor
	Resolver Resolver
	Exclude  *ExcludeList
	LibDir   string // destination of the bundled libraries
	Workers  int    // binaries relocated in parallel, <= 1 means sequential
}

// Relocator copies dependency closures into LibDir. A library is bundled once
// per Relocator, however many binaries need it.
type Relocator struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	visited map[string]*entry
}

// entry tracks one bundled library. done is closed once the library and its
// own closure are in place; err is set before that when it failed.
type entry struct {
	done chan struct{}
	err  error
}

// Result lists what a relocation did.
type Result struct {
	Libraries []string // library names bundled by this call, sorted
	Patched   int      // files whose RPATH had to change
}

func NewRelocator(opts Options) *Relocator {
	return &Relocator{
		opts:    opts,
		logger:  slog.Default(),
		visited: make(map[string]*entry),
	}
}

// Relocate bundles the closure of every binary and sets the binary RPATH to
// $ORIGIN/<path from its directory to LibDir>.
//
// Process:
//  1. Read the NEEDED entries of the binary
//  2. Skip excluded and already bundled names
//  3. Resolve, copy with owner write, recurse into the copy
//  4. Set RPATH $ORIGIN on the copy
//  5. Set the binary RPATH when it differs from the expected value
//
// A resolution failure aborts. Libraries copied before it stay in LibDir.
func (r *Relocator) Relocate(ctx context.Context, binaries ...string) (*Result, error) {
	if err := os.MkdirAll(r.opts.LibDir, 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	var (
		mu     sync.Mutex
		result = &Result{}
	)
	record := func(lib string, patched bool) {
		mu.Lock()
		defer mu.Unlock()
		if lib != "" {
			result.Libraries = append(result.Libraries, lib)
		}
		if patched {
			result.Patched++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := r.opts.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, binary := range binaries {
		g.Go(func() error {
			if err := r.bundleDependencies(gctx, binary, record); err != nil {
				return err
			}

			rpath, err := r.binaryRPath(binary)
			if err != nil {
				return err
			}
			patched, err := r.ensureRPath(gctx, binary, rpath)
			if err != nil {
				return err
			}
			record("", patched)
			return nil
		})
	}

	err := g.Wait()
	sort.Strings(result.Libraries)
	if err != nil {
		return result, err
	}

	r.logger.InfoContext(ctx, "relocated binaries",
		"binaries", len(binaries),
		"libraries", len(result.Libraries),
		"libdir", r.opts.LibDir)
	return result, nil
}

// bundleDependencies places the closure of path into LibDir.
func (r *Relocator) bundleDependencies(ctx context.Context, path string, record func(string, bool)) error {
	needed, err := r.opts.Deps.Dependencies(ctx, path)
	if err != nil {
		return fmt.Errorf("read dependencies of %s: %w", path, err)
	}

	for _, name := range needed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.opts.Exclude.Contains(name) {
			continue
		}
		if err := r.bundle(ctx, name, path, record); err != nil {
			return err
		}
	}
	return nil
}

// bundle copies one library and its closure unless another caller already
// claimed it. Claiming before recursing makes dependency cycles terminate.
func (r *Relocator) bundle(ctx context.Context, name, requiredBy string, record func(string, bool)) error {
	r.mu.Lock()
	e, ok := r.visited[name]
	if !ok {
		e = &entry{done: make(chan struct{})}
		r.visited[name] = e
	}
	r.mu.Unlock()

	if ok {
		// Another goroutine owns this library. Only its failure matters here;
		// waiting on it from within a cycle would deadlock, so a pending entry
		// is treated as present.
		select {
		case <-e.done:
			return e.err
		default:
			return nil
		}
	}

	e.err = r.copyLibrary(ctx, name, requiredBy, record)
	close(e.done)
	return e.err
}

func (r *Relocator) copyLibrary(ctx context.Context, name, requiredBy string, record func(string, bool)) error {
	src, err := r.opts.Resolver.Resolve(name)
	if err != nil {
		var resErr *DependencyResolutionError
		if errors.As(err, &resErr) {
			resErr.RequiredBy = requiredBy
		}
		return err
	}

	dst := filepath.Join(r.opts.LibDir, name)
	r.logger.DebugContext(ctx, "bundling library", "name", name, "source", src)

	if err := fs.CopyFile(src, dst); err != nil {
		return fmt.Errorf("bundle %s: %w", name, err)
	}
	if err := grantOwnerWrite(dst); err != nil {
		return err
	}

	if err := r.bundleDependencies(ctx, dst, record); err != nil {
		return err
	}

	patched, err := r.ensureRPath(ctx, dst, OriginRPath)
	if err != nil {
		return err
	}
	record(name, patched)
	return nil
}

// binaryRPath is $ORIGIN followed by the path from the binary to LibDir.
func (r *Relocator) binaryRPath(binary string) (string, error) {
	rel, err := filepath.Rel(filepath.Dir(binary), r.opts.LibDir)
	if err != nil {
		return "", fmt.Errorf("relative library path for %s: %w", binary, err)
	}
	return OriginRPath + "/" + filepath.ToSlash(rel), nil
}

// ensureRPath sets rpath on path unless it already has it.
func (r *Relocator) ensureRPath(ctx context.Context, path, rpath string) (bool, error) {
	current, err := r.opts.Editor.RPath(ctx, path)
	if err != nil {
		return false, fmt.Errorf("read rpath of %s: %w", path, err)
	}
	if current == rpath {
		return false, nil
	}
	if err := r.opts.Editor.SetRPath(ctx, path, rpath); err != nil {
		return false, fmt.Errorf("set rpath of %s: %w", path, err)
	}
	return true, nil
}

// Some libraries ship read-only, which would block the RPATH edit and any
// later overwrite.
func grantOwnerWrite(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o200 != 0 {
		return nil
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o200); err != nil {
		return fmt.Errorf("grant owner write on %s: %w", path, err)
	}
	return nil
}
