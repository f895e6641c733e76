// Package python turns a Python installation of an extracted manylinux image
// into a self-contained tree that runs from any location.
package python

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maxdollinger/relocpy/pkg/elf"
	"github.com/maxdollinger/relocpy/pkg/fs"
	"github.com/maxdollinger/relocpy/pkg/manylinux"
	"github.com/maxdollinger/relocpy/pkg/relocate"
)

type Options struct {
	Arch    manylinux.Arch
	Deps    elf.DependencyReader
	Editor  elf.RPathEditor
	Exclude *relocate.ExcludeList
	Workers int
}

// Extractor copies one installation out of an image and relocates it.
type Extractor struct {
	opts   Options
	logger *slog.Logger
}

// Result describes an extracted runtime.
type Result struct {
	Path         string
	Installation *Installation
	Libraries    []string // bundled shared libraries
	TclTk        string   // bundled Tcl/Tk version, empty when the image has none
}

func NewExtractor(opts Options) *Extractor {
	return &Extractor{
		opts:   opts,
		logger: slog.Default(),
	}
}

// Extract builds the runtime of the abi installation of imageDir into dest.
//
// Process:
//  1. Locate the installation through opt/python/<abi>
//  2. Copy the interpreter and link pythonX and python to it
//  3. Rewrite pip into a self-locating trampoline
//  4. Copy the standard library and headers, pruning tests and bytecode
//  5. Bundle the interpreter and extension module libraries into lib/
//  6. Bundle the certifi CA bundle and the newest Tcl/Tk data
func (e *Extractor) Extract(ctx context.Context, imageDir, abi, dest string) (*Result, error) {
	inst, err := Locate(imageDir, abi)
	if err != nil {
		return nil, err
	}
	logger := e.logger.With("abi", abi, "python", inst.Name)
	logger.InfoContext(ctx, "extracting python runtime", "dest", dest)

	if err := e.copyInterpreter(inst, dest); err != nil {
		return nil, err
	}
	if err := writePipTrampoline(inst, dest); err != nil {
		return nil, err
	}
	if err := e.copyStdlib(inst, dest); err != nil {
		return nil, err
	}

	libs, err := e.relocate(ctx, inst, imageDir, dest)
	if err != nil {
		return nil, err
	}

	if err := bundleCertifi(imageDir, inst, dest); err != nil {
		return nil, err
	}

	tk, err := bundleTclTk(imageDir, dest)
	if err != nil {
		return nil, err
	}
	if tk == "" {
		logger.WarnContext(ctx, "no Tcl/Tk runtime in image, tkinter will not work")
	}

	return &Result{
		Path:         dest,
		Installation: inst,
		Libraries:    libs,
		TclTk:        tk,
	}, nil
}

func (e *Extractor) copyInterpreter(inst *Installation, dest string) error {
	binDir := filepath.Join(dest, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("create bin directory: %w", err)
	}

	binary := inst.Binary()
	if err := fs.CopyFile(filepath.Join(inst.Prefix, "bin", binary), filepath.Join(binDir, binary)); err != nil {
		return fmt.Errorf("copy interpreter: %w", err)
	}

	major := inst.Impl.Executable() + fmt.Sprint(inst.Version.Major)
	if err := replaceSymlink(binary, filepath.Join(binDir, major)); err != nil {
		return err
	}
	return replaceSymlink(major, filepath.Join(binDir, inst.Impl.Executable()))
}

func (e *Extractor) copyStdlib(inst *Installation, dest string) error {
	stdlib := inst.StdlibDir()
	if err := fs.CopyTree(filepath.Join(inst.Prefix, stdlib), filepath.Join(dest, stdlib), pruneStdlib); err != nil {
		return fmt.Errorf("copy standard library: %w", err)
	}

	includes, err := filepath.Glob(filepath.Join(inst.Prefix, "include", "*"))
	if err != nil || len(includes) == 0 {
		return &FatalAssumptionError{Path: filepath.Join(inst.Prefix, "include"), Assumption: "installation ships headers"}
	}
	sort.Strings(includes)
	include := filepath.Join("include", filepath.Base(includes[0]))
	if err := fs.CopyTree(filepath.Join(inst.Prefix, include), filepath.Join(dest, include), nil); err != nil {
		return fmt.Errorf("copy headers: %w", err)
	}
	return nil
}

// pruneStdlib drops the test suite, bytecode and the static build
// configuration, none of which is needed at runtime.
func pruneStdlib(rel string, d os.DirEntry) bool {
	name := d.Name()
	if d.IsDir() {
		if name == "__pycache__" {
			return true
		}
		top := !strings.Contains(rel, string(filepath.Separator))
		return top && (name == "test" || strings.HasPrefix(name, "config-"))
	}
	return strings.HasSuffix(name, ".pyc")
}

// relocate bundles the closure of the interpreter and of every extension
// module into dest/lib.
func (e *Extractor) relocate(ctx context.Context, inst *Installation, imageDir, dest string) ([]string, error) {
	binaries := []string{filepath.Join(dest, "bin", inst.Binary())}

	modules, err := filepath.Glob(filepath.Join(dest, inst.StdlibDir(), "lib-dynload", "*.so"))
	if err != nil {
		return nil, err
	}
	sort.Strings(modules)
	binaries = append(binaries, modules...)

	relocator := relocate.NewRelocator(relocate.Options{
		Deps:     e.opts.Deps,
		Editor:   e.opts.Editor,
		Resolver: relocate.NewImageSearchPath(imageDir, e.opts.Arch),
		Exclude:  e.opts.Exclude,
		LibDir:   filepath.Join(dest, "lib"),
		Workers:  e.opts.Workers,
	})
	result, err := relocator.Relocate(ctx, binaries...)
	if err != nil {
		return nil, fmt.Errorf("relocate %s: %w", inst.Name, err)
	}
	return result.Libraries, nil
}

func replaceSymlink(target, link string) error {
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("link %s: %w", link, err)
	}
	return nil
}
