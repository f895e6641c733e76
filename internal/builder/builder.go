// Package builder chains image acquisition, runtime extraction and appifying
// into relocatable Python builds.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maxdollinger/relocpy/internal/python"
	"github.com/maxdollinger/relocpy/pkg/elf"
	"github.com/maxdollinger/relocpy/pkg/fs"
	"github.com/maxdollinger/relocpy/pkg/manylinux"
	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/maxdollinger/relocpy/pkg/relocate"
	"github.com/maxdollinger/relocpy/pkg/utils"
)

// Patcher overlays tag specific fixes onto an extracted image.
type Patcher interface {
	Apply(ctx context.Context, image manylinux.ImageTag, dest string) ([]string, error)
}

// Config wires the collaborators of a Builder. Patcher and Appifier may be
// nil.
type Config struct {
	Source   oci.ImageSource
	Patcher  Patcher
	Appifier Appifier

	Deps    elf.DependencyReader
	Editor  elf.RPathEditor
	Exclude *relocate.ExcludeList
	Workers int
}

type Builder struct {
	cfg       Config
	extractor *fs.ImageExtractor
	logger    *slog.Logger
}

func NewBuilder(cfg Config) *Builder {
	if cfg.Appifier == nil {
		cfg.Appifier = NewNoOpAppifier()
	}
	return &Builder{
		cfg:       cfg,
		extractor: fs.NewImageExtractor(fs.NewLayerUnpacker()),
		logger:    slog.Default(),
	}
}

// Image is an extracted, patched manylinux image.
type Image struct {
	Tag      manylinux.ImageTag
	Dir      string
	Manifest *oci.Manifest
	Extract  *fs.ExtractResult
	Patches  []string
	Pull     *oci.PullResult
}

// AcquireImage pulls image at the registry tag and brings its extracted tree
// up to date.
//
// Process:
//  1. Pull the manifest and any missing layers into the cache
//  2. Extract the layers incrementally into extracted/<tag>
//  3. Apply the patches registered for the platform tag
func (b *Builder) AcquireImage(ctx context.Context, image manylinux.ImageTag, tag string) (*Image, error) {
	pull, err := b.cfg.Source.Pull(ctx, image.String(), tag)
	if err != nil {
		return nil, fmt.Errorf("pull %s:%s: %w", image, tag, err)
	}

	dir := pull.Cache.ExtractedDir(tag)
	extract, err := b.extractor.Extract(ctx, pull.Cache.Layers(pull.Manifest), dir)
	if err != nil {
		return nil, fmt.Errorf("extract %s:%s: %w", image, tag, err)
	}

	var patches []string
	if b.cfg.Patcher != nil {
		patches, err = b.cfg.Patcher.Apply(ctx, image, dir)
		if err != nil {
			return nil, fmt.Errorf("patch %s: %w", image, err)
		}
	}

	b.logger.InfoContext(ctx, "image ready",
		"image", image.String(),
		"tag", tag,
		"digest", pull.Manifest.Digest.Encoded(),
		"applied", extract.Applied,
		"wiped", extract.Wiped)

	return &Image{
		Tag:      image,
		Dir:      dir,
		Manifest: pull.Manifest,
		Extract:  extract,
		Patches:  patches,
		Pull:     pull,
	}, nil
}

// ExtractPythonRuntime builds the relocatable runtime of the abi
// installation found in imageDir into dest.
func (b *Builder) ExtractPythonRuntime(ctx context.Context, imageDir string, arch manylinux.Arch, abi, dest string) (*python.Result, error) {
	extractor := python.NewExtractor(python.Options{
		Arch:    arch,
		Deps:    b.cfg.Deps,
		Editor:  b.cfg.Editor,
		Exclude: b.cfg.Exclude,
		Workers: b.cfg.Workers,
	})
	return extractor.Extract(ctx, imageDir, abi, dest)
}

type BuildOptions struct {
	Image     manylinux.ImageTag
	Tag       string // registry tag, usually latest
	ABI       string // e.g. cp311-cp311
	OutputDir string // receives the runtime directory
}

// BuildResult contains information about the built runtime
type BuildResult struct {
	Path      string
	Image     *Image
	Runtime   *python.Result
	BuildTime time.Duration
}

// Build acquires the image, extracts one runtime into a staging directory,
// publishes it under OutputDir and hands it to the Appifier.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	startTime := time.Now()

	image, err := b.AcquireImage(ctx, opts.Image, opts.Tag)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	staging, err := utils.StagingName(opts.ABI)
	if err != nil {
		return nil, err
	}
	stagingDir := filepath.Join(opts.OutputDir, staging)
	defer func() { _ = fs.RemoveTree(stagingDir) }()

	runtime, err := b.ExtractPythonRuntime(ctx, image.Dir, opts.Image.Arch, opts.ABI, stagingDir)
	if err != nil {
		return nil, err
	}

	inst := runtime.Installation
	name := fmt.Sprintf("%s%s-%s-%s", inst.Impl.Executable(), inst.Version.Long(), opts.ABI, opts.Image)
	outputPath := filepath.Join(opts.OutputDir, name)

	// atomic publish, replacing an earlier build of the same runtime
	if err := fs.RemoveTree(outputPath); err != nil {
		return nil, fmt.Errorf("remove previous build: %w", err)
	}
	if err := os.Rename(stagingDir, outputPath); err != nil {
		return nil, fmt.Errorf("publish build: %w", err)
	}
	runtime.Path = outputPath

	err = b.cfg.Appifier.Appify(ctx, AppifyRequest{
		Dir:     outputPath,
		Impl:    inst.Impl,
		Version: inst.Version,
		ABI:     opts.ABI,
		Image:   opts.Image,
	})
	if err != nil {
		return nil, err
	}

	b.logger.InfoContext(ctx, "build completed successfully",
		"path", outputPath,
		"libraries", len(runtime.Libraries),
		"duration", time.Since(startTime))

	return &BuildResult{
		Path:      outputPath,
		Image:     image,
		Runtime:   runtime,
		BuildTime: time.Since(startTime),
	}, nil
}

// ErrNoInstallations is returned when an image ships no CPython build.
var ErrNoInstallations = errors.New("no python installations in image")

// Installations lists the CPython builds of an acquired image.
func (b *Builder) Installations(image *Image) ([]*python.Installation, error) {
	installs, err := python.ListInstallations(image.Dir)
	if err != nil {
		return nil, err
	}
	if len(installs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInstallations, image.Tag)
	}
	return installs, nil
}
