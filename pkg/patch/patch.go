// Package patch applies tag specific fixes to extracted manylinux images.
//
// manylinux1 images lack the Tcl/Tk runtime, so a prebuilt tk archive is
// overlaid onto them. Archives are downloaded once into the patch cache and
// unpacked like image layers.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/maxdollinger/relocpy/pkg/fs"
	"github.com/maxdollinger/relocpy/pkg/manylinux"
	"github.com/maxdollinger/relocpy/pkg/network"
	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/opencontainers/go-digest"
)

const DefaultBaseURL = "https://github.com/niess/python-appimage/releases/download"

// archives names the patch archives of a tag, relative to the base URL.
var archives = map[manylinux.LinuxTag]func(manylinux.Arch) []string{
	manylinux.Manylinux1: func(arch manylinux.Arch) []string {
		return []string{"manylinux1/tk-manylinux1_" + string(arch) + ".tar.gz"}
	},
}

type Options struct {
	CacheDir string // downloaded archives, usually <cache>/share/patches
	BaseURL  string
}

type Patcher struct {
	client   *http.Client
	opts     Options
	unpacker fs.Unpacker
	logger   *slog.Logger
}

func NewPatcher(client *http.Client, opts Options) *Patcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	return &Patcher{
		client:   client,
		opts:     opts,
		unpacker: fs.NewLayerUnpacker(),
		logger:   slog.Default(),
	}
}

// Apply overlays every patch registered for image onto dest and returns the
// applied archive names. Images without patches are left untouched.
func (p *Patcher) Apply(ctx context.Context, image manylinux.ImageTag, dest string) ([]string, error) {
	names, ok := archives[image.Tag]
	if !ok {
		return nil, nil
	}

	var applied []string
	for _, rel := range names(image.Arch) {
		name := filepath.Base(rel)
		path := filepath.Join(p.opts.CacheDir, name)

		downloaded, err := network.FetchOnce(ctx, p.client, p.opts.BaseURL+"/"+rel, path)
		if err != nil {
			return applied, fmt.Errorf("fetch patch %s: %w", name, err)
		}

		layer, err := archiveLayer(path)
		if err != nil {
			return applied, err
		}
		p.logger.InfoContext(ctx, "applying patch",
			"patch", name,
			"image", image.String(),
			"archive", layer.Path(),
			"digest", layer.Digest().Encoded(),
			"downloaded", downloaded)

		if err := p.unpacker.Unpack(ctx, layer, dest); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func archiveLayer(path string) (*oci.CachedLayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patch archive: %w", err)
	}
	defer f.Close()

	dgst, err := digest.FromReader(f)
	if err != nil {
		return nil, fmt.Errorf("digest patch archive: %w", err)
	}
	return oci.NewCachedLayer(dgst, path), nil
}
