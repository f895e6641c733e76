package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/maxdollinger/relocpy/pkg/fs"
	"github.com/maxdollinger/relocpy/pkg/oci"
)

// Represents the 'relocpy cache' command group.
type CacheCmd struct {
	Get   CacheGetCmd   `cmd:"" help:"Download images into the cache."`
	List  CacheListCmd  `cmd:"" help:"List cached images with their tags and size."`
	Clean CacheCleanCmd `cmd:"" help:"Remove extracted trees, or whole images with --all."`
}

// Represents the 'relocpy cache get' command.
type CacheGetCmd struct {
	Images  []string `arg:"" help:"Image names, each with an optional :tag."`
	Tag     string   `help:"Registry tag used when an image carries none." default:"latest"`
	Extract bool     `short:"x" help:"Also extract and patch the images."`
}

func (c *CacheGetCmd) Run(ctx context.Context) error {
	refs, err := parseImageRefs(c.Images)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	if c.Extract {
		if err := a.withBuilder(ctx, false); err != nil {
			return err
		}
	}

	for _, ref := range refs {
		tag := ref.tagOr(c.Tag)
		if c.Extract {
			if _, err := a.builder.AcquireImage(ctx, ref.Image, tag); err != nil {
				return err
			}
			continue
		}
		if _, err := a.downloader.Pull(ctx, ref.Image.String(), tag); err != nil {
			return err
		}
	}
	return nil
}

// Represents the 'relocpy cache list' command.
type CacheListCmd struct{}

func (c *CacheListCmd) Run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	images, err := oci.ListImages(cfg.CacheDir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		slog.InfoContext(ctx, "cache is empty", "dir", oci.ImagesDir(cfg.CacheDir))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tTAGS\tSIZE")
	for _, image := range images {
		cache := oci.NewCache(cfg.CacheDir, image)
		tags, err := cache.Tags()
		if err != nil {
			return err
		}
		size, err := fs.DiskUsage(cache.Root())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", image, strings.Join(tags, ","), humanize.Bytes(uint64(size)))
	}
	return w.Flush()
}

// Represents the 'relocpy cache clean' command.
type CacheCleanCmd struct {
	Images []string `arg:"" optional:"" help:"Images to clean, each with an optional :tag. Defaults to every cached image."`
	All    bool     `short:"a" help:"Remove downloaded layers and tag records too."`
}

// cleanTarget is one cached image, and optionally one of its tags.
type cleanTarget struct {
	image string
	tag   string
}

func (c *CacheCleanCmd) Run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	targets, err := c.targets(cfg.CacheDir)
	if err != nil {
		return err
	}

	for _, t := range targets {
		if err := c.clean(ctx, oci.NewCache(cfg.CacheDir, t.image), t.tag); err != nil {
			return fmt.Errorf("clean %s: %w", t.image, err)
		}
	}
	return nil
}

func (c *CacheCleanCmd) targets(cacheRoot string) ([]cleanTarget, error) {
	if len(c.Images) == 0 {
		images, err := oci.ListImages(cacheRoot)
		if err != nil {
			return nil, err
		}
		targets := make([]cleanTarget, 0, len(images))
		for _, image := range images {
			targets = append(targets, cleanTarget{image: image})
		}
		return targets, nil
	}

	refs, err := parseImageRefs(c.Images)
	if err != nil {
		return nil, err
	}
	targets := make([]cleanTarget, 0, len(refs))
	for _, ref := range refs {
		image := ref.Image.String()
		if _, err := os.Stat(oci.NewCache(cacheRoot, image).Root()); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", oci.ErrImageNotFound, image)
		}
		targets = append(targets, cleanTarget{image: image, tag: ref.Tag})
	}
	return targets, nil
}

// clean applies the removal level chosen by the flags to one cache.
//
// Process:
//  1. Without --all, delete the extracted tree of tag, or all of them
//  2. With --all and no tag, delete the whole image directory
//  3. With --all and a tag, delete its tree, record and layers, then collect
//     layers no other tag references
func (c *CacheCleanCmd) clean(ctx context.Context, cache *oci.Cache, tag string) error {
	logger := slog.Default().With("image", cache.Root(), "tag", tag)

	if !c.All {
		logger.InfoContext(ctx, "removing extracted files")
		return cache.RemoveExtracted(tag)
	}
	if tag == "" {
		logger.InfoContext(ctx, "removing image")
		return fs.RemoveTree(cache.Root())
	}

	if err := cache.RemoveExtracted(tag); err != nil {
		return err
	}
	if err := cache.RemoveTag(tag, true); err != nil {
		return err
	}
	removed, err := cache.GC()
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "removed tag", "orphans", len(removed))
	return nil
}

func parseImageRefs(args []string) ([]imageRef, error) {
	refs := make([]imageRef, 0, len(args))
	for _, arg := range args {
		ref, err := parseImageRef(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
