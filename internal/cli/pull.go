package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
)

const defaultTag = "latest"

// Represents the 'relocpy pull' command.
type PullCmd struct {
	Image string `arg:"" help:"Image name, e.g. 2014_x86_64 or manylinux_2_28_aarch64:latest."`
	Tag   string `help:"Registry tag used when the image carries none." default:"latest"`
}

func (c *PullCmd) Run(ctx context.Context) error {
	ref, err := parseImageRef(c.Image)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}

	result, err := a.downloader.Pull(ctx, ref.Image.String(), ref.tagOr(c.Tag))
	if err != nil {
		return err
	}

	var size int64
	for _, l := range result.Cache.Layers(result.Manifest) {
		size += l.Size()
	}
	fmt.Printf("%s:%s %s (%d layers, %s, %d downloaded)\n",
		ref.Image, ref.tagOr(c.Tag), result.Manifest.Digest,
		len(result.Manifest.Layers), humanize.Bytes(uint64(size)), result.Downloaded)
	return nil
}

// Represents the 'relocpy extract' command.
type ExtractCmd struct {
	Image string `arg:"" help:"Image name, with an optional :tag."`
	Tag   string `help:"Registry tag used when the image carries none." default:"latest"`
}

func (c *ExtractCmd) Run(ctx context.Context) error {
	ref, err := parseImageRef(c.Image)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.withBuilder(ctx, false); err != nil {
		return err
	}

	image, err := a.builder.AcquireImage(ctx, ref.Image, ref.tagOr(c.Tag))
	if err != nil {
		return err
	}
	fmt.Println(image.Dir)
	return nil
}
