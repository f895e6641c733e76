package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maxdollinger/relocpy/internal/builder"
	"github.com/maxdollinger/relocpy/pkg/fs"
)

// Represents the 'relocpy build' command.
type BuildCmd struct {
	Image  string   `arg:"" help:"Image name, with an optional :tag."`
	ABIs   []string `arg:"" optional:"" name:"abi" help:"Installations to build, e.g. cp311-cp311. Defaults to all of them."`
	Tag    string   `help:"Registry tag used when the image carries none." default:"latest"`
	Output string   `short:"o" help:"Directory receiving the runtimes." default:"." type:"path"`
}

func (c *BuildCmd) Run(ctx context.Context) error {
	ref, err := parseImageRef(c.Image)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.withBuilder(ctx, true); err != nil {
		return err
	}

	abis := c.ABIs
	if len(abis) == 0 {
		image, err := a.builder.AcquireImage(ctx, ref.Image, ref.tagOr(c.Tag))
		if err != nil {
			return err
		}
		installs, err := a.builder.Installations(image)
		if err != nil {
			return err
		}
		for _, inst := range installs {
			abis = append(abis, inst.ABI)
		}
	}

	for _, abi := range abis {
		result, err := a.builder.Build(ctx, builder.BuildOptions{
			Image:     ref.Image,
			Tag:       ref.tagOr(c.Tag),
			ABI:       abi,
			OutputDir: c.Output,
		})
		if err != nil {
			return fmt.Errorf("build %s: %w", abi, err)
		}

		size, err := fs.DiskUsage(result.Path)
		if err != nil {
			slog.WarnContext(ctx, "failed to measure build", "path", result.Path, "error", err)
		}
		fmt.Printf("%s (%s, %d libraries, %s)\n",
			result.Path, humanize.Bytes(uint64(size)), len(result.Runtime.Libraries), result.BuildTime.Round(time.Millisecond))
	}
	return nil
}
