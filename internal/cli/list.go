package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// Represents the 'relocpy list' command.
type ListCmd struct {
	Image string `arg:"" help:"Image name, with an optional :tag."`
	Tag   string `help:"Registry tag used when the image carries none." default:"latest"`
}

func (c *ListCmd) Run(ctx context.Context) error {
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
	installs, err := a.builder.Installations(image)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ABI\tVERSION\tBINARY")
	for _, inst := range installs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", inst.ABI, inst.Version.Long(), inst.Binary())
	}
	return w.Flush()
}
