package cli

import (
	"context"
	"fmt"

	"github.com/maxdollinger/relocpy/internal"
)

// Represents the 'relocpy version' command.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.VersionString())
	return nil
}
