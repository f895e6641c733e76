package main

import (
	"log/slog"
	"os"

	"github.com/maxdollinger/relocpy/internal"
	"github.com/maxdollinger/relocpy/internal/cli"
)

// The entry point for relocpy.
//
// Logs to stderr until cli.Execute reconfigures the logger from the parsed
// flags, and exits non-zero on any error.
func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)).With("app", internal.Name))

	slog.Debug("build", "version", internal.VersionString())

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
