package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/maxdollinger/relocpy/internal"
	"github.com/maxdollinger/relocpy/internal/config"
)

// Represents the root command.
var RootCmd struct {
	Quiet    bool   `short:"q" help:"Only print warnings and errors."`
	Verbose  bool   `short:"v" help:"Include source locations in log output."`
	Debug    bool   `short:"d" help:"Enable debug output."`
	Config   string `short:"c" help:"Configuration file." placeholder:"PATH" type:"path"`
	CacheDir string `help:"Override the cache directory." placeholder:"DIR" type:"path"`
	Workers  int    `short:"j" help:"Parallel downloads and library copies (0 keeps the configured value)." default:"0"`

	Pull    PullCmd    `cmd:"" help:"Download an image into the cache."`
	Extract ExtractCmd `cmd:"" help:"Download and extract an image."`
	List    ListCmd    `cmd:"" help:"List the Python installations of an image."`
	Build   BuildCmd   `cmd:"" help:"Build relocatable Python runtimes."`
	Cache   CacheCmd   `cmd:"" help:"Manage the image cache."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Fetch manylinux images and extract relocatable Python runtimes from them.\n\nNo container runtime is required."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Installs a text handler on stderr with the level chosen by the flags.
func configureLogger() {
	level := slog.LevelInfo
	if RootCmd.Debug {
		level = slog.LevelDebug
	} else if RootCmd.Quiet {
		level = slog.LevelWarn
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: RootCmd.Verbose,
	})
	slog.SetDefault(slog.New(handler))
}

// loadConfig resolves the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(RootCmd.Config)
	if err != nil {
		return nil, err
	}
	if RootCmd.CacheDir != "" {
		cfg.CacheDir = RootCmd.CacheDir
	}
	if RootCmd.Workers > 0 {
		cfg.Workers = RootCmd.Workers
	}
	return cfg, nil
}
