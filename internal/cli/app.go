package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/maxdollinger/relocpy/internal/builder"
	"github.com/maxdollinger/relocpy/internal/config"
	"github.com/maxdollinger/relocpy/pkg/elf"
	"github.com/maxdollinger/relocpy/pkg/manylinux"
	"github.com/maxdollinger/relocpy/pkg/network"
	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/maxdollinger/relocpy/pkg/patch"
	"github.com/maxdollinger/relocpy/pkg/relocate"
)

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg        *config.Config
	downloader *oci.Downloader
	builder    *builder.Builder
}

// newApp wires the downloader alone. Commands that need a Builder call
// withBuilder afterwards.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var progress io.Writer = os.Stderr
	if RootCmd.Quiet {
		progress = nil
	}

	client := oci.NewClient(network.NewHTTPClient(network.Options{}), oci.RegistryOptions{
		BaseURL:        cfg.Registry.URL,
		Service:        cfg.Registry.Service,
		Namespace:      cfg.Registry.Namespace,
		RequestTimeout: cfg.HTTPTimeout,
	})
	downloader := oci.NewDownloader(client, oci.DownloaderOptions{
		CacheRoot: cfg.CacheDir,
		Workers:   cfg.Workers,
		Progress:  progress,
	})

	return &app{cfg: cfg, downloader: downloader}, nil
}

// withBuilder builds the Builder. With runtime set it also resolves the ELF
// tools and the exclusion list, so missing tools fail before anything is
// downloaded.
func (a *app) withBuilder(ctx context.Context, runtime bool) error {
	httpClient := network.NewHTTPClient(network.Options{})

	var (
		deps    elf.DependencyReader
		editor  elf.RPathEditor
		exclude *relocate.ExcludeList
	)
	if runtime {
		var err error
		if deps, err = newDependencyReader(a.cfg.Tools); err != nil {
			return err
		}
		if editor, err = elf.NewPatchelf(a.cfg.Tools.Patchelf, a.cfg.Tools.Timeout); err != nil {
			return err
		}
		exclude, err = relocate.LoadExcludeList(ctx, httpClient, a.cfg.ExcludeListURL, a.cfg.SharePath("excludelist"))
		if err != nil {
			return err
		}
		slog.DebugContext(ctx, "loaded exclude list", "libraries", exclude.Len(), "backend", a.cfg.Tools.Backend)
	}

	var appifier builder.Appifier = builder.NewNoOpAppifier()
	if len(a.cfg.AppifyCommand) > 0 {
		appifier = builder.NewCommandAppifier(a.cfg.AppifyCommand...)
	}

	a.builder = builder.NewBuilder(builder.Config{
		Source: a.downloader,
		Patcher: patch.NewPatcher(httpClient, patch.Options{
			CacheDir: a.cfg.SharePath("patches"),
			BaseURL:  a.cfg.PatchURL,
		}),
		Appifier: appifier,
		Deps:     deps,
		Editor:   editor,
		Exclude:  exclude,
		Workers:  a.cfg.Workers,
	})
	return nil
}

func newDependencyReader(tools config.Tools) (elf.DependencyReader, error) {
	if tools.Backend == config.BackendNative {
		return elf.NewNative(), nil
	}
	return elf.NewReadelf(tools.Readelf, tools.Timeout)
}

// imageRef is an image argument with an optional registry tag,
// e.g. 2014_x86_64 or manylinux_2_28_aarch64:2024-01-01-abcdef0. Without an
// architecture suffix the host architecture is assumed.
type imageRef struct {
	Image manylinux.ImageTag
	Tag   string // empty when the argument carries none
}

func (r imageRef) String() string {
	if r.Tag == "" {
		return r.Image.String()
	}
	return r.Image.String() + ":" + r.Tag
}

func parseImageRef(s string) (imageRef, error) {
	name, tag, _ := strings.Cut(s, ":")
	image, err := manylinux.ParseImageTag(name)
	if err != nil {
		host, hostErr := manylinux.HostArch()
		if hostErr != nil {
			return imageRef{}, err
		}
		if image, hostErr = manylinux.ParseImageTag(name + "_" + string(host)); hostErr != nil {
			return imageRef{}, err
		}
	}
	if strings.ContainsAny(tag, "/:") {
		return imageRef{}, fmt.Errorf("%w: invalid tag %q", manylinux.ErrInvalidImageTag, tag)
	}
	return imageRef{Image: image, Tag: tag}, nil
}

// tagOr returns the tag of the reference, or fallback when it has none.
func (r imageRef) tagOr(fallback string) string {
	if r.Tag != "" {
		return r.Tag
	}
	return fallback
}
