package builder_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/maxdollinger/relocpy/internal/builder"
	"github.com/maxdollinger/relocpy/pkg/elf"
	"github.com/maxdollinger/relocpy/pkg/manylinux"
	"github.com/maxdollinger/relocpy/pkg/network"
	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/maxdollinger/relocpy/pkg/patch"
	"github.com/maxdollinger/relocpy/pkg/relocate"
)

// ExampleNewBuilder demonstrates how to wire a builder against quay.io
func ExampleNewBuilder() {
	cacheRoot := filepath.Join(os.TempDir(), "relocpy")
	httpClient := network.NewHTTPClient(network.Options{})

	readelf, err := elf.NewReadelf("", 0)
	if err != nil {
		log.Fatal(err)
	}
	patchelf, err := elf.NewPatchelf("", 0)
	if err != nil {
		log.Fatal(err)
	}
	exclude, err := relocate.LoadExcludeList(context.Background(), httpClient,
		relocate.DefaultExcludeListURL, filepath.Join(cacheRoot, "share", "excludelist"))
	if err != nil {
		log.Fatal(err)
	}

	bldr := builder.NewBuilder(builder.Config{
		Source: oci.NewDownloader(oci.NewClient(httpClient, oci.RegistryOptions{}), oci.DownloaderOptions{
			CacheRoot: cacheRoot,
			Workers:   4,
		}),
		Patcher: patch.NewPatcher(httpClient, patch.Options{CacheDir: filepath.Join(cacheRoot, "share", "patches")}),
		Deps:    readelf,
		Editor:  patchelf,
		Exclude: exclude,
	})

	result, err := bldr.Build(context.Background(), builder.BuildOptions{
		Image:     manylinux.ImageTag{Tag: manylinux.Manylinux2014, Arch: manylinux.ArchX86_64},
		Tag:       "latest",
		ABI:       "cp312-cp312",
		OutputDir: "/tmp/pythons",
	})
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}

	fmt.Printf("Runtime created: %s\n", result.Path)
	fmt.Printf("Bundled libraries: %d\n", len(result.Runtime.Libraries))
	fmt.Printf("Build time: %v\n", result.BuildTime)
}
