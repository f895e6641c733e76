package oci

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxdollinger/relocpy/pkg/oci/ocitest"
	"github.com/opencontainers/go-digest"
)

const testImage = "manylinux2014_x86_64"

func pushLayers(reg *ocitest.Registry, tag string, n int) [][]byte {
	layers := make([][]byte, n)
	for i := range layers {
		layers[i] = ocitest.TarGz(ocitest.File("layer.txt", tag+string(rune('a'+i))))
	}
	reg.Push("pypa/"+testImage, tag, layers...)
	return layers
}

func digestOf(layer []byte) digest.Digest {
	return digest.FromBytes(layer)
}

func TestDownloaderPullEmptyCache(t *testing.T) {
	reg := ocitest.NewRegistry()
	defer reg.Close()
	pushLayers(reg, "latest", 3)

	cacheRoot := t.TempDir()
	d := NewDownloader(newTestClient(reg), DownloaderOptions{CacheRoot: cacheRoot})

	result, err := d.Pull(context.Background(), testImage, "latest")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if got := reg.TokenRequests.Load(); got != 1 {
		t.Errorf("token requests = %d, want 1", got)
	}
	if got := reg.ManifestRequests.Load(); got != 1 {
		t.Errorf("manifest requests = %d, want 1", got)
	}
	if got := reg.BlobRequests.Load(); got != 3 {
		t.Errorf("blob requests = %d, want 3", got)
	}
	if result.Downloaded != 3 || result.Reused != 0 {
		t.Errorf("downloaded=%d reused=%d, want 3/0", result.Downloaded, result.Reused)
	}

	cache := NewCache(cacheRoot, testImage)
	recorded, err := cache.ReadTag("latest")
	if err != nil {
		t.Fatalf("ReadTag failed: %v", err)
	}
	if len(recorded.Layers) != 3 {
		t.Fatalf("recorded %d layers, want 3", len(recorded.Layers))
	}
	for i, dgst := range recorded.Layers {
		if dgst != result.Manifest.Layers[i] {
			t.Errorf("layer %d = %s, want %s", i, dgst, result.Manifest.Layers[i])
		}
		ok, err := cache.HasLayer(dgst)
		if err != nil || !ok {
			t.Errorf("layer %d not verified in cache (ok=%v, err=%v)", i, ok, err)
		}
	}
	if recorded.Digest != reg.ManifestDigest("pypa/"+testImage, "latest") {
		t.Errorf("recorded digest = %s", recorded.Digest)
	}

	raw, err := os.ReadFile(cache.TagPath("latest"))
	if err != nil {
		t.Fatalf("read tag file: %v", err)
	}
	if strings.Contains(string(raw), "sha256:") {
		t.Errorf("tag file should store bare hex digests: %s", raw)
	}
}

func TestDownloaderPullIsIdempotent(t *testing.T) {
	reg := ocitest.NewRegistry()
	defer reg.Close()
	pushLayers(reg, "latest", 2)

	d := NewDownloader(newTestClient(reg), DownloaderOptions{CacheRoot: t.TempDir()})
	ctx := context.Background()

	if _, err := d.Pull(ctx, testImage, "latest"); err != nil {
		t.Fatalf("first Pull failed: %v", err)
	}
	result, err := d.Pull(ctx, testImage, "latest")
	if err != nil {
		t.Fatalf("second Pull failed: %v", err)
	}

	if got := reg.BlobRequests.Load(); got != 2 {
		t.Errorf("blob requests = %d after two pulls, want 2", got)
	}
	if result.Downloaded != 0 || result.Reused != 2 {
		t.Errorf("downloaded=%d reused=%d, want 0/2", result.Downloaded, result.Reused)
	}
}

func TestDownloaderRefetchesCorruptCacheEntry(t *testing.T) {
	reg := ocitest.NewRegistry()
	defer reg.Close()
	pushLayers(reg, "latest", 1)

	cacheRoot := t.TempDir()
	d := NewDownloader(newTestClient(reg), DownloaderOptions{CacheRoot: cacheRoot})
	ctx := context.Background()

	result, err := d.Pull(ctx, testImage, "latest")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	path := result.Cache.LayerPath(result.Manifest.Layers[0])
	if err := os.WriteFile(path, []byte("truncated"), 0o644); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}

	result, err = d.Pull(ctx, testImage, "latest")
	if err != nil {
		t.Fatalf("second Pull failed: %v", err)
	}
	if result.Downloaded != 1 {
		t.Errorf("downloaded = %d, want 1", result.Downloaded)
	}
	ok, err := result.Cache.HasLayer(result.Manifest.Layers[0])
	if err != nil || !ok {
		t.Errorf("layer not repaired (ok=%v, err=%v)", ok, err)
	}
}

func TestDownloaderRejectsBadBlob(t *testing.T) {
	reg := ocitest.NewRegistry()
	defer reg.Close()
	layers := pushLayers(reg, "latest", 2)

	d := NewDownloader(newTestClient(reg), DownloaderOptions{CacheRoot: t.TempDir()})
	cache := d.Cache(testImage)

	_, err := d.Pull(context.Background(), testImage, "latest")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	bad := digestOf(layers[1])
	if err := os.Remove(cache.LayerPath(bad)); err != nil {
		t.Fatalf("remove layer: %v", err)
	}
	reg.Corrupt(bad)

	_, err = d.Pull(context.Background(), testImage, "latest")
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("error = %v, want *IntegrityError", err)
	}
	if integrityErr.Expected != bad {
		t.Errorf("Expected = %s, want %s", integrityErr.Expected, bad)
	}
	if !errors.Is(err, ErrDigestMismatch) {
		t.Error("IntegrityError should match ErrDigestMismatch")
	}

	if _, err := os.Stat(cache.LayerPath(bad)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("corrupt blob was published: %v", err)
	}
	entries, err := os.ReadDir(cache.LayersDir())
	if err != nil {
		t.Fatalf("read layers dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".partial") {
			t.Errorf("staging file %s left behind", e.Name())
		}
	}
}

func TestDownloaderGarbageCollectsAcrossTags(t *testing.T) {
	reg := ocitest.NewRegistry()
	defer reg.Close()

	shared := ocitest.TarGz(ocitest.File("base", "shared"))
	onlyOld := ocitest.TarGz(ocitest.File("old", "v1"))
	onlyNew := ocitest.TarGz(ocitest.File("new", "v2"))

	reg.Push("pypa/"+testImage, "2024", shared, onlyOld)
	reg.Push("pypa/"+testImage, "latest", shared, onlyOld)

	cacheRoot := t.TempDir()
	d := NewDownloader(newTestClient(reg), DownloaderOptions{CacheRoot: cacheRoot})
	ctx := context.Background()

	if _, err := d.Pull(ctx, testImage, "2024"); err != nil {
		t.Fatalf("Pull 2024 failed: %v", err)
	}
	if _, err := d.Pull(ctx, testImage, "latest"); err != nil {
		t.Fatalf("Pull latest failed: %v", err)
	}

	// latest moves on, 2024 still pins the old layer
	reg.Push("pypa/"+testImage, "latest", shared, onlyNew)
	result, err := d.Pull(ctx, testImage, "latest")
	if err != nil {
		t.Fatalf("Pull latest v2 failed: %v", err)
	}
	if result.Removed != 0 {
		t.Errorf("removed %d layers, the 2024 tag still references them", result.Removed)
	}

	// dropping the 2024 record orphans the old layer
	cache := NewCache(cacheRoot, testImage)
	if err := os.Remove(cache.TagPath("2024")); err != nil {
		t.Fatalf("remove tag: %v", err)
	}
	result, err = d.Pull(ctx, testImage, "latest")
	if err != nil {
		t.Fatalf("Pull latest again failed: %v", err)
	}
	if result.Removed != 1 {
		t.Errorf("removed %d layers, want 1", result.Removed)
	}
	if _, err := os.Stat(cache.LayerPath(digestOf(onlyOld))); !errors.Is(err, os.ErrNotExist) {
		t.Error("orphan layer still cached")
	}
	for _, l := range [][]byte{shared, onlyNew} {
		if _, err := os.Stat(cache.LayerPath(digestOf(l))); err != nil {
			t.Errorf("referenced layer missing: %v", err)
		}
	}
}

func TestDownloaderParallelDuplicateLayer(t *testing.T) {
	reg := ocitest.NewRegistry()
	defer reg.Close()

	a := ocitest.TarGz(ocitest.File("a", "a"))
	b := ocitest.TarGz(ocitest.File("b", "b"))
	reg.Push("pypa/"+testImage, "latest", a, b, a)

	d := NewDownloader(newTestClient(reg), DownloaderOptions{CacheRoot: t.TempDir(), Workers: 4})

	result, err := d.Pull(context.Background(), testImage, "latest")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if result.Downloaded != 2 || result.Reused != 1 {
		t.Errorf("downloaded=%d reused=%d, want 2/1", result.Downloaded, result.Reused)
	}
	if got := reg.BlobRequests.Load(); got != 2 {
		t.Errorf("blob requests = %d, want 2", got)
	}
	if filepath.Base(result.Cache.Root()) != testImage {
		t.Errorf("cache root = %s", result.Cache.Root())
	}
}
