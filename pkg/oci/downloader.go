package oci

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/maxdollinger/relocpy/pkg/lock"
	"github.com/maxdollinger/relocpy/pkg/utils"
	"github.com/opencontainers/go-digest"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// DownloaderOptions configure a Downloader.
type DownloaderOptions struct {
	CacheRoot string    // root of the cache, images live under share/images
	Workers   int       // parallel blob downloads, <= 1 means sequential
	Progress  io.Writer // download progress bars, nil disables them
}

// Downloader pulls images into the layer cache. It implements ImageSource.
type Downloader struct {
	client *Client
	opts   DownloaderOptions
	locker lock.Locker
	logger *slog.Logger
}

func NewDownloader(client *Client, opts DownloaderOptions) *Downloader {
	var locker lock.Locker = lock.NewNoOpLocker()
	if opts.Workers > 1 {
		locker = lock.NewDigestLocker()
	}
	return &Downloader{
		client: client,
		opts:   opts,
		locker: locker,
		logger: slog.Default(),
	}
}

func (d *Downloader) Info() string {
	return d.client.opts.BaseURL + "/" + d.client.opts.Namespace
}

// Cache returns the layer cache of an image.
func (d *Downloader) Cache(image string) *Cache {
	return NewCache(d.opts.CacheRoot, image)
}

// Pull resolves tag of image and makes sure every layer is cached.
//
// Process:
//  1. Request an anonymous pull token for the image repository
//  2. Fetch the schema 2 manifest and the image digest
//  3. Verify already cached blobs, download and verify the missing ones
//  4. Record the manifest as tags/<tag>.json
//  5. Delete blobs no recorded tag references
//
// Any registry error aborts the pull. Nothing is retried, but a repeated
// Pull only transfers what is still missing.
func (d *Downloader) Pull(ctx context.Context, image, tag string) (*PullResult, error) {
	logger := d.logger.With("image", image, "tag", tag)
	logger.InfoContext(ctx, "pulling image", "registry", d.Info())

	session, err := d.client.Authenticate(ctx, image)
	if err != nil {
		return nil, err
	}

	manifest, err := session.Manifest(ctx, tag)
	if err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "manifest fetched", "digest", manifest.Digest.Encoded(), "layers", len(manifest.Layers))

	cache := d.Cache(image)
	if err := os.MkdirAll(cache.LayersDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create layers directory: %w", err)
	}

	result := &PullResult{Manifest: manifest, Cache: cache}

	var missing []digest.Digest
	for _, dgst := range manifest.Layers {
		ok, err := cache.HasLayer(dgst)
		if err != nil {
			return nil, err
		}
		if ok {
			logger.DebugContext(ctx, "layer found", "layer", dgst.Encoded())
			result.Reused++
			continue
		}
		missing = append(missing, dgst)
	}

	downloaded, reused, err := d.fetchMissing(ctx, session, cache, missing)
	if err != nil {
		return nil, err
	}
	result.Downloaded = downloaded
	result.Reused += reused

	if err := cache.WriteTag(manifest); err != nil {
		return nil, err
	}

	removed, err := cache.GC()
	if err != nil {
		return nil, fmt.Errorf("garbage collect layers: %w", err)
	}
	for _, dgst := range removed {
		logger.DebugContext(ctx, "removed unused layer", "layer", dgst.Encoded())
	}
	result.Removed = len(removed)

	logger.InfoContext(ctx, "image pulled",
		"downloaded", result.Downloaded,
		"reused", result.Reused,
		"removed", result.Removed)

	return result, nil
}

func (d *Downloader) fetchMissing(ctx context.Context, session *Session, cache *Cache, missing []digest.Digest) (int, int, error) {
	var downloaded, reused atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.opts.Workers, 1))

	for i, dgst := range missing {
		g.Go(func() error {
			l, err := d.locker.AcquireLock(gctx, dgst)
			if err != nil {
				return err
			}
			defer l.Release()

			// A manifest may list the same blob twice.
			ok, err := cache.HasLayer(dgst)
			if err != nil {
				return err
			}
			if ok {
				reused.Add(1)
				return nil
			}

			d.logger.DebugContext(gctx, "downloading layer",
				"layer", dgst.Encoded(),
				"index", i+1,
				"missing", len(missing))
			if err := d.fetchBlob(gctx, session, cache, dgst); err != nil {
				return err
			}
			downloaded.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return int(downloaded.Load()), int(reused.Load()), nil
}

// fetchBlob streams a blob into a staging file while hashing it, and only
// renames it into the cache when the hash matches.
func (d *Downloader) fetchBlob(ctx context.Context, session *Session, cache *Cache, dgst digest.Digest) error {
	body, size, err := session.Blob(ctx, dgst)
	if err != nil {
		return err
	}
	defer body.Close()

	stagingName, err := utils.StagingName("blob")
	if err != nil {
		return err
	}
	stagingPath := filepath.Join(cache.LayersDir(), stagingName)

	f, err := os.Create(stagingPath)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	defer func() { _ = os.Remove(stagingPath) }()

	digester := digest.SHA256.Digester()
	writers := []io.Writer{f, digester.Hash()}
	if d.opts.Progress != nil {
		bar := progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(d.opts.Progress),
			progressbar.OptionSetDescription(dgst.Encoded()[:12]),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		defer func() { _ = bar.Finish() }()
		writers = append(writers, bar)
	}

	if _, err := io.Copy(io.MultiWriter(writers...), body); err != nil {
		_ = f.Close()
		return fmt.Errorf("download blob %s: %w", dgst.Encoded(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}

	if actual := digester.Digest(); actual != dgst {
		return &IntegrityError{Expected: dgst, Actual: actual}
	}

	if err := os.Rename(stagingPath, cache.LayerPath(dgst)); err != nil {
		return fmt.Errorf("publish blob %s: %w", dgst.Encoded(), err)
	}
	return nil
}
