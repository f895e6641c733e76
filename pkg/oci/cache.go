package oci

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maxdollinger/relocpy/pkg/utils"
	"github.com/opencontainers/go-digest"
)

const (
	layerExt = ".tar.gz"
	tagExt   = ".json"

	// MarkerFile records the layers applied to an extracted tree.
	MarkerFile = ".extracted"
)

// ImagesDir is the directory holding one sub-directory per cached image.
func ImagesDir(cacheRoot string) string {
	return filepath.Join(cacheRoot, "share", "images")
}

// Cache is the content-addressed store of one image:
//
//	layers/<hex>.tar.gz
//	tags/<tag>.json
//	extracted/<tag>/
//
// The cache assumes a single process owns it at a time.
type Cache struct {
	root string
}

func NewCache(cacheRoot, image string) *Cache {
	return &Cache{root: filepath.Join(ImagesDir(cacheRoot), image)}
}

func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) LayersDir() string {
	return filepath.Join(c.root, "layers")
}

func (c *Cache) TagsDir() string {
	return filepath.Join(c.root, "tags")
}

func (c *Cache) LayerPath(dgst digest.Digest) string {
	return filepath.Join(c.LayersDir(), dgst.Encoded()+layerExt)
}

func (c *Cache) TagPath(tag string) string {
	return filepath.Join(c.TagsDir(), tag+tagExt)
}

func (c *Cache) ExtractedDir(tag string) string {
	return filepath.Join(c.root, "extracted", tag)
}

func (c *Cache) Layer(dgst digest.Digest) *CachedLayer {
	return NewCachedLayer(dgst, c.LayerPath(dgst))
}

// Layers returns the cached layers of m in manifest order.
func (c *Cache) Layers(m *Manifest) []Layer {
	layers := make([]Layer, len(m.Layers))
	for i, dgst := range m.Layers {
		layers[i] = c.Layer(dgst)
	}
	return layers
}

// HasLayer reports whether a blob for dgst is cached and its content still
// hashes to dgst. A corrupt or truncated file counts as absent.
func (c *Cache) HasLayer(dgst digest.Digest) (bool, error) {
	f, err := os.Open(c.LayerPath(dgst))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open cached layer: %w", err)
	}
	defer f.Close()

	if !dgst.Algorithm().Available() {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, dgst.Algorithm())
	}
	verifier := dgst.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return false, fmt.Errorf("hash cached layer: %w", err)
	}
	return verifier.Verified(), nil
}

func (c *Cache) WriteTag(m *Manifest) error {
	if err := utils.WriteJSONAtomic(c.TagPath(m.Tag), m); err != nil {
		return fmt.Errorf("write tag %s: %w", m.Tag, err)
	}
	return nil
}

func (c *Cache) ReadTag(tag string) (*Manifest, error) {
	data, err := os.ReadFile(c.TagPath(tag))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTagNotFound, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("read tag %s: %w", tag, err)
	}

	m := &Manifest{Tag: tag}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode tag %s: %w", tag, err)
	}
	return m, nil
}

// Tags lists the registry tags recorded for this image, sorted.
func (c *Cache) Tags() ([]string, error) {
	entries, err := os.ReadDir(c.TagsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	var tags []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tagExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		tags = append(tags, strings.TrimSuffix(e.Name(), tagExt))
	}
	sort.Strings(tags)
	return tags, nil
}

// GC deletes every cached layer not referenced by any recorded tag, along
// with staging files left behind by interrupted downloads. It returns the
// digests of removed layers.
func (c *Cache) GC() ([]digest.Digest, error) {
	tags, err := c.Tags()
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{})
	for _, tag := range tags {
		m, err := c.ReadTag(tag)
		if err != nil {
			return nil, err
		}
		for _, l := range m.Layers {
			referenced[l.Encoded()+layerExt] = struct{}{}
		}
	}

	entries, err := os.ReadDir(c.LayersDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}

	var removed []digest.Digest
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, utils.PartialSuffix) {
			_ = os.Remove(filepath.Join(c.LayersDir(), name))
			continue
		}
		if !strings.HasSuffix(name, layerExt) {
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(c.LayersDir(), name)); err != nil {
			return removed, fmt.Errorf("remove layer %s: %w", name, err)
		}
		removed = append(removed, digest.NewDigestFromEncoded(digest.SHA256, strings.TrimSuffix(name, layerExt)))
	}
	return removed, nil
}

// RemoveTag drops a tag record. With layers set, the blobs it references are
// deleted too, even if another tag shares them.
func (c *Cache) RemoveTag(tag string, layers bool) error {
	m, err := c.ReadTag(tag)
	if err != nil {
		return err
	}
	if layers {
		for _, l := range m.Layers {
			if err := os.Remove(c.LayerPath(l)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove layer %s: %w", l.Encoded(), err)
			}
		}
	}
	if err := os.Remove(c.TagPath(tag)); err != nil {
		return fmt.Errorf("remove tag %s: %w", tag, err)
	}
	return nil
}

// RemoveExtracted deletes the extracted tree of one tag, or of all tags when
// tag is empty.
func (c *Cache) RemoveExtracted(tag string) error {
	dir := filepath.Join(c.root, "extracted")
	if tag != "" {
		dir = c.ExtractedDir(tag)
	}
	if err := makeRemovable(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// ListImages returns the names of all cached images, sorted.
func ListImages(cacheRoot string) ([]string, error) {
	entries, err := os.ReadDir(ImagesDir(cacheRoot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() {
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)
	return images, nil
}

// makeRemovable grants owner write on directories so RemoveAll can unlink
// entries of trees extracted from read-only layers.
func makeRemovable(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Mode().Perm()&0o700 != 0o700 {
				return os.Chmod(path, info.Mode().Perm()|0o700)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("prepare %s for removal: %w", root, err)
	}
	return nil
}
