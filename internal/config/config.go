// Package config loads relocpy settings: built-in defaults, overlaid by an
// optional YAML file, overlaid by command line flags.
//
// The file is looked up at $XDG_CONFIG_HOME/relocpy/config.yaml unless a path
// is given explicitly. A missing default file is not an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/maxdollinger/relocpy/pkg/oci"
	"github.com/maxdollinger/relocpy/pkg/patch"
	"github.com/maxdollinger/relocpy/pkg/relocate"
	"gopkg.in/yaml.v3"
)

const (
	appName = "relocpy"

	// cacheName keeps the cache layout shared with python-appimage.
	cacheName = "python-appimage"

	BackendReadelf = "readelf"
	BackendNative  = "native"
)

var (
	ErrInvalidBackend = errors.New("invalid elf backend")
	ErrInvalidWorkers = errors.New("workers must be at least 1")
)

type Registry struct {
	URL       string `yaml:"url"`
	Service   string `yaml:"service"`
	Namespace string `yaml:"namespace"`
}

type Tools struct {
	Backend  string        `yaml:"backend"` // readelf or native
	Readelf  string        `yaml:"readelf"`
	Patchelf string        `yaml:"patchelf"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Config struct {
	CacheDir       string        `yaml:"cache_dir"`
	Registry       Registry      `yaml:"registry"`
	ExcludeListURL string        `yaml:"excludelist_url"`
	PatchURL       string        `yaml:"patch_url"`
	Tools          Tools         `yaml:"tools"`
	Workers        int           `yaml:"workers"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	AppifyCommand  []string      `yaml:"appify_command"`
}

func Default() *Config {
	return &Config{
		CacheDir: DefaultCacheDir(),
		Registry: Registry{
			URL:       oci.DefaultRegistryURL,
			Service:   oci.DefaultService,
			Namespace: oci.DefaultNamespace,
		},
		ExcludeListURL: relocate.DefaultExcludeListURL,
		PatchURL:       patch.DefaultBaseURL,
		Tools: Tools{
			Backend: BackendReadelf,
			Timeout: 30 * time.Second,
		},
		Workers:     1,
		HTTPTimeout: oci.DefaultRequestTimeout,
	}
}

// DefaultCacheDir is $XDG_CACHE_HOME/python-appimage.
func DefaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, cacheName)
}

// DefaultPath is $XDG_CONFIG_HOME/relocpy/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Load returns the defaults overlaid by the file at path. An empty path
// reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Tools.Backend {
	case BackendReadelf, BackendNative:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Tools.Backend)
	}
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	return nil
}

// SharePath joins elem below <cache>/share.
func (c *Config) SharePath(elem ...string) string {
	return filepath.Join(append([]string{c.CacheDir, "share"}, elem...)...)
}
