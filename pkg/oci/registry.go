package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/maxdollinger/relocpy/pkg/network"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	DefaultRegistryURL = "https://quay.io"
	DefaultService     = "quay.io"
	DefaultNamespace   = "pypa"

	// DefaultRequestTimeout bounds token and manifest requests. Blob
	// downloads are only bounded by the transport timeouts.
	DefaultRequestTimeout = 60 * time.Second
)

// RegistryOptions describe the registry endpoint. Zero values fall back to
// the quay.io defaults.
type RegistryOptions struct {
	BaseURL        string // scheme and host, e.g. https://quay.io
	Service        string // token service parameter
	Namespace      string // repository namespace, e.g. pypa
	RequestTimeout time.Duration
}

// Client is a minimal Docker Registry V2 client: anonymous pull token,
// schema 2 manifest and blob download. It never retries.
type Client struct {
	http *http.Client
	opts RegistryOptions
}

func NewClient(httpClient *http.Client, opts RegistryOptions) *Client {
	if httpClient == nil {
		httpClient = network.NewHTTPClient(network.Options{})
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRegistryURL
	}
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{http: httpClient, opts: opts}
}

// Repository validates and returns the repository reference of an image,
// e.g. quay.io/pypa/manylinux2014_x86_64.
func (c *Client) Repository(image string) (name.Repository, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return name.Repository{}, fmt.Errorf("parse registry url: %w", err)
	}
	repo, err := name.NewRepository(c.opts.Namespace+"/"+image, name.WithDefaultRegistry(u.Host))
	if err != nil {
		return name.Repository{}, fmt.Errorf("invalid repository for %s: %w", image, err)
	}
	return repo, nil
}

// Session holds a pull token for one repository.
type Session struct {
	client *Client
	repo   name.Repository
	token  string
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Authenticate requests an anonymous pull token scoped to the image
// repository.
func (c *Client) Authenticate(ctx context.Context, image string) (*Session, error) {
	repo, err := c.Repository(image)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("service", c.opts.Service)
	q.Set("scope", repo.Scope("pull"))
	tokenURL := c.opts.BaseURL + "/v2/auth?" + q.Encode()

	resp, err := network.Get(ctx, c.http, tokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	token := tr.Token
	if token == "" {
		token = tr.AccessToken
	}
	if token == "" {
		return nil, ErrNoToken
	}

	return &Session{client: c, repo: repo, token: token}, nil
}

func (s *Session) Repository() name.Repository {
	return s.repo
}

func (s *Session) header(accept string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.token)
	if accept != "" {
		h.Set("Accept", accept)
	}
	return h
}

func (s *Session) endpoint(kind, ref string) string {
	return fmt.Sprintf("%s/v2/%s/%s/%s", s.client.opts.BaseURL, s.repo.RepositoryStr(), kind, ref)
}

// Manifest fetches the schema 2 manifest of tag. The image digest is taken
// from the Docker-Content-Digest response header.
func (s *Session) Manifest(ctx context.Context, tag string) (*Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.client.opts.RequestTimeout)
	defer cancel()

	resp, err := network.Get(ctx, s.client.http, s.endpoint("manifests", tag), s.header(string(types.DockerManifestSchema2)))
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	imageDigest := resp.Header.Get("Docker-Content-Digest")
	if imageDigest == "" {
		return nil, ErrNoImageDigest
	}
	dgst, err := parseHexDigest(imageDigest)
	if err != nil {
		return nil, fmt.Errorf("image digest: %w", err)
	}

	var body ocispec.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	layers := make([]digest.Digest, len(body.Layers))
	for i, desc := range body.Layers {
		if err := desc.Digest.Validate(); err != nil {
			return nil, fmt.Errorf("%w: layer %d: %v", ErrInvalidDigest, i, err)
		}
		layers[i] = desc.Digest
	}

	return &Manifest{Tag: tag, Digest: dgst, Layers: layers}, nil
}

// Blob opens a streaming download of a blob. The caller must close the body
// and verify the content against dgst.
func (s *Session) Blob(ctx context.Context, dgst digest.Digest) (io.ReadCloser, int64, error) {
	resp, err := network.Get(ctx, s.client.http, s.endpoint("blobs", dgst.String()), s.header(""))
	if err != nil {
		return nil, 0, fmt.Errorf("fetch blob %s: %w", dgst.Encoded(), err)
	}
	return resp.Body, resp.ContentLength, nil
}
