// Package ocitest provides an in-memory registry and layer fixtures for tests.
package ocitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const Token = "test-token"

// Registry fakes the subset of the quay.io API the client uses: /v2/auth,
// manifests and blobs, all requiring the bearer token except /v2/auth.
type Registry struct {
	Server *httptest.Server

	TokenRequests    atomic.Int32
	ManifestRequests atomic.Int32
	BlobRequests     atomic.Int32

	mu        sync.Mutex
	manifests map[string]manifestEntry // "<repo>:<tag>"
	blobs     map[digest.Digest][]byte
	corrupt   map[digest.Digest]bool
	scopes    []string
}

type manifestEntry struct {
	body   []byte
	digest digest.Digest
}

func NewRegistry() *Registry {
	r := &Registry{
		manifests: make(map[string]manifestEntry),
		blobs:     make(map[digest.Digest][]byte),
		corrupt:   make(map[digest.Digest]bool),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	return r
}

func (r *Registry) Close() {
	r.Server.Close()
}

func (r *Registry) URL() string {
	return r.Server.URL
}

// Push stores layers as blobs and a schema 2 manifest referencing them under
// repo:tag. It returns the layer digests in order.
func (r *Registry) Push(repo, tag string, layers ...[]byte) []digest.Digest {
	r.mu.Lock()
	defer r.mu.Unlock()

	digests := make([]digest.Digest, len(layers))
	descs := make([]ocispec.Descriptor, len(layers))
	for i, l := range layers {
		d := digest.FromBytes(l)
		r.blobs[d] = l
		digests[i] = d
		descs[i] = ocispec.Descriptor{
			MediaType: string(types.DockerLayer),
			Digest:    d,
			Size:      int64(len(l)),
		}
	}

	config := []byte(fmt.Sprintf(`{"repo":%q,"tag":%q}`, repo, tag))
	m := ocispec.Manifest{
		MediaType: string(types.DockerManifestSchema2),
		Config: ocispec.Descriptor{
			MediaType: string(types.DockerConfigJSON),
			Digest:    digest.FromBytes(config),
			Size:      int64(len(config)),
		},
		Layers: descs,
	}
	m.SchemaVersion = 2

	body, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	r.manifests[repo+":"+tag] = manifestEntry{body: body, digest: digest.FromBytes(body)}
	return digests
}

// ManifestDigest returns the image digest served for repo:tag.
func (r *Registry) ManifestDigest(repo, tag string) digest.Digest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manifests[repo+":"+tag].digest
}

// Corrupt makes the registry serve altered bytes for a blob.
func (r *Registry) Corrupt(d digest.Digest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupt[d] = true
}

// Scopes returns the scopes requested from /v2/auth.
func (r *Registry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scopes...)
}

func (r *Registry) serve(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/v2/auth" {
		r.TokenRequests.Add(1)
		r.mu.Lock()
		r.scopes = append(r.scopes, req.URL.Query().Get("scope"))
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"token":%q}`, Token)
		return
	}

	if req.Header.Get("Authorization") != "Bearer "+Token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED"}]}`))
		return
	}

	path := strings.TrimPrefix(req.URL.Path, "/v2/")
	if i := strings.LastIndex(path, "/manifests/"); i >= 0 {
		r.ManifestRequests.Add(1)
		repo, tag := path[:i], path[i+len("/manifests/"):]
		if req.Header.Get("Accept") != string(types.DockerManifestSchema2) {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		r.mu.Lock()
		entry, ok := r.manifests[repo+":"+tag]
		r.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[{"code":"MANIFEST_UNKNOWN"}]}`))
			return
		}
		w.Header().Set("Content-Type", string(types.DockerManifestSchema2))
		w.Header().Set("Docker-Content-Digest", entry.digest.String())
		_, _ = w.Write(entry.body)
		return
	}

	if i := strings.LastIndex(path, "/blobs/"); i >= 0 {
		r.BlobRequests.Add(1)
		d := digest.Digest(path[i+len("/blobs/"):])
		r.mu.Lock()
		data, ok := r.blobs[d]
		corrupt := r.corrupt[d]
		r.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if corrupt {
			data = append(append([]byte(nil), data...), []byte("garbage")...)
		}
		_, _ = w.Write(data)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}
