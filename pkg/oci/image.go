package oci

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Manifest is what this tool keeps of a registry manifest: the image digest
// and the ordered layer digests, under the registry tag it was resolved from.
type Manifest struct {
	Tag    string
	Digest digest.Digest
	Layers []digest.Digest
}

// tagRecord is the on-disk form of a Manifest (tags/<tag>.json). Digests are
// stored as bare sha256 hex strings.
type tagRecord struct {
	Digest string   `json:"digest"`
	Layers []string `json:"layers"`
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	rec := tagRecord{
		Digest: m.Digest.Encoded(),
		Layers: make([]string, len(m.Layers)),
	}
	for i, l := range m.Layers {
		rec.Layers[i] = l.Encoded()
	}
	return json.Marshal(rec)
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var rec tagRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	var err error
	if rec.Digest != "" {
		m.Digest, err = parseHexDigest(rec.Digest)
		if err != nil {
			return fmt.Errorf("image digest: %w", err)
		}
	}

	m.Layers = make([]digest.Digest, len(rec.Layers))
	for i, l := range rec.Layers {
		m.Layers[i], err = parseHexDigest(l)
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

// parseHexDigest accepts either "sha256:<hex>" or a bare sha256 hex string.
func parseHexDigest(s string) (digest.Digest, error) {
	d := digest.Digest(s)
	if !strings.Contains(s, ":") {
		d = digest.NewDigestFromEncoded(digest.SHA256, s)
	}
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	return d, nil
}
