// Package bootstrap loads settings documents authored as YAML files,
// the form an operator hand-writes to seed a fresh store (the trusted
// document) or to author a signed update for a source out of band.
package bootstrap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/fides/pkg/document"
	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/version"
)

// Manifest is the on-disk YAML shape for an authored document.
//
//	version: {"src1": 3}
//	values:
//	  app.theme: dark
//	  app.timeout_ms: "5000"
//	deletions:
//	  - app.legacy
type Manifest struct {
	Version   map[string]uint32 `yaml:"version,omitempty"`
	Values    map[string]string `yaml:"values,omitempty"`
	Deletions []string          `yaml:"deletions,omitempty"`
}

// LoadFile reads and parses a Manifest from path.
func LoadFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: reading %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: parsing %s: %w", path, err)
	}
	return m, nil
}

// ToDocument converts a parsed Manifest into a document.Document, validating
// every key and deletion along the way.
func (m Manifest) ToDocument() (*document.Document, error) {
	values := make(map[string][]byte, len(m.Values))
	for k, v := range m.Values {
		values[k] = []byte(v)
	}

	deletions := make([]key.Key, 0, len(m.Deletions))
	for _, d := range m.Deletions {
		k, err := key.New(d)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: deletion %q: %w", d, err)
		}
		deletions = append(deletions, k)
	}

	stamp := version.New(m.Version)
	return document.New(values, deletions, stamp)
}

// LoadTrustedDocument loads and converts the unstamped trusted document used
// to seed a fresh Manager via Manager.Init. It rejects a manifest carrying a
// version stamp, since the trusted document must be unstamped.
func LoadTrustedDocument(path string) (*document.Document, error) {
	m, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if len(m.Version) != 0 {
		return nil, fmt.Errorf("bootstrap: trusted document manifest %s must not carry a version stamp", path)
	}
	return m.ToDocument()
}
