package compiler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestEntry names the on-disk path of one installed compiler binary.
type ManifestEntry struct {
	Version string `yaml:"version"`
	Path    string `yaml:"path"`
}

// Manifest maps compiler version strings to binaries available on this
// host, loaded from compilers.yaml (at startup, and again on each
// Driver.ReloadManifest).
type Manifest struct {
	byVersion map[string]string
}

// LoadManifest reads a compilers.yaml listing every installed compiler
// version and its binary path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compiler: read manifest %s: %w", path, err)
	}

	var entries []ManifestEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("compiler: parse manifest %s: %w", path, err)
	}

	m := &Manifest{byVersion: make(map[string]string, len(entries))}
	for _, e := range entries {
		m.byVersion[e.Version] = e.Path
	}
	return m, nil
}

// Resolve returns the binary path for version, or a distinct error if the
// exact version string is not installed.
func (m *Manifest) Resolve(version string) (string, error) {
	path, ok := m.byVersion[version]
	if !ok {
		return "", fmt.Errorf("compiler: unsupported version %q: not listed in manifest", version)
	}
	return path, nil
}
