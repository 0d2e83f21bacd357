package compiler

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "compilers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest_Resolve(t *testing.T) {
	path := writeManifest(t, `
- version: "0.8.19+commit.7dd6d404"
  path: /usr/local/bin/solc-0.8.19
- version: "0.6.0+commit.26b70077"
  path: /usr/local/bin/solc-0.6.0
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	got, err := m.Resolve("0.8.19+commit.7dd6d404")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "/usr/local/bin/solc-0.8.19" {
		t.Fatalf("got %q", got)
	}
}

func TestManifest_ResolveUnsupportedVersion(t *testing.T) {
	path := writeManifest(t, `- version: "0.8.19"
  path: /bin/solc
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if _, err := m.Resolve("0.4.0"); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
