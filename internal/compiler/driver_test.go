package compiler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/chainverify/chainverify/internal/metadata"
)

const driverMetadataJSON = `{
	"compiler": {"version": "fake-1.0"},
	"settings": {
		"compilationTarget": {"Simple.sol": "Simple"},
		"optimizer": {"enabled": false, "runs": 200}
	},
	"sources": {
		"Simple.sol": {"keccak256": "0xabc"}
	}
}`

const fakeCompilerOutput = `{
	"contracts": {
		"Simple.sol": {
			"Simple": {
				"metadata": "{\"normalized\":true}",
				"evm": {"deployedBytecode": {"object": "6001600155"}}
			}
		}
	}
}`

func writeFakeCompiler(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler script is POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-solc")
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake compiler: %v", err)
	}
	return path
}

func TestDriver_RecompileExtractsRuntimeBytecode(t *testing.T) {
	binPath := writeFakeCompiler(t, fakeCompilerOutput)
	manifestPath := writeManifest(t, "- version: \"fake-1.0\"\n  path: "+binPath+"\n")

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	driver, err := New(manifest, 16)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	doc, err := metadata.Parse([]byte(driverMetadataJSON))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}

	result, err := driver.Recompile(context.Background(), doc, map[string]string{"Simple.sol": "contract Simple {}"})
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}

	if string(result.RuntimeBytecode) != "\x60\x01\x60\x01\x55" {
		t.Fatalf("unexpected runtime bytecode: %x", result.RuntimeBytecode)
	}
	if string(result.NormalizedMetadata) != `{"normalized":true}` {
		t.Fatalf("unexpected normalized metadata: %s", result.NormalizedMetadata)
	}
}

func TestDriver_RecompileCachesIdenticalInput(t *testing.T) {
	binPath := writeFakeCompiler(t, fakeCompilerOutput)
	manifestPath := writeManifest(t, "- version: \"fake-1.0\"\n  path: "+binPath+"\n")

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	driver, err := New(manifest, 16)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	doc, err := metadata.Parse([]byte(driverMetadataJSON))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	sources := map[string]string{"Simple.sol": "contract Simple {}"}

	first, err := driver.Recompile(context.Background(), doc, sources)
	if err != nil {
		t.Fatalf("first recompile: %v", err)
	}

	// Remove the binary; a cache hit must not need to invoke it again.
	if err := os.Remove(binPath); err != nil {
		t.Fatalf("remove fake compiler: %v", err)
	}

	second, err := driver.Recompile(context.Background(), doc, sources)
	if err != nil {
		t.Fatalf("second recompile (expected cache hit): %v", err)
	}
	if string(first.RuntimeBytecode) != string(second.RuntimeBytecode) {
		t.Fatal("cached result mismatch")
	}
}

func TestDriver_ReloadManifestPicksUpNewVersion(t *testing.T) {
	binPath := writeFakeCompiler(t, fakeCompilerOutput)
	manifestPath := writeManifest(t, "- version: \"other\"\n  path: /nonexistent\n")

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	driver, err := New(manifest, 16)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	doc, err := metadata.Parse([]byte(driverMetadataJSON))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if _, err := driver.Recompile(context.Background(), doc, nil); err == nil {
		t.Fatal("expected error before reload: fake-1.0 not yet installed")
	}

	if err := os.WriteFile(manifestPath, []byte("- version: \"fake-1.0\"\n  path: "+binPath+"\n"), 0o644); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}
	if err := driver.ReloadManifest(manifestPath); err != nil {
		t.Fatalf("reload manifest: %v", err)
	}

	if _, err := driver.Recompile(context.Background(), doc, map[string]string{"Simple.sol": "contract Simple {}"}); err != nil {
		t.Fatalf("recompile after reload: %v", err)
	}
}

func TestManifest_UnsupportedVersionFailsBeforeInvocation(t *testing.T) {
	manifestPath := writeManifest(t, "- version: \"other\"\n  path: /nonexistent\n")
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	driver, err := New(manifest, 16)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	doc, err := metadata.Parse([]byte(driverMetadataJSON))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if _, err := driver.Recompile(context.Background(), doc, nil); err == nil {
		t.Fatal("expected error for unsupported compiler version")
	}
}
