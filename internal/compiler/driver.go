// Package compiler implements the Compiler Driver: recompiles a
// metadata-declared contract and returns its runtime bytecode plus the
// compiler's own normalized metadata echo.
package compiler

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/chainverify/chainverify/internal/metadata"
)

// Result is the Compiler Driver's output.
type Result struct {
	RuntimeBytecode    []byte
	NormalizedMetadata []byte
}

type cacheEntry struct {
	result Result
}

// Driver selects the exact compiler version declared in metadata, invokes
// it against reconstructed standard-JSON input, and extracts the runtime
// bytecode for the declared compilation target.
//
// Invocation is via os/exec: no example repo in the retrieval pack wraps
// external process invocation in a third-party library, so this is a
// deliberate stdlib choice (see DESIGN.md).
type Driver struct {
	manifest atomic.Pointer[Manifest]
	cache    otter.Cache[[16]byte, cacheEntry]
}

// New builds a Driver. cacheSize bounds the recompilation cache, keyed by an
// xxh3-128 digest of the reconstructed compiler input.
func New(manifest *Manifest, cacheSize int) (*Driver, error) {
	cache, err := otter.MustBuilder[[16]byte, cacheEntry](cacheSize).
		Cost(func(_ [16]byte, _ cacheEntry) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("compiler: build recompilation cache: %w", err)
	}
	d := &Driver{cache: cache}
	d.manifest.Store(manifest)
	return d, nil
}

// ReloadManifest re-reads compilers.yaml from path and swaps it in,
// picking up compiler versions installed after startup without dropping the
// recompilation cache. Safe to call concurrently with Recompile.
func (d *Driver) ReloadManifest(path string) error {
	m, err := LoadManifest(path)
	if err != nil {
		return err
	}
	d.manifest.Store(m)
	return nil
}

// standardJSONInput mirrors solc's --standard-json input shape.
type standardJSONInput struct {
	Language string                     `json:"language"`
	Sources  map[string]jsonSourceEntry `json:"sources"`
	Settings map[string]interface{}     `json:"settings"`
}

type jsonSourceEntry struct {
	Content string `json:"content"`
}

// Recompile reconstructs compiler input from doc.Settings() verbatim,
// overlaying sources under their declared logical names, invokes the
// compiler named by doc.CompilerVersion(), and extracts the runtime
// bytecode for doc's single compilation target.
func (d *Driver) Recompile(ctx context.Context, doc *metadata.Document, sources map[string]string) (Result, error) {
	binPath, err := d.manifest.Load().Resolve(doc.CompilerVersion())
	if err != nil {
		return Result{}, err
	}

	sourceName, contractName, err := doc.CompilationTarget()
	if err != nil {
		return Result{}, err
	}

	input := standardJSONInput{
		Language: "Solidity",
		Sources:  make(map[string]jsonSourceEntry, len(sources)),
		Settings: doc.Settings(),
	}
	for name, content := range sources {
		input.Sources[name] = jsonSourceEntry{Content: content}
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return Result{}, fmt.Errorf("compiler: marshal standard-json input: %w", err)
	}

	key := cacheKey(binPath, payload)
	if cached, ok := d.cache.Get(key); ok {
		return cached.result, nil
	}

	workspace, err := os.MkdirTemp("", "chainverify-compile-*")
	if err != nil {
		return Result{}, fmt.Errorf("compiler: create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	out, err := d.invoke(ctx, binPath, payload, workspace)
	if err != nil {
		return Result{}, err
	}

	result, err := extractResult(out, sourceName, contractName)
	if err != nil {
		return Result{}, err
	}

	d.cache.Set(key, cacheEntry{result: result})
	return result, nil
}

// cacheKey derives a 128-bit xxh3 digest of the compiler binary path plus
// its standard-JSON input.
func cacheKey(binPath string, payload []byte) [16]byte {
	h := xxh3.Hash128(append([]byte(binPath), payload...))
	var out [16]byte
	binary.LittleEndian.PutUint64(out[:8], h.Lo)
	binary.LittleEndian.PutUint64(out[8:], h.Hi)
	return out
}

func (d *Driver) invoke(ctx context.Context, binPath string, payload []byte, workspace string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binPath, "--standard-json")
	cmd.Dir = workspace
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("compiler: invoke %s: %w: %s", binPath, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

type standardJSONOutput struct {
	Errors []struct {
		Severity string `json:"severity"`
		Message  string `json:"formattedMessage"`
	} `json:"errors"`
	Contracts map[string]map[string]struct {
		Metadata string `json:"metadata"`
		EVM      struct {
			DeployedBytecode struct {
				Object string `json:"object"`
			} `json:"deployedBytecode"`
		} `json:"evm"`
	} `json:"contracts"`
}

func extractResult(raw []byte, sourceName, contractName string) (Result, error) {
	var out standardJSONOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("compiler: parse compiler output: %w", err)
	}

	for _, e := range out.Errors {
		if e.Severity == "error" {
			return Result{}, fmt.Errorf("compiler: compilation error: %s", e.Message)
		}
	}

	file, ok := out.Contracts[sourceName]
	if !ok {
		return Result{}, fmt.Errorf("compiler: compilation target source %q absent from output", sourceName)
	}
	contract, ok := file[contractName]
	if !ok {
		return Result{}, fmt.Errorf("compiler: compilation target contract %q absent from output", contractName)
	}

	runtime, err := hex.DecodeString(strings.TrimPrefix(contract.EVM.DeployedBytecode.Object, "0x"))
	if err != nil {
		return Result{}, fmt.Errorf("compiler: decode runtime bytecode: %w", err)
	}

	return Result{
		RuntimeBytecode:    runtime,
		NormalizedMetadata: []byte(contract.Metadata),
	}, nil
}
