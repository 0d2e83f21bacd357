// Package metadata parses and re-serializes Solidity compiler metadata
// documents, the canonical JSON shared by the Assembler, Compiler Driver,
// Matcher, and Injector.
package metadata

import (
	"encoding/json"
	"fmt"
)

// SourceEntry is one entry of metadata's "sources" map.
type SourceEntry struct {
	Keccak256 string   `json:"keccak256"`
	URLs      []string `json:"urls,omitempty"`
	Content   string   `json:"content,omitempty"`
}

type typedView struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
	} `json:"settings"`
	Sources map[string]SourceEntry `json:"sources"`
}

// Document is a parsed metadata document. It retains both a typed view for
// convenient field access and the original generic decode so that
// WithLibraries can re-serialize canonically without losing fields this
// package doesn't model explicitly (evmVersion, remappings, outputSelection,
// optimizer, license arrays, etc).
type Document struct {
	raw     []byte
	generic map[string]interface{}
	view    typedView
}

// Parse decodes raw metadata JSON.
func Parse(raw []byte) (*Document, error) {
	var view typedView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("metadata: parse: %w", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("metadata: parse: %w", err)
	}
	return &Document{raw: raw, generic: generic, view: view}, nil
}

// Bytes returns the document's serialized form exactly as parsed (or as
// produced by a prior WithLibraries call). This is the canonical form
// hashed and persisted by the Repository Store.
func (d *Document) Bytes() []byte { return d.raw }

// CompilerVersion is the exact compiler version string declared in metadata.
func (d *Document) CompilerVersion() string { return d.view.Compiler.Version }

// Sources returns the declared source map: logical name -> {keccak256, urls, content}.
func (d *Document) Sources() map[string]SourceEntry { return d.view.Sources }

// Settings returns the full "settings" object as a generic map, for the
// Compiler Driver to reconstruct compiler input verbatim.
func (d *Document) Settings() map[string]interface{} {
	s, _ := d.generic["settings"].(map[string]interface{})
	return s
}

// CompilationTarget returns the single logical source name and contract name
// declared as the compile target. Exactly one entry is required.
func (d *Document) CompilationTarget() (sourceName, contractName string, err error) {
	if len(d.view.Settings.CompilationTarget) != 1 {
		return "", "", fmt.Errorf("metadata: expected exactly one compilationTarget entry, got %d", len(d.view.Settings.CompilationTarget))
	}
	for k, v := range d.view.Settings.CompilationTarget {
		return k, v, nil
	}
	return "", "", fmt.Errorf("metadata: unreachable")
}

// WithLibraries returns a new Document with settings.libraries replaced by
// libs — keyed by library name, not by source path — re-serialized
// canonically. encoding/json sorts map keys alphabetically on Marshal, so
// identical logical input always produces byte-identical output.
func (d *Document) WithLibraries(libs map[string]string) (*Document, error) {
	clone := make(map[string]interface{}, len(d.generic))
	for k, v := range d.generic {
		clone[k] = v
	}

	settings, _ := clone["settings"].(map[string]interface{})
	settingsClone := make(map[string]interface{}, len(settings)+1)
	for k, v := range settings {
		settingsClone[k] = v
	}
	settingsClone["libraries"] = libs
	clone["settings"] = settingsClone

	raw, err := json.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("metadata: re-serialize with libraries: %w", err)
	}
	return Parse(raw)
}
