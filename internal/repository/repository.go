// Package repository implements the Repository Store: a content-addressed
// filesystem layout for verified contracts, with an atomic
// write-temp-then-rename path for every write.
package repository

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store owns the on-disk repository rooted at a single directory. Write-once
// per key: re-injection of identical bytes at an existing key is a no-op.
type Store struct {
	root  string
	index *Index
}

// Open creates (if absent) the repository root and its content index.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create root %s: %w", root, err)
	}
	idx, err := OpenIndex(filepath.Join(root, "index.db"))
	if err != nil {
		return nil, err
	}
	return &Store{root: root, index: idx}, nil
}

// Close releases the content index handle.
func (s *Store) Close() error { return s.index.Close() }

// PutIPFS stores metadata bytes at ipfs/<ipfs-hash-of-metadata> (full match).
func (s *Store) PutIPFS(ipfsHash string, metadataBytes []byte) (string, error) {
	rel := filepath.Join("ipfs", ipfsHash)
	if err := s.writeOnce(rel, metadataBytes); err != nil {
		return "", err
	}
	if err := s.index.Record(rel, "ipfs", rel, nil, nil); err != nil {
		return "", err
	}
	return rel, nil
}

// PutSwarm stores metadata bytes at swarm/bzzr0|bzzr1/<hash>.
func (s *Store) PutSwarm(version, hash string, metadataBytes []byte) (string, error) {
	rel := filepath.Join("swarm", version, hash)
	if err := s.writeOnce(rel, metadataBytes); err != nil {
		return "", err
	}
	if err := s.index.Record(rel, "swarm", rel, nil, nil); err != nil {
		return "", err
	}
	return rel, nil
}

// PutPartialMatch stores metadata bytes at
// partial_matches/<chain>/<address>/metadata.json.
func (s *Store) PutPartialMatch(chainID int64, address string, metadataBytes []byte) (string, error) {
	addrKey := strings.ToLower(address)
	rel := filepath.Join("partial_matches", fmt.Sprint(chainID), addrKey, "metadata.json")
	if err := s.writeOnce(rel, metadataBytes); err != nil {
		return "", err
	}
	if err := s.index.Record(rel, "partial", rel, &chainID, &addrKey); err != nil {
		return "", err
	}
	return rel, nil
}

// PutSource stores one source file keyed by its keccak256 under the
// sources/ tree. Metadata, not this tree, remains the authoritative index.
func (s *Store) PutSource(keccak256 string, content []byte) (string, error) {
	rel := filepath.Join("sources", strings.TrimPrefix(strings.ToLower(keccak256), "0x"))
	if err := s.writeOnce(rel, content); err != nil {
		return "", err
	}
	return rel, nil
}

// Has reports whether rel already exists with exactly these bytes, making
// the Put* calls above idempotent no-ops on repeat injection.
func (s *Store) Has(rel string, content []byte) bool {
	existing, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		return false
	}
	return hex.EncodeToString(existing) == hex.EncodeToString(content)
}

// writeOnce writes content at rel atomically (write-temp-then-rename). If
// rel already holds byte-identical content, it is a no-op. No concurrent
// writers are assumed for the same key.
func (s *Store) writeOnce(rel string, content []byte) error {
	if s.Has(rel, content) {
		return nil
	}

	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("repository: create directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), filepath.Base(full)+".tmp.*")
	if err != nil {
		return fmt.Errorf("repository: create temp file for %s: %w", rel, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("repository: write temp file for %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: close temp file for %s: %w", rel, err)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		return fmt.Errorf("repository: atomic replace for %s: %w", rel, err)
	}
	return nil
}
