// Package injector implements the Injector: orchestrates compile -> match ->
// store for both assembler-driven and user-driven input, through a single
// object-shaped call. It deliberately exposes only one call convention,
// never a parallel positional one alongside it.
package injector

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/chainverify/chainverify/internal/address"
	"github.com/chainverify/chainverify/internal/assembler"
	"github.com/chainverify/chainverify/internal/compiler"
	"github.com/chainverify/chainverify/internal/domainerr"
	"github.com/chainverify/chainverify/internal/matcher"
	"github.com/chainverify/chainverify/internal/metadata"
	"github.com/chainverify/chainverify/internal/repository"
)

// ChainClient is the minimal on-chain capability the Injector needs for the
// user-driven path (the assembler-driven path already carries bytecode).
type ChainClient interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// AssembledInput is the assembler-driven request shape.
type AssembledInput struct {
	Contract        assembler.CheckedContract
	Bytecode        []byte
	ChainID         int64
	ContractAddress string
}

// UserInput is the user-driven request shape: a flat file set (sources and
// metadata mixed), a list of candidate addresses, and optional library link
// addresses.
type UserInput struct {
	ChainID   int64
	Addresses []string
	Files     map[string]string // filename -> content
	Links     map[string]string // library name -> lowercase 20-byte address hex
}

// Request is the Injector's single public call shape. Exactly one of
// Assembled or User must be set; Inject rejects a request setting both or
// neither, instead of supporting two parallel call conventions.
type Request struct {
	Assembled *AssembledInput
	User      *UserInput
}

// MatchResult is Inject's outcome.
type MatchResult struct {
	Result     matcher.Result
	StoredPath string
}

// Injector is the shared orchestrator owned by the Monitor (assembler-driven
// calls) and by the CLI (user-driven calls).
type Injector struct {
	store   *repository.Store
	driver  *compiler.Driver
	clients map[int64]ChainClient
}

// New builds an Injector. clients maps chain id to an on-chain code reader,
// used only by the user-driven path (the assembler-driven path already
// supplies bytecode it read itself).
func New(store *repository.Store, driver *compiler.Driver, clients map[int64]ChainClient) *Injector {
	return &Injector{store: store, driver: driver, clients: clients}
}

// Inject runs the shared verify-and-store pipeline for req. Every call is
// tagged with a correlation id in its log lines, so an operator can line up
// an Assembler-driven attempt with a concurrent user-driven retry for the
// same address.
func (inj *Injector) Inject(req Request) (MatchResult, error) {
	corrID := uuid.NewString()

	var (
		result MatchResult
		err    error
	)
	switch {
	case req.Assembled != nil && req.User == nil:
		result, err = inj.injectAssembled(*req.Assembled)
	case req.User != nil && req.Assembled == nil:
		result, err = inj.injectUser(*req.User)
	default:
		err = domainerr.New(domainerr.CodeInput, "inject: request must set exactly one of Assembled or User")
	}

	if err != nil {
		log.Printf("[injector %s] failed: %v", corrID, err)
		return result, err
	}
	log.Printf("[injector %s] %s match: %s", corrID, result.Result, result.StoredPath)
	return result, nil
}

func (inj *Injector) injectAssembled(in AssembledInput) (MatchResult, error) {
	sources := make(map[string]string, len(in.Contract.Sources))
	for name, sr := range in.Contract.Sources {
		sources[name] = sr.Content
	}
	return inj.verifyAndStore(in.Contract.Metadata, sources, in.Bytecode, in.ChainID, in.ContractAddress, nil)
}

func (inj *Injector) injectUser(in UserInput) (MatchResult, error) {
	metaBytes, sourceFiles, err := partitionFiles(in.Files)
	if err != nil {
		return MatchResult{}, err
	}

	doc, err := metadata.Parse(metaBytes)
	if err != nil {
		return MatchResult{}, domainerr.New(domainerr.CodeInput, "invalid metadata.json: %v", err)
	}

	sources := make(map[string]string, len(doc.Sources()))
	for name, entry := range doc.Sources() {
		content, ok := resolveSource(name, entry, sourceFiles)
		if !ok {
			return MatchResult{}, domainerr.New(domainerr.CodeInput, "%s cannot be found", name)
		}
		sources[name] = content
	}

	var (
		result  MatchResult
		lastErr error
	)
	for _, addr := range in.Addresses {
		client, ok := inj.clients[in.ChainID]
		if !ok {
			lastErr = domainerr.New(domainerr.CodeConfiguration, "no chain client configured for chain %d", in.ChainID)
			continue
		}
		bytecode, err := client.CodeAt(context.Background(), common.HexToAddress(addr), nil)
		if err != nil {
			lastErr = domainerr.New(domainerr.CodeVerification, "fetch on-chain bytecode for %s: %v", addr, err)
			continue
		}

		r, err := inj.verifyAndStore(doc, sources, bytecode, in.ChainID, addr, in.Links)
		if err != nil {
			lastErr = err
			continue
		}
		result = r
	}
	if lastErr != nil {
		return result, lastErr
	}
	return result, nil
}

// resolveSource finds the content satisfying entry's declared hash: first by
// exact filename, falling back to a hash scan across the remaining provided
// files (the declared logical name need not match the uploaded filename).
func resolveSource(name string, entry metadata.SourceEntry, files map[string]string) (string, bool) {
	if entry.Content != "" {
		return entry.Content, true
	}
	if content, ok := files[name]; ok && keccakMatches(content, entry.Keccak256) {
		return content, true
	}
	for _, content := range files {
		if keccakMatches(content, entry.Keccak256) {
			return content, true
		}
	}
	return "", false
}

func keccakMatches(content, declared string) bool {
	actual := "0x" + hex.EncodeToString(crypto.Keccak256([]byte(content)))
	return strings.EqualFold(actual, declared)
}

// partitionFiles splits a flat file set into the metadata document and
// source files.
func partitionFiles(files map[string]string) (metaBytes []byte, sources map[string]string, err error) {
	sources = make(map[string]string, len(files))
	for name, content := range files {
		if looksLikeMetadata(content) {
			metaBytes = []byte(content)
			continue
		}
		sources[name] = content
	}
	if metaBytes == nil {
		return nil, nil, domainerr.New(domainerr.CodeInput, `Metadata file not found. Did you include "metadata.json"?`)
	}
	return metaBytes, sources, nil
}

func looksLikeMetadata(content string) bool {
	var probe struct {
		Compiler struct {
			Version string `json:"version"`
		} `json:"compiler"`
		Sources map[string]json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return false
	}
	return probe.Compiler.Version != "" && probe.Sources != nil
}

// verifyAndStore is the shared recompile -> match -> persist pipeline for
// both call shapes.
func (inj *Injector) verifyAndStore(doc *metadata.Document, sources map[string]string, onChainBytecode []byte, chainID int64, contractAddress string, links map[string]string) (MatchResult, error) {
	workingDoc := doc
	if len(links) > 0 {
		nd, err := doc.WithLibraries(addLibraryLinksToMetadata(links))
		if err != nil {
			return MatchResult{}, domainerr.New(domainerr.CodeInput, "apply library links: %v", err)
		}
		workingDoc = nd
	}

	compiled, err := inj.driver.Recompile(context.Background(), workingDoc, sources)
	if err != nil {
		return MatchResult{}, domainerr.New(domainerr.CodeVerification, "recompile: %v", err)
	}

	result := matcher.Match(onChainBytecode, compiled.RuntimeBytecode)

	name, _, targetErr := workingDoc.CompilationTarget()
	if targetErr != nil {
		name = "<unknown>"
	}

	switch result {
	case matcher.Perfect:
		path, err := inj.persistFullMatch(workingDoc, sources)
		if err != nil {
			return MatchResult{}, err
		}
		return MatchResult{Result: matcher.Perfect, StoredPath: path}, nil
	case matcher.Partial:
		path, err := inj.store.PutPartialMatch(chainID, contractAddress, workingDoc.Bytes())
		if err != nil {
			return MatchResult{}, domainerr.New(domainerr.CodeFilesystem, "store partial match: %v", err)
		}
		return MatchResult{Result: matcher.Partial, StoredPath: path}, nil
	default:
		return MatchResult{}, domainerr.New(domainerr.CodeVerification, "Could not match on-chain deployed bytecode (%s)", name)
	}
}

// persistFullMatch stores metadata under its content address and every
// source under the parallel sources/ tree, dispatching on the origin the
// metadata's own declared urls use (ipfs vs swarm) when present, defaulting
// to ipfs.
func (inj *Injector) persistFullMatch(doc *metadata.Document, sources map[string]string) (string, error) {
	origin := dominantOrigin(doc)

	var (
		path string
		err  error
	)
	switch origin {
	case address.OriginBzzr0:
		path, err = inj.store.PutSwarm("bzzr0", address.HashContentSwarm(doc.Bytes()), doc.Bytes())
	case address.OriginBzzr1:
		path, err = inj.store.PutSwarm("bzzr1", address.HashContentSwarm(doc.Bytes()), doc.Bytes())
	default:
		path, err = inj.store.PutIPFS(address.HashContent(doc.Bytes()), doc.Bytes())
	}
	if err != nil {
		return "", domainerr.New(domainerr.CodeFilesystem, "store metadata: %v", err)
	}

	for name, content := range sources {
		entry, ok := doc.Sources()[name]
		if !ok {
			continue
		}
		if _, err := inj.store.PutSource(entry.Keccak256, []byte(content)); err != nil {
			return "", domainerr.New(domainerr.CodeFilesystem, "store source %s: %v", name, err)
		}
	}
	return path, nil
}

// dominantOrigin inspects the first source url present to decide which
// content-addressed network this metadata was distributed over.
func dominantOrigin(doc *metadata.Document) address.Origin {
	for _, entry := range doc.Sources() {
		for _, u := range entry.URLs {
			if sa, ok := address.ParseContentURL(u); ok {
				return sa.Origin
			}
		}
	}
	return address.OriginIPFS
}

// addLibraryLinksToMetadata builds settings.libraries keyed by library name,
// not by source path, from the caller-supplied link addresses.
func addLibraryLinksToMetadata(links map[string]string) map[string]string {
	libs := make(map[string]string, len(links))
	for name, addr := range links {
		libs[name] = strings.ToLower(addr)
	}
	return libs
}
