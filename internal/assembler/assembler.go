// Package assembler implements the ContractAssembler: it walks one
// contract's metadata graph, fetching the metadata document and every
// source it references, until a complete compilable bundle exists.
package assembler

import (
	"encoding/hex"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/chainverify/chainverify/internal/address"
	"github.com/chainverify/chainverify/internal/metadata"
)

// SourceResult is one resolved source file.
type SourceResult struct {
	Content   string
	Keccak256 string
}

// CheckedContract is the assembled input handed to the Injector.
type CheckedContract struct {
	Name     string
	Metadata *metadata.Document
	Sources  map[string]SourceResult
}

// Subscriber is the subset of SourceFetcher the Assembler depends on.
type Subscriber interface {
	Subscribe(sa address.SourceAddress, callback func([]byte)) error
}

// pending is one in-flight assembly. Callbacks registered with the
// SourceFetcher hold only its id, breaking the Assembler/Fetcher reference
// cycle — the arena below is the only strong reference.
type pending struct {
	mu          sync.Mutex
	metadata    *metadata.Document
	wantSource  map[string]metadata.SourceEntry // nil until metadata arrives
	sources     map[string]SourceResult
	onComplete  func(CheckedContract)
	createdAtNs int64
}

// Assembler owns the PendingContract arena.
type Assembler struct {
	fetcher  Subscriber
	gateways *address.Set
	arena    sync.Map // id string -> *pending
}

// New builds an Assembler. gateways is consulted to pick the first
// resolvable URL among a source's declared content-addresses.
func New(fetcher Subscriber, gateways *address.Set) *Assembler {
	return &Assembler{fetcher: fetcher, gateways: gateways}
}

// Assemble begins assembly of one contract, identified by the content
// address of its metadata document. onComplete fires exactly once, when
// every declared source has arrived and verified.
func (a *Assembler) Assemble(metadataAddress address.SourceAddress, onComplete func(CheckedContract)) error {
	id := uuid.NewString()
	p := &pending{
		sources:     make(map[string]SourceResult),
		onComplete:  onComplete,
		createdAtNs: time.Now().UnixNano(),
	}
	a.arena.Store(id, p)

	if err := a.fetcher.Subscribe(metadataAddress, func(body []byte) { a.onMetadata(id, body) }); err != nil {
		a.arena.Delete(id)
		return err
	}
	return nil
}

func (a *Assembler) load(id string) (*pending, bool) {
	v, ok := a.arena.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*pending), true
}

func (a *Assembler) drop(id string, reason string) {
	log.Printf("[assembler] dropping assembly %s: %s", id, reason)
	a.arena.Delete(id)
}

func (a *Assembler) onMetadata(id string, body []byte) {
	p, ok := a.load(id)
	if !ok {
		return // garbage-collected before arrival
	}

	doc, err := metadata.Parse(body)
	if err != nil {
		a.drop(id, "invalid metadata JSON: "+err.Error())
		return
	}

	want := doc.Sources()
	p.mu.Lock()
	p.metadata = doc
	p.wantSource = want
	p.mu.Unlock()

	if len(want) == 0 {
		a.tryComplete(id)
		return
	}

	for name, entry := range want {
		name, entry := name, entry

		if entry.Content != "" {
			a.onSource(id, name, entry.Keccak256, []byte(entry.Content))
			continue
		}

		sa, ok := address.FirstResolvable(a.gateways, entry.URLs)
		if !ok {
			a.drop(id, "no resolvable gateway for source "+name)
			return
		}
		if err := a.fetcher.Subscribe(sa, func(b []byte) { a.onSource(id, name, entry.Keccak256, b) }); err != nil {
			a.drop(id, "subscribe for source "+name+": "+err.Error())
			return
		}
	}
}

func (a *Assembler) onSource(id, name, expectedHash string, content []byte) {
	actual := "0x" + hex.EncodeToString(crypto.Keccak256(content))
	if !strings.EqualFold(actual, expectedHash) {
		a.drop(id, "keccak256 mismatch for source "+name)
		return
	}

	p, ok := a.load(id)
	if !ok {
		return
	}

	p.mu.Lock()
	p.sources[name] = SourceResult{Content: string(content), Keccak256: actual}
	complete := p.wantSource != nil && len(p.sources) == len(p.wantSource)
	p.mu.Unlock()

	if complete {
		a.tryComplete(id)
	}
}

// SweepExpired drops any assembly still pending after maxAge, a safety net
// for an assembly stuck waiting on a source that never arrives (its
// subscription was itself evicted, or a gateway never resolved). Intended as
// the Monitor's supplementary cron sweep, redundant with the drops already
// triggered inline by onMetadata/onSource failures.
func (a *Assembler) SweepExpired(maxAge time.Duration) {
	now := time.Now().UnixNano()
	var stale []string
	a.arena.Range(func(key, value any) bool {
		p := value.(*pending)
		if time.Duration(now-p.createdAtNs) > maxAge {
			stale = append(stale, key.(string))
		}
		return true
	})
	for _, id := range stale {
		a.drop(id, "expired before assembly completed")
	}
}

func (a *Assembler) tryComplete(id string) {
	v, ok := a.arena.LoadAndDelete(id)
	if !ok {
		return
	}
	p := v.(*pending)

	p.mu.Lock()
	doc := p.metadata
	sources := p.sources
	p.mu.Unlock()

	_, name, err := doc.CompilationTarget()
	if err != nil {
		log.Printf("[assembler] assembly %s: %v", id, err)
		return
	}

	p.onComplete(CheckedContract{Name: name, Metadata: doc, Sources: sources})
}
