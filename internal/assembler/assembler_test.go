package assembler

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainverify/chainverify/internal/address"
)

// fakeSubscriber delivers a canned body for each unique identifier the
// instant Subscribe is called, synchronously, mimicking an already-cached
// SourceFetcher entry.
type fakeSubscriber struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (f *fakeSubscriber) Subscribe(sa address.SourceAddress, callback func([]byte)) error {
	f.mu.Lock()
	body, ok := f.bodies[sa.UniqueID()]
	f.mu.Unlock()
	if !ok {
		return nil // never fires, simulating an unresolved hash
	}
	callback(body)
	return nil
}

func keccak(s string) string {
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(s)))
}

func TestAssembler_CompletesWithInlineAndRemoteSources(t *testing.T) {
	remoteAddr := address.NewIPFS([]byte{1, 2, 3})
	metaAddr := address.NewIPFS([]byte{9, 9, 9})

	remoteContent := "contract Lib {}"
	metadataJSON := `{
		"compiler": {"version": "0.8.19"},
		"settings": {"compilationTarget": {"Simple.sol": "Simple"}},
		"sources": {
			"Simple.sol": {"keccak256": "` + keccak("contract Simple {}") + `", "content": "contract Simple {}"},
			"Lib.sol": {"keccak256": "` + keccak(remoteContent) + `", "urls": ["dweb:/ipfs/` + remoteAddr.ID + `"]}
		}
	}`

	sub := &fakeSubscriber{bodies: map[string][]byte{
		metaAddr.UniqueID():   []byte(metadataJSON),
		remoteAddr.UniqueID(): []byte(remoteContent),
	}}
	gateways := address.NewDefaultSet("https://ipfs.example/", "https://swarm.example/")

	a := New(sub, gateways)

	done := make(chan CheckedContract, 1)
	if err := a.Assemble(metaAddr, func(cc CheckedContract) { done <- cc }); err != nil {
		t.Fatalf("assemble: %v", err)
	}

	select {
	case cc := <-done:
		if cc.Name != "Simple" {
			t.Fatalf("name: got %q", cc.Name)
		}
		if len(cc.Sources) != 2 {
			t.Fatalf("expected 2 sources, got %d", len(cc.Sources))
		}
		if cc.Sources["Simple.sol"].Content != "contract Simple {}" {
			t.Fatalf("inline source mismatch: %+v", cc.Sources["Simple.sol"])
		}
		if cc.Sources["Lib.sol"].Content != remoteContent {
			t.Fatalf("remote source mismatch: %+v", cc.Sources["Lib.sol"])
		}
	case <-time.After(time.Second):
		t.Fatal("assembly never completed")
	}
}

func TestAssembler_DropsOnHashMismatch(t *testing.T) {
	metaAddr := address.NewIPFS([]byte{4, 4, 4})
	metadataJSON := `{
		"compiler": {"version": "0.8.19"},
		"settings": {"compilationTarget": {"Simple.sol": "Simple"}},
		"sources": {"Simple.sol": {"keccak256": "0xdeadbeef", "content": "contract Simple {}"}}
	}`
	sub := &fakeSubscriber{bodies: map[string][]byte{metaAddr.UniqueID(): []byte(metadataJSON)}}
	gateways := address.NewDefaultSet("https://ipfs.example/", "https://swarm.example/")

	a := New(sub, gateways)

	fired := false
	if err := a.Assemble(metaAddr, func(cc CheckedContract) { fired = true }); err != nil {
		t.Fatalf("assemble: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if fired {
		t.Fatal("completion callback should not fire on hash mismatch")
	}
	if _, ok := a.arena.Load(idOfOnlyEntry(&a.arena)); ok {
		t.Fatal("pending assembly should have been dropped from the arena")
	}
}

func TestAssembler_SweepExpiredDropsStuckAssembly(t *testing.T) {
	metaAddr := address.NewIPFS([]byte{6, 6, 6})
	// Never-resolving subscriber: Assemble registers the pending entry but
	// onComplete never fires, simulating a source that never arrives.
	sub := &fakeSubscriber{bodies: map[string][]byte{}}
	gateways := address.NewDefaultSet("https://ipfs.example/", "https://swarm.example/")

	a := New(sub, gateways)

	fired := false
	if err := a.Assemble(metaAddr, func(cc CheckedContract) { fired = true }); err != nil {
		t.Fatalf("assemble: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	a.SweepExpired(time.Millisecond)

	if fired {
		t.Fatal("completion callback should not fire for an expired assembly")
	}
	if _, ok := a.arena.Load(idOfOnlyEntry(&a.arena)); ok {
		t.Fatal("expired pending assembly should have been dropped from the arena")
	}
}

func idOfOnlyEntry(m *sync.Map) string {
	var id string
	m.Range(func(k, v interface{}) bool {
		id = k.(string)
		return false
	})
	return id
}
