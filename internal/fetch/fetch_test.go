package fetch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainverify/chainverify/internal/address"
)

type fakeDownloader struct {
	mu      sync.Mutex
	calls   int32
	status  int
	body    []byte
	err     error
	blockCh chan struct{}
}

func (f *fakeDownloader) Download(ctx context.Context, url string) ([]byte, int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.body, f.status, nil
}

func newGatewaySet(t *testing.T) *address.Set {
	t.Helper()
	return address.NewDefaultSet("https://ipfs.example/", "https://swarm.example/bzzr/")
}

func TestFetcher_DeliversBodyToSubscriber(t *testing.T) {
	dl := &fakeDownloader{status: http.StatusOK, body: []byte("metadata-bytes")}
	f := New(newGatewaySet(t), dl, Config{FetchTimeout: time.Second, CleanupTime: time.Minute})

	sa := address.NewIPFS([]byte{1, 2, 3})
	got := make(chan []byte, 1)
	if err := f.Subscribe(sa, func(b []byte) { got <- b }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.dispatchOne()

	select {
	case b := <-got:
		if string(b) != "metadata-bytes" {
			t.Fatalf("got %q", b)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestFetcher_DeduplicatesSharedSubscription(t *testing.T) {
	block := make(chan struct{})
	dl := &fakeDownloader{status: http.StatusOK, body: []byte("x"), blockCh: block}
	f := New(newGatewaySet(t), dl, Config{FetchTimeout: time.Second, CleanupTime: time.Minute})

	sa := address.NewIPFS([]byte{9, 9, 9})
	var fired int32
	done := make(chan struct{}, 2)
	cb := func(b []byte) { atomic.AddInt32(&fired, 1); done <- struct{}{} }
	if err := f.Subscribe(sa, cb); err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	if err := f.Subscribe(sa, cb); err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}

	f.dispatchOne() // dispatches the one subscription, request blocks in-flight
	f.dispatchOne() // second cycle: beingProcessed already true, no second request

	close(block)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("callback never fired")
		}
	}

	if calls := atomic.LoadInt32(&dl.calls); calls != 1 {
		t.Fatalf("expected exactly 1 outbound request, got %d", calls)
	}
	if fired != 2 {
		t.Fatalf("expected both subscribers notified, got %d", fired)
	}
}

func TestFetcher_CleanupDropsWithoutFiringCallback(t *testing.T) {
	dl := &fakeDownloader{status: http.StatusOK, body: []byte("x")}
	f := New(newGatewaySet(t), dl, Config{FetchTimeout: time.Second, CleanupTime: time.Millisecond})

	sa := address.NewIPFS([]byte{5, 5, 5})
	fired := false
	if err := f.Subscribe(sa, func(b []byte) { fired = true }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	f.dispatchOne()

	time.Sleep(20 * time.Millisecond)
	if fired {
		t.Fatal("callback fired for a cleaned-up subscription")
	}
	if _, ok := f.subs.Load(sa.UniqueID()); ok {
		t.Fatal("subscription should have been removed")
	}
}

func TestFetcher_NonOKLeavesSubscriptionForRetry(t *testing.T) {
	dl := &fakeDownloader{status: http.StatusNotFound, body: []byte("nope")}
	f := New(newGatewaySet(t), dl, Config{FetchTimeout: time.Second, CleanupTime: time.Minute})

	sa := address.NewIPFS([]byte{7, 7, 7})
	if err := f.Subscribe(sa, func(b []byte) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.dispatchOne()
	time.Sleep(20 * time.Millisecond)

	if _, ok := f.subs.Load(sa.UniqueID()); !ok {
		t.Fatal("subscription should remain for retry after non-200")
	}
}

func TestFetcher_SweepDropsStaleWithoutWaitingForCursor(t *testing.T) {
	dl := &fakeDownloader{status: http.StatusOK, body: []byte("x")}
	f := New(newGatewaySet(t), dl, Config{FetchTimeout: time.Second, CleanupTime: time.Millisecond})

	sa := address.NewIPFS([]byte{4, 4, 4})
	fired := false
	if err := f.Subscribe(sa, func(b []byte) { fired = true }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	f.Sweep()

	if fired {
		t.Fatal("callback fired for a swept subscription")
	}
	if _, ok := f.subs.Load(sa.UniqueID()); ok {
		t.Fatal("subscription should have been removed by Sweep")
	}
}

func TestFetcher_UnknownOriginRejected(t *testing.T) {
	f := New(address.NewSet(), &fakeDownloader{}, Config{FetchTimeout: time.Second, CleanupTime: time.Minute})
	sa := address.NewIPFS([]byte{1})
	if err := f.Subscribe(sa, func(b []byte) {}); err == nil {
		t.Fatal("expected error for unresolvable origin")
	}
}
