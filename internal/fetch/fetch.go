// Package fetch implements the SourceFetcher: a deduplicating, rate-limited
// polling fetcher keyed by content-hash. Many callers may subscribe to the
// same hash; each is notified exactly once on success.
package fetch

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/chainverify/chainverify/internal/address"
)

// Downloader fetches a URL and returns its body. DirectDownloader below is
// the production implementation used against IPFS/Swarm gateways.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, int, error)
}

// DirectDownloader issues a plain HTTP GET per dispatch.
type DirectDownloader struct {
	Client *http.Client
}

// NewDirectDownloader builds a DirectDownloader with a fresh http.Client.
func NewDirectDownloader() *DirectDownloader {
	return &DirectDownloader{Client: &http.Client{}}
}

func (d *DirectDownloader) Download(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return body, resp.StatusCode, nil
}

// subscription is the SourceFetcher's per-hash bookkeeping. At most one
// subscription exists per unique identifier; at most one in-flight request
// per subscription (enforced by beingProcessed).
type subscription struct {
	addr address.SourceAddress
	url  string

	beingProcessed atomic.Bool
	lastTouchedNs  atomic.Int64

	mu          sync.Mutex
	subscribers []chan<- []byte
}

// Fetcher is the SourceFetcher. One cooperative dispatch loop cycles through
// the current subscription key set, issuing at most one outbound request per
// fetchPause.
type Fetcher struct {
	gateways *address.Set
	download Downloader

	fetchTimeout time.Duration
	cleanupTime  time.Duration

	subs *xsync.Map[string, *subscription]

	cursor []string
	pos    int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config carries the SourceFetcher's startup parameters, read once at
// construction and never re-read at request time. New does not read
// FetchPause; the dispatch pace is the argument passed to Start.
type Config struct {
	FetchTimeout time.Duration
	FetchPause   time.Duration
	CleanupTime  time.Duration
}

// New builds a Fetcher. download defaults to a DirectDownloader if nil.
func New(gateways *address.Set, download Downloader, cfg Config) *Fetcher {
	if download == nil {
		download = NewDirectDownloader()
	}
	return &Fetcher{
		gateways:     gateways,
		download:     download,
		fetchTimeout: cfg.FetchTimeout,
		cleanupTime:  cfg.CleanupTime,
		subs:         xsync.NewMap[string, *subscription](),
		stopCh:       make(chan struct{}),
	}
}

// Subscribe registers callback to be invoked exactly once with the fetched
// body when, and only when, the unique identifier for sa is successfully
// fetched. Multiple subscribers for the same identifier share one in-flight
// fetch. Upserts the subscription's last-touched timestamp even if one
// already existed, deliberately resetting the cleanup clock on repeat
// interest.
//
// If sa's origin has no registered gateway, callback never fires and an
// assembly error is returned immediately.
func (f *Fetcher) Subscribe(sa address.SourceAddress, callback func([]byte)) error {
	url, err := f.gateways.Resolve(sa)
	if err != nil {
		return err
	}

	ch := make(chan []byte, 1)
	go func() {
		body, ok := <-ch
		if !ok {
			return
		}
		callback(body)
	}()

	key := sa.UniqueID()
	sub, _ := f.subs.LoadOrCompute(key, func() (*subscription, bool) {
		s := &subscription{addr: sa, url: url}
		return s, false
	})
	sub.lastTouchedNs.Store(time.Now().UnixNano())
	sub.mu.Lock()
	sub.subscribers = append(sub.subscribers, ch)
	sub.mu.Unlock()
	return nil
}

// Start launches the dispatch loop.
func (f *Fetcher) Start(fetchPause time.Duration) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(pauseOrDefault(fetchPause))
		defer ticker.Stop()
		for {
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
				f.dispatchOne()
			}
		}
	}()
}

func pauseOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

// Stop halts the dispatch loop and waits for it to exit. In-flight requests
// are not cancelled.
func (f *Fetcher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

// dispatchOne advances the cycle by exactly one hash: the pause is between
// dispatches, not between a dispatch and the fetch it triggers completing.
func (f *Fetcher) dispatchOne() {
	if f.pos >= len(f.cursor) {
		f.cursor = f.cursor[:0]
		f.subs.Range(func(key string, _ *subscription) bool {
			f.cursor = append(f.cursor, key)
			return true
		})
		f.pos = 0
		if len(f.cursor) == 0 {
			return
		}
	}

	key := f.cursor[f.pos]
	f.pos++

	sub, ok := f.subs.Load(key)
	if !ok {
		return
	}

	age := time.Duration(time.Now().UnixNano() - sub.lastTouchedNs.Load())
	if age > f.cleanupTime {
		f.subs.Delete(key)
		sub.mu.Lock()
		subscribers := sub.subscribers
		sub.subscribers = nil
		sub.mu.Unlock()
		for _, ch := range subscribers {
			close(ch)
		}
		return
	}

	if !sub.beingProcessed.CompareAndSwap(false, true) {
		return
	}

	go f.runFetch(key, sub)
}

// Sweep forces an age-based cleanup pass over every current subscription,
// independent of the dispatch cursor's gradual cycling. Intended as the
// Monitor's supplementary cron sweep: redundant with, and never a
// replacement for, the inline per-dispatch cleanup in dispatchOne.
func (f *Fetcher) Sweep() {
	var stale []string
	f.subs.Range(func(key string, sub *subscription) bool {
		age := time.Duration(time.Now().UnixNano() - sub.lastTouchedNs.Load())
		if age > f.cleanupTime {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		sub, ok := f.subs.LoadAndDelete(key)
		if !ok {
			continue
		}
		sub.mu.Lock()
		subscribers := sub.subscribers
		sub.subscribers = nil
		sub.mu.Unlock()
		for _, ch := range subscribers {
			close(ch)
		}
	}
}

func (f *Fetcher) runFetch(key string, sub *subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), f.fetchTimeout)
	defer cancel()

	body, status, err := f.download.Download(ctx, sub.url)
	if err != nil {
		log.Printf("[fetch] transport error for %s: %v", key, err)
		sub.beingProcessed.Store(false)
		return
	}
	if status != http.StatusOK {
		log.Printf("[fetch] non-200 (%d) for %s: %s", status, key, truncate(body))
		sub.beingProcessed.Store(false)
		return
	}

	f.subs.Delete(key)

	sub.mu.Lock()
	subscribers := sub.subscribers
	sub.subscribers = nil
	sub.mu.Unlock()

	for _, ch := range subscribers {
		ch <- body
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
