// Package monitor implements the Monitor: the lifecycle owner that wires the
// Gateway Set, SourceFetcher, ContractAssembler, Compiler Driver, Injector
// and one ChainMonitor per configured chain, then starts and stops them
// together. It exposes no external API of its own.
package monitor

import (
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/robfig/cron/v3"

	"github.com/chainverify/chainverify/internal/address"
	"github.com/chainverify/chainverify/internal/assembler"
	"github.com/chainverify/chainverify/internal/chainmonitor"
	"github.com/chainverify/chainverify/internal/compiler"
	"github.com/chainverify/chainverify/internal/config"
	"github.com/chainverify/chainverify/internal/fetch"
	"github.com/chainverify/chainverify/internal/injector"
	"github.com/chainverify/chainverify/internal/repository"
	"github.com/chainverify/chainverify/internal/scanloop"
)

// defaultSwarmGatewayURL is used when no swarm-specific override exists: no
// environment variable names a swarm gateway, so bzzr0/bzzr1 resolve against
// this single public gateway (see DESIGN.md's Open Question note).
const defaultSwarmGatewayURL = "https://swarm-gateways.net/bzz-raw:/"

// manifestReloadInterval and manifestReloadJitter pace the compiler-manifest
// hot-reload loop (see Monitor.reloadManifest). The jitter keeps a fleet of
// daemons sharing the same compilers.yaml from all re-reading it in
// lockstep, mirroring scanloop's own reason for existing.
const (
	manifestReloadInterval = 5 * time.Minute
	manifestReloadJitter   = 90 * time.Second
)

// Monitor owns every long-running goroutine in the process: the
// SourceFetcher's dispatch loop, one ChainMonitor per configured chain, and
// the supplementary cron sweep.
type Monitor struct {
	fetcher   *fetch.Fetcher
	assembler *assembler.Assembler
	store     *repository.Store
	driver    *compiler.Driver
	injector  *injector.Injector
	chains    []*chainmonitor.Monitor
	sweep     *cron.Cron

	fetchPause    time.Duration
	cleanupPeriod time.Duration
	manifestPath  string
	reloadStopCh  chan struct{}
}

// New wires every component from cfg. It does not start anything.
func New(cfg *config.EnvConfig) (*Monitor, error) {
	if cfg.Testing {
		return nil, fmt.Errorf("monitor: refusing to start with TESTING=true")
	}

	gateways := address.NewDefaultSet(cfg.IPFSURL, defaultSwarmGatewayURL)

	fetcher := fetch.New(gateways, nil, fetch.Config{
		FetchTimeout: cfg.FetchTimeout,
		FetchPause:   cfg.FetchPause,
		CleanupTime:  cfg.CleanupPeriod,
	})

	asm := assembler.New(fetcher, gateways)

	store, err := repository.Open(cfg.RepoDir)
	if err != nil {
		return nil, fmt.Errorf("monitor: open repository: %w", err)
	}

	manifest, err := compiler.LoadManifest(cfg.CompilersManifest)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("monitor: load compiler manifest: %w", err)
	}
	driver, err := compiler.New(manifest, cfg.RecompileCacheSize)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("monitor: build compiler driver: %w", err)
	}

	// The user-driven injection path needs per-chain clients too (to read
	// on-chain bytecode for caller-supplied addresses); reuse the same
	// dialed clients the ChainMonitors use.
	chainClients := make(map[int64]injector.ChainClient, len(cfg.Chains))
	inj := injector.New(store, driver, chainClients)

	m := &Monitor{
		fetcher:      fetcher,
		assembler:    asm,
		store:        store,
		driver:       driver,
		injector:     inj,
		fetchPause:    cfg.FetchPause,
		cleanupPeriod: cfg.CleanupPeriod,
		manifestPath:  cfg.CompilersManifest,
		sweep:         cron.New(),
		reloadStopCh:  make(chan struct{}),
	}

	for _, chainCfg := range cfg.Chains {
		client, err := ethclient.Dial(chainCfg.RPCURL)
		if err != nil {
			m.closeAll()
			return nil, fmt.Errorf("monitor: dial chain %d: %w", chainCfg.ChainID, err)
		}
		chainClients[chainCfg.ChainID] = client

		cm := chainmonitor.New(client, chainmonitor.Config{
			ChainID:           chainCfg.ChainID,
			StartBlock:        chainCfg.StartBlock,
			GetBlockPause:     cfg.GetBlockPause,
			GetCodeRetryPause: cfg.GetCodeRetryPause,
			InitialTries:      cfg.InitialGetTries,
		}, asm, m.onVerify)
		m.chains = append(m.chains, cm)
	}

	if _, err := m.sweep.AddFunc(cfg.SweepSchedule, m.runSweep); err != nil {
		m.closeAll()
		return nil, fmt.Errorf("monitor: invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}

	return m, nil
}

// Injector exposes the shared Injector for the user-driven CLI path.
func (m *Monitor) Injector() *injector.Injector { return m.injector }

// Start launches the SourceFetcher, every ChainMonitor, the supplementary
// cron sweep, and the jittered compiler-manifest reload loop.
func (m *Monitor) Start() {
	m.fetcher.Start(m.fetchPause)
	for _, cm := range m.chains {
		go cm.Run()
	}
	m.sweep.Start()
	go scanloop.Run(m.reloadStopCh, manifestReloadInterval, manifestReloadJitter, m.reloadManifest)
	log.Println("[monitor] started")
}

// Stop halts every component in the reverse order they were started, then
// releases the repository handle.
func (m *Monitor) Stop() {
	close(m.reloadStopCh)
	<-m.sweep.Stop().Done()
	for _, cm := range m.chains {
		cm.Stop()
	}
	m.fetcher.Stop()
	m.closeAll()
	log.Println("[monitor] stopped")
}

func (m *Monitor) closeAll() {
	if err := m.store.Close(); err != nil {
		log.Printf("[monitor] repository close error: %v", err)
	}
}

// onVerify is handed to every ChainMonitor as its OnVerify callback. It
// calls the Injector with the object-shaped Assembled request, never a
// positional form.
func (m *Monitor) onVerify(contract assembler.CheckedContract, bytecode []byte, chainID int64, contractAddress string) {
	result, err := m.injector.Inject(injector.Request{Assembled: &injector.AssembledInput{
		Contract:        contract,
		Bytecode:        bytecode,
		ChainID:         chainID,
		ContractAddress: contractAddress,
	}})
	if err != nil {
		log.Printf("[monitor] inject %s on chain %d: %v", contractAddress, chainID, err)
		return
	}
	log.Printf("[monitor] %s on chain %d: %s match", contractAddress, chainID, result.Result)
}

// runSweep is the supplementary cron-driven cleanup pass. It is redundant
// with, and never a replacement for, the inline cleanup the SourceFetcher
// and Assembler already run per cycle.
func (m *Monitor) runSweep() {
	m.fetcher.Sweep()
	m.assembler.SweepExpired(m.cleanupPeriod)
	log.Println("[monitor] supplementary sweep complete")
}

// reloadManifest re-reads compilers.yaml so a compiler version installed
// onto the host after startup becomes usable without a restart. Failures
// are logged and left for the next tick; the Driver keeps serving the
// previously loaded manifest in the meantime.
func (m *Monitor) reloadManifest() {
	if err := m.driver.ReloadManifest(m.manifestPath); err != nil {
		log.Printf("[monitor] compiler manifest reload: %v", err)
		return
	}
	log.Println("[monitor] compiler manifest reloaded")
}
