// Package chainmonitor implements the ChainMonitor: a per-chain block walker
// that drives the Assembler for every contract creation transaction it
// observes.
package chainmonitor

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainverify/chainverify/internal/address"
	"github.com/chainverify/chainverify/internal/assembler"
)

// Assembler is the subset of assembler.Assembler ChainMonitor depends on.
type Assembler interface {
	Assemble(metadataAddress address.SourceAddress, onComplete func(assembler.CheckedContract)) error
}

// ChainClient is the subset of *ethclient.Client ChainMonitor depends on,
// narrowed to keep the block loop independently testable against a fake.
type ChainClient interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// OnVerify is invoked once per resolved contract creation, after the
// Assembler has produced a complete CheckedContract. The Monitor supplies
// this closure; it is expected to call the Injector with its single
// object-shaped call convention, never a parallel positional one.
type OnVerify func(contract assembler.CheckedContract, bytecode []byte, chainID int64, contractAddress string)

// Config carries ChainMonitor's per-chain startup parameters, read once at
// construction and never re-read from the environment at request time.
type Config struct {
	ChainID           int64
	StartBlock        *big.Int // nil means start from chain head
	GetBlockPause     time.Duration
	GetCodeRetryPause time.Duration
	InitialTries      int
}

// Monitor walks one chain's blocks, looking for contract-creation
// transactions.
type Monitor struct {
	client    ChainClient
	cfg       Config
	assembler Assembler
	onVerify  OnVerify

	stopCh chan struct{}
}

// New builds a ChainMonitor. client is typically an *ethclient.Client
// dialed against the chain's configured RPC endpoint.
func New(client ChainClient, cfg Config, asm Assembler, onVerify OnVerify) *Monitor {
	return &Monitor{
		client:    client,
		cfg:       cfg,
		assembler: asm,
		onVerify:  onVerify,
		stopCh:    make(chan struct{}),
	}
}

// Run walks blocks starting at cfg.StartBlock (or chain head) until stopped.
// This is the monitor's single cooperative loop: once block N has been
// fetched it advances to N+1 on the next GetBlockPause tick regardless of
// per-tx outcome. If fetching block N fails (not yet mined, or a transient
// RPC error), the same N is retried on the next tick; both paths wait one
// tick before the next fetch.
func (m *Monitor) Run() {
	n := m.cfg.StartBlock
	if n == nil {
		head, err := m.currentHead()
		if err != nil {
			log.Printf("[chainmonitor %d] cannot resolve chain head: %v", m.cfg.ChainID, err)
			n = big.NewInt(0)
		} else {
			n = head
		}
	}

	ticker := time.NewTicker(m.cfg.GetBlockPause)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		block, err := m.client.BlockByNumber(context.Background(), n)
		if err != nil {
			// No block yet at N (head hasn't reached it) or a transient RPC
			// error: log and retry the same N next tick.
			log.Printf("[chainmonitor %d] block %s not available: %v", m.cfg.ChainID, n, err)
			continue
		}

		m.processBlock(block)
		n = new(big.Int).Add(n, big.NewInt(1))
	}
}

// Stop halts the block loop.
func (m *Monitor) Stop() { close(m.stopCh) }

func (m *Monitor) currentHead() (*big.Int, error) {
	header, err := m.client.HeaderByNumber(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	return header.Number, nil
}

func (m *Monitor) processBlock(block *types.Block) {
	signer := types.LatestSignerForChainID(big.NewInt(m.cfg.ChainID))
	for _, tx := range block.Transactions() {
		if tx.To() != nil {
			continue // not a contract creation
		}

		from, err := types.Sender(signer, tx)
		if err != nil {
			log.Printf("[chainmonitor %d] recover sender for tx %s: %v", m.cfg.ChainID, tx.Hash(), err)
			continue
		}

		contractAddr := crypto.CreateAddress(from, tx.Nonce())
		go m.processBytecode(contractAddr, m.cfg.InitialTries)
	}
}

// processBytecode resolves a newly created contract's runtime bytecode,
// retrying while the RPC node's state lags one block behind head.
func (m *Monitor) processBytecode(contractAddr common.Address, triesLeft int) {
	if triesLeft <= 0 {
		return // exhausted: address dropped silently
	}

	code, err := m.client.CodeAt(context.Background(), contractAddr, nil)
	if err != nil {
		log.Printf("[chainmonitor %d] eth_getCode %s: %v", m.cfg.ChainID, contractAddr.Hex(), err)
		time.AfterFunc(m.cfg.GetCodeRetryPause, func() { m.processBytecode(contractAddr, triesLeft-1) })
		return
	}
	if len(code) == 0 {
		time.AfterFunc(m.cfg.GetCodeRetryPause, func() { m.processBytecode(contractAddr, triesLeft-1) })
		return
	}

	metaAddr, err := address.ExtractFromBytecode(code)
	if err != nil {
		log.Printf("[chainmonitor %d] no metadata pointer in %s: %v", m.cfg.ChainID, contractAddr.Hex(), err)
		return
	}

	chainID := m.cfg.ChainID
	bytecode := code
	addr := contractAddr.Hex()
	err = m.assembler.Assemble(metaAddr, func(cc assembler.CheckedContract) {
		m.onVerify(cc, bytecode, chainID, addr)
	})
	if err != nil {
		log.Printf("[chainmonitor %d] assemble %s: %v", m.cfg.ChainID, contractAddr.Hex(), err)
	}
}
