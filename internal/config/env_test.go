package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, existed := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if existed {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	clearEnv(t, "IPFS_URL", "MONITOR_FETCH_TIMEOUT", "INITIAL_GET_BYTECODE_TRIES", "TESTING")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IPFSURL != "https://ipfs.infura.io:5001/api/v0/cat?arg=" {
		t.Fatalf("unexpected default IPFS_URL: %s", cfg.IPFSURL)
	}
	if cfg.InitialGetTries != 3 {
		t.Fatalf("unexpected default tries: %d", cfg.InitialGetTries)
	}
	if cfg.Testing {
		t.Fatal("expected Testing=false by default")
	}
}

func TestLoadEnvConfig_InvalidIntegerReported(t *testing.T) {
	os.Setenv("INITIAL_GET_BYTECODE_TRIES", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("INITIAL_GET_BYTECODE_TRIES") })

	if _, err := LoadEnvConfig(); err == nil {
		t.Fatal("expected error for invalid integer env var")
	}
}

func TestLoadEnvConfig_DiscoversChainsFromEnv(t *testing.T) {
	os.Setenv("CHAINVERIFY_CHAIN_RPC_1", "https://mainnet.infura.io/v3/${INFURA_ID}")
	os.Setenv("INFURA_ID", "abc123")
	os.Setenv("MONITOR_START_1", "18000000")
	t.Cleanup(func() {
		os.Unsetenv("CHAINVERIFY_CHAIN_RPC_1")
		os.Unsetenv("INFURA_ID")
		os.Unsetenv("MONITOR_START_1")
	})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Chains) != 1 {
		t.Fatalf("expected 1 discovered chain, got %d", len(cfg.Chains))
	}
	chain := cfg.Chains[0]
	if chain.ChainID != 1 {
		t.Fatalf("unexpected chain id: %d", chain.ChainID)
	}
	if chain.RPCURL != "https://mainnet.infura.io/v3/abc123" {
		t.Fatalf("unexpected templated RPC URL: %s", chain.RPCURL)
	}
	if chain.StartBlock == nil || chain.StartBlock.Int64() != 18000000 {
		t.Fatalf("unexpected start block: %v", chain.StartBlock)
	}
}
