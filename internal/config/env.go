// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChainConfig is one monitored chain's RPC endpoint and starting block.
type ChainConfig struct {
	ChainID    int64
	RPCURL     string
	StartBlock *big.Int // nil means "start at chain head"
}

// EnvConfig holds all environment-variable-driven settings, read once at
// process startup (no component re-reads the environment afterward).
type EnvConfig struct {
	// Gateways
	IPFSURL string

	// SourceFetcher
	FetchTimeout  time.Duration
	FetchPause    time.Duration
	CleanupPeriod time.Duration

	// ChainMonitor
	GetCodeRetryPause time.Duration
	GetBlockPause     time.Duration
	InitialGetTries   int

	// Repository / compiler
	RepoDir            string
	CompilersManifest  string
	RecompileCacheSize int
	SweepSchedule      string

	InfuraID string
	Testing  bool

	Chains []ChainConfig
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error naming every invalid/missing value at once,
// rather than failing on the first one encountered.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.IPFSURL = envStr("IPFS_URL", "https://ipfs.infura.io:5001/api/v0/cat?arg=")

	cfg.FetchTimeout = envMillis("MONITOR_FETCH_TIMEOUT", 300_000, &errs)
	cfg.FetchPause = envMillis("MONITOR_FETCH_PAUSE", 1_000, &errs)
	cfg.CleanupPeriod = envMillis("MONITOR_CLEANUP_PERIOD", 1_800_000, &errs)

	cfg.GetCodeRetryPause = envMillis("GET_CODE_RETRY_PAUSE", 2_000, &errs)
	cfg.GetBlockPause = envMillis("GET_BLOCK_PAUSE", 2_000, &errs)
	cfg.InitialGetTries = envInt("INITIAL_GET_BYTECODE_TRIES", 3, &errs)

	cfg.RepoDir = envStr("CHAINVERIFY_REPO_DIR", "./repository")
	cfg.CompilersManifest = envStr("CHAINVERIFY_COMPILERS_MANIFEST", "./compilers.yaml")
	cfg.SweepSchedule = envStr("CHAINVERIFY_SWEEP_SCHEDULE", "0 * * * *")
	cfg.RecompileCacheSize = envInt("CHAINVERIFY_RECOMPILE_CACHE_SIZE", 256, &errs)

	cfg.InfuraID = envStr("INFURA_ID", "")
	cfg.Testing = envStr("TESTING", "") == "true"

	chains, chainErrs := discoverChains()
	cfg.Chains = chains
	errs = append(errs, chainErrs...)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// discoverChains scans the environment for CHAINVERIFY_CHAIN_RPC_<chainId>
// variables, templating INFURA_ID into the URL, and pairs each with its
// optional MONITOR_START_<chainId> starting block.
func discoverChains() ([]ChainConfig, []string) {
	const rpcPrefix = "CHAINVERIFY_CHAIN_RPC_"
	infuraID := envStr("INFURA_ID", "")

	var errs []string
	var chains []ChainConfig
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, rpcPrefix) {
			continue
		}
		idStr := strings.TrimPrefix(key, rpcPrefix)
		chainID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid chain id suffix %q", key, idStr))
			continue
		}

		rpcURL := strings.ReplaceAll(value, "${INFURA_ID}", infuraID)

		var startBlock *big.Int
		if raw := os.Getenv(fmt.Sprintf("MONITOR_START_%d", chainID)); raw != "" {
			n, ok := new(big.Int).SetString(raw, 10)
			if !ok {
				errs = append(errs, fmt.Sprintf("MONITOR_START_%d: invalid integer %q", chainID, raw))
				continue
			}
			startBlock = n
		}

		chains = append(chains, ChainConfig{ChainID: chainID, RPCURL: rpcURL, StartBlock: startBlock})
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i].ChainID < chains[j].ChainID })
	return chains, errs
}

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

// envMillis reads an integer count of milliseconds and returns it as a
// Duration.
func envMillis(key string, defaultMillis int, errs *[]string) time.Duration {
	return time.Duration(envInt(key, defaultMillis, errs)) * time.Millisecond
}
