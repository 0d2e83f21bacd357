package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chainverify/chainverify/internal/compiler"
	"github.com/chainverify/chainverify/internal/config"
	"github.com/chainverify/chainverify/internal/injector"
	"github.com/chainverify/chainverify/internal/repository"
)

func newInjectCmd() *cobra.Command {
	var (
		chainID   int64
		addresses []string
		files     []string
		links     []string
	)

	c := &cobra.Command{
		Use:   "inject",
		Short: "Verify a contract's published source against its on-chain bytecode",
		Long: `inject takes a flat set of source and metadata files (the same shape
as a Sourcify upload: one metadata.json plus every source it references),
recompiles them, and checks the result against each candidate address on
one chain. It exercises the same Injector the chain monitor uses for
contracts it discovers on its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if chainID == 0 {
				return fmt.Errorf("inject: --chain is required")
			}
			if len(addresses) == 0 {
				return fmt.Errorf("inject: at least one --address is required")
			}

			fileMap, err := readFiles(files)
			if err != nil {
				return err
			}
			linkMap, err := parseLinks(links)
			if err != nil {
				return err
			}

			inj, closeFn, err := buildStandaloneInjector(chainID)
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := inj.Inject(injector.Request{User: &injector.UserInput{
				ChainID:   chainID,
				Addresses: addresses,
				Files:     fileMap,
				Links:     linkMap,
			}})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s match: %s\n", result.Result, result.StoredPath)
			return nil
		},
	}

	c.Flags().Int64Var(&chainID, "chain", 0, "chain id the addresses live on")
	c.Flags().StringArrayVar(&addresses, "address", nil, "candidate contract address (repeatable)")
	c.Flags().StringArrayVar(&files, "file", nil, "path to a source or metadata.json file (repeatable)")
	c.Flags().StringArrayVar(&links, "link", nil, "library link as name=address (repeatable)")
	return c
}

func readFiles(paths []string) (map[string]string, error) {
	files := make(map[string]string, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("inject: read %s: %w", p, err)
		}
		files[filepath.Base(p)] = string(content)
	}
	return files, nil
}

func parseLinks(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	links := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, addr, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("inject: --link %q must be name=address", kv)
		}
		links[name] = addr
	}
	return links, nil
}

// buildStandaloneInjector wires the repository, compiler driver and a
// single chain client for chainID without starting the Monitor's background
// loops (cron sweep, fetcher dispatch, per-chain block walk) — a one-shot
// CLI invocation has no use for any of them.
func buildStandaloneInjector(chainID int64) (*injector.Injector, func(), error) {
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := repository.Open(cfg.RepoDir)
	if err != nil {
		return nil, nil, fmt.Errorf("inject: open repository: %w", err)
	}

	manifest, err := compiler.LoadManifest(cfg.CompilersManifest)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("inject: load compiler manifest: %w", err)
	}
	driver, err := compiler.New(manifest, cfg.RecompileCacheSize)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("inject: build compiler driver: %w", err)
	}

	clients := make(map[int64]injector.ChainClient, 1)
	client, closeClient, err := dialChain(cfg, chainID)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if client != nil {
		clients[chainID] = client
	}

	inj := injector.New(store, driver, clients)
	return inj, func() {
		closeClient()
		store.Close()
	}, nil
}
