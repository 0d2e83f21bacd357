package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/chainverify/chainverify/internal/config"
	"github.com/chainverify/chainverify/internal/monitor"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the chain monitor in the foreground",
		Long: `monitor starts the same Monitor the chainverifyd daemon runs: one
ChainMonitor per configured chain, feeding the shared Assembler and
Injector, plus the supplementary cron sweep. It blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEnvConfig()
			if err != nil {
				return err
			}

			mon, err := monitor.New(cfg)
			if err != nil {
				return fmt.Errorf("monitor: %w", err)
			}

			mon.Start()
			log.Printf("monitoring %d chain(s)", len(cfg.Chains))

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			sig := <-quit
			log.Printf("received signal %s, shutting down...", sig)
			mon.Stop()
			return nil
		},
	}
}

// dialChain dials the RPC endpoint configured for chainID, if any. A nil
// client with no error means the chain simply isn't configured; the
// Injector then reports a configuration error for each address of the
// request rather than failing at startup.
func dialChain(cfg *config.EnvConfig, chainID int64) (*ethclient.Client, func(), error) {
	for _, c := range cfg.Chains {
		if c.ChainID != chainID {
			continue
		}
		client, err := ethclient.Dial(c.RPCURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("dial chain %d: %w", chainID, err)
		}
		return client, client.Close, nil
	}
	return nil, func() {}, nil
}
