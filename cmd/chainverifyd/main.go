package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainverify/chainverify/internal/buildinfo"
	"github.com/chainverify/chainverify/internal/config"
	"github.com/chainverify/chainverify/internal/monitor"
)

func main() {
	log.Printf("chainverifyd %s (commit %s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fatalf("%v", err)
	}

	mon, err := monitor.New(envCfg)
	if err != nil {
		fatalf("monitor: %v", err)
	}

	mon.Start()
	log.Printf("monitoring %d chain(s)", len(envCfg.Chains))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	log.Printf("received signal %s, shutting down...", sig)

	mon.Stop()
	log.Println("shutdown complete")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}
