package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainverify/chainverify/internal/buildinfo"
	"github.com/chainverify/chainverify/internal/domainerr"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInput indicates the supplied files/addresses were rejected before
	// any compilation was attempted.
	ExitCodeInput = 2
	// ExitCodeVerification indicates the contract could not be verified:
	// recompilation failed, on-chain bytecode could not be read, or it did
	// not match the recompiled bytecode.
	ExitCodeVerification = 3
)

// rootCmd is the entry point when chainverify is invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "chainverify",
	Short: "Verify and browse on-chain contract bytecode against its published source",
	Long: `chainverify recompiles a contract's published source against its
on-chain bytecode and records the outcome in a content-addressed
repository, the same way its long-running daemon counterpart does for
contracts it discovers on its own.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and maps a returned error to a process exit
// code. It is the sole entry point called from main.main.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "chainverify version %s\n" .Version}}`)
	if rootCmd.Version == "" {
		rootCmd.Version = buildinfo.Version
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var domainErr *domainerr.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domainerr.CodeInput:
			return ExitCodeInput
		case domainerr.CodeVerification:
			return ExitCodeVerification
		}
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newInjectCmd())
	rootCmd.AddCommand(newMonitorCmd())
}
