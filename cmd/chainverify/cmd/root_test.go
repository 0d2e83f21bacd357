package cmd

import (
	"testing"

	"github.com/chainverify/chainverify/internal/domainerr"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	if rootCmd.Version != "1.2.3-test" {
		t.Errorf("expected version 1.2.3-test, got %s", rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "chainverify" {
		t.Errorf("expected Use to be chainverify, got %s", rootCmd.Use)
	}
	if !rootCmd.SilenceUsage {
		t.Error("expected SilenceUsage to be true")
	}
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domainerr.New(domainerr.CodeInput, "bad input"), ExitCodeInput},
		{domainerr.New(domainerr.CodeVerification, "no match"), ExitCodeVerification},
		{domainerr.New(domainerr.CodeConfiguration, "bad config"), ExitCodeError},
		{errPlain("boom"), ExitCodeError},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
