package app

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/swap-agent/internal/errors"
)

func newTestRunner() (*Runner, *bytes.Buffer, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	return NewRunnerWithWriters(stdout, stderr), stdout, stderr
}

func TestRunUnknownCommand(t *testing.T) {
	runner, _, stderr := newTestRunner()
	code := runner.Run([]string{"frobnicate"})
	if code == int(clierr.CodeSuccess) {
		t.Fatal("unknown command must not exit 0")
	}
	if !strings.Contains(stderr.String(), "error:") {
		t.Fatalf("stderr missing error report: %q", stderr.String())
	}
}

func TestRunSwapRequiresFlags(t *testing.T) {
	runner, _, stderr := newTestRunner()
	code := runner.Run([]string{"swap"})
	if code == int(clierr.CodeSuccess) {
		t.Fatal("swap without flags must not exit 0")
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage error on stderr")
	}
}

func TestRunHelp(t *testing.T) {
	runner, stdout, _ := newTestRunner()
	code := runner.Run([]string{"--help"})
	if code != int(clierr.CodeSuccess) {
		t.Fatalf("help exited %d", code)
	}
	out := stdout.String()
	for _, sub := range []string{"swap", "stake", "unstake", "attempts"} {
		if !strings.Contains(out, sub) {
			t.Fatalf("help output missing %s command", sub)
		}
	}
}

func TestParseAddressArg(t *testing.T) {
	if _, err := parseAddressArg("--sell-token", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	for _, bad := range []string{"", "0x123", "not-an-address"} {
		if _, err := parseAddressArg("--sell-token", bad); !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("%q: expected usage error, got %v", bad, err)
		}
	}
}

func TestParseAmountArg(t *testing.T) {
	amount, err := parseAmountArg(" 100000000 ")
	if err != nil {
		t.Fatalf("valid amount rejected: %v", err)
	}
	if amount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("parsed %s", amount)
	}
	for _, bad := range []string{"", "0", "-5", "1.5", "0x10"} {
		if _, err := parseAmountArg(bad); !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("%q: expected usage error, got %v", bad, err)
		}
	}
}
