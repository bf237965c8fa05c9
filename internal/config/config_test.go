package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SWAP_AGENT_CHAIN_ID",
		"SWAP_AGENT_RPC_URL",
		"SWAP_AGENT_AGGREGATOR_API_KEY",
		"SWAP_AGENT_AGGREGATOR_BASE_URL",
		"SWAP_AGENT_POOL_ADDRESS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	settings, err := Load(GlobalFlags{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ChainID != 1 {
		t.Fatalf("default chain id %d", settings.ChainID)
	}
	if settings.Timeout != 10*time.Second {
		t.Fatalf("default timeout %s", settings.Timeout)
	}
	if settings.Retries != 2 {
		t.Fatalf("default retries %d", settings.Retries)
	}
	if settings.AggregatorAPIVersion != "v2" {
		t.Fatalf("default api version %q", settings.AggregatorAPIVersion)
	}
	if settings.KeySource != "auto" {
		t.Fatalf("default key source %q", settings.KeySource)
	}
	if settings.JournalPath == "" || settings.JournalLockPath == "" {
		t.Fatal("journal paths must default under the data directory")
	}
}

func TestLoadFileConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
chain_id: 8453
rpc_url: https://base.example
timeout: 30s
retries: 5
signer:
  key_source: env
aggregator:
  base_url: https://agg.example/swap/permit2
  api_key: file-key
  affiliate_fee_bps: 25
  surplus_collection: true
lending:
  pool_address: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
journal:
  path: /tmp/swap-agent-test/attempts.db
  lock_path: /tmp/swap-agent-test/attempts.lock
`)

	settings, err := Load(GlobalFlags{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ChainID != 8453 {
		t.Fatalf("chain id %d", settings.ChainID)
	}
	if settings.RPCURL != "https://base.example" {
		t.Fatalf("rpc url %q", settings.RPCURL)
	}
	if settings.Timeout != 30*time.Second {
		t.Fatalf("timeout %s", settings.Timeout)
	}
	if settings.Retries != 5 {
		t.Fatalf("retries %d", settings.Retries)
	}
	if settings.KeySource != "env" {
		t.Fatalf("key source %q", settings.KeySource)
	}
	if settings.AggregatorBaseURL != "https://agg.example/swap/permit2" {
		t.Fatalf("base url %q", settings.AggregatorBaseURL)
	}
	if settings.AggregatorAPIKey != "file-key" {
		t.Fatalf("api key %q", settings.AggregatorAPIKey)
	}
	if settings.AffiliateFeeBps != 25 {
		t.Fatalf("affiliate bps %d", settings.AffiliateFeeBps)
	}
	if !settings.SurplusCollection {
		t.Fatal("surplus collection not applied")
	}
	if settings.PoolAddress != "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2" {
		t.Fatalf("pool address %q", settings.PoolAddress)
	}
}

func TestLoadAPIKeyEnvIndirection(t *testing.T) {
	clearEnv(t)
	t.Setenv("MY_AGG_KEY", "indirect-key")
	path := writeConfig(t, `
aggregator:
  api_key: literal-key
  api_key_env: MY_AGG_KEY
`)
	settings, err := Load(GlobalFlags{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.AggregatorAPIKey != "indirect-key" {
		t.Fatalf("api key %q, want env indirection to win", settings.AggregatorAPIKey)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "chain_id: 8453\nrpc_url: https://file.example\n")
	t.Setenv("SWAP_AGENT_CHAIN_ID", "10")
	t.Setenv("SWAP_AGENT_RPC_URL", "https://env.example")
	t.Setenv("SWAP_AGENT_AGGREGATOR_API_KEY", "env-key")

	settings, err := Load(GlobalFlags{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ChainID != 10 {
		t.Fatalf("chain id %d, want env override", settings.ChainID)
	}
	if settings.RPCURL != "https://env.example" {
		t.Fatalf("rpc url %q, want env override", settings.RPCURL)
	}
	if settings.AggregatorAPIKey != "env-key" {
		t.Fatalf("api key %q, want env override", settings.AggregatorAPIKey)
	}
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "chain_id: 8453\n")
	t.Setenv("SWAP_AGENT_CHAIN_ID", "10")

	settings, err := Load(GlobalFlags{
		ConfigPath:      path,
		ChainID:         137,
		Timeout:         "3s",
		Retries:         7,
		KeySource:       "keystore",
		AffiliateFeeBps: 50,
		JSON:            true,
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ChainID != 137 {
		t.Fatalf("chain id %d, want flag override", settings.ChainID)
	}
	if settings.Timeout != 3*time.Second {
		t.Fatalf("timeout %s", settings.Timeout)
	}
	if settings.Retries != 7 {
		t.Fatalf("retries %d", settings.Retries)
	}
	if settings.KeySource != "keystore" {
		t.Fatalf("key source %q", settings.KeySource)
	}
	if settings.AffiliateFeeBps != 50 {
		t.Fatalf("affiliate bps %d", settings.AffiliateFeeBps)
	}
	if !settings.JSON {
		t.Fatal("json flag not applied")
	}
}

func TestLoadRejectsOutOfRangeAffiliateFee(t *testing.T) {
	clearEnv(t)
	if _, err := Load(GlobalFlags{AffiliateFeeBps: 10_000}); err == nil {
		t.Fatal("expected rejection of 10000 bps affiliate fee")
	}
}

func TestLoadMissingConfigFileIsFine(t *testing.T) {
	clearEnv(t)
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")}); err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "chain_id: [not-a-number\n")
	if _, err := Load(GlobalFlags{ConfigPath: path}); err == nil {
		t.Fatal("expected parse failure for invalid yaml")
	}
}
