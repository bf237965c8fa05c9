package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath        string
	ChainID           int64
	RPCURL            string
	Timeout           string
	Retries           int
	JSON              bool
	KeySource         string
	AffiliateFeeBps   int64
	SurplusCollection bool
}

type Settings struct {
	ChainID              int64
	RPCURL               string
	AggregatorBaseURL    string
	AggregatorAPIKey     string
	AggregatorAPIVersion string
	AffiliateFeeBps      int64
	SurplusCollection    bool
	Timeout              time.Duration
	Retries              int
	JSON                 bool
	KeySource            string
	PoolAddress          string
	JournalPath          string
	JournalLockPath      string
}

type fileConfig struct {
	ChainID int64  `yaml:"chain_id"`
	RPCURL  string `yaml:"rpc_url"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Signer  struct {
		KeySource string `yaml:"key_source"`
	} `yaml:"signer"`
	Aggregator struct {
		BaseURL       string `yaml:"base_url"`
		APIKey        string `yaml:"api_key"`
		APIKeyEnv     string `yaml:"api_key_env"`
		APIVersion    string `yaml:"api_version"`
		AffiliateBps  *int64 `yaml:"affiliate_fee_bps"`
		SurplusEnable *bool  `yaml:"surplus_collection"`
	} `yaml:"aggregator"`
	Lending struct {
		PoolAddress string `yaml:"pool_address"`
	} `yaml:"lending"`
	Journal struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.ChainID <= 0 {
		settings.ChainID = 1
	}
	if settings.AffiliateFeeBps < 0 || settings.AffiliateFeeBps >= 10_000 {
		return Settings{}, fmt.Errorf("affiliate fee bps must be in [0, 10000)")
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		ChainID:              1,
		AggregatorAPIVersion: "v2",
		Timeout:              10 * time.Second,
		Retries:              2,
		KeySource:            "auto",
		JournalPath:          filepath.Join(dataDir, "attempts.db"),
		JournalLockPath:      filepath.Join(dataDir, "attempts.lock"),
	}, nil
}

func resolveConfigPath(override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return "", nil
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swap-agent", "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if cfg.ChainID > 0 {
		settings.ChainID = cfg.ChainID
	}
	if strings.TrimSpace(cfg.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(cfg.RPCURL)
	}
	if strings.TrimSpace(cfg.Timeout) != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("parse config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if strings.TrimSpace(cfg.Signer.KeySource) != "" {
		settings.KeySource = strings.TrimSpace(cfg.Signer.KeySource)
	}
	if strings.TrimSpace(cfg.Aggregator.BaseURL) != "" {
		settings.AggregatorBaseURL = strings.TrimSpace(cfg.Aggregator.BaseURL)
	}
	if strings.TrimSpace(cfg.Aggregator.APIKey) != "" {
		settings.AggregatorAPIKey = strings.TrimSpace(cfg.Aggregator.APIKey)
	}
	if env := strings.TrimSpace(cfg.Aggregator.APIKeyEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			settings.AggregatorAPIKey = v
		}
	}
	if strings.TrimSpace(cfg.Aggregator.APIVersion) != "" {
		settings.AggregatorAPIVersion = strings.TrimSpace(cfg.Aggregator.APIVersion)
	}
	if cfg.Aggregator.AffiliateBps != nil {
		settings.AffiliateFeeBps = *cfg.Aggregator.AffiliateBps
	}
	if cfg.Aggregator.SurplusEnable != nil {
		settings.SurplusCollection = *cfg.Aggregator.SurplusEnable
	}
	if strings.TrimSpace(cfg.Lending.PoolAddress) != "" {
		settings.PoolAddress = strings.TrimSpace(cfg.Lending.PoolAddress)
	}
	if strings.TrimSpace(cfg.Journal.Path) != "" {
		settings.JournalPath = strings.TrimSpace(cfg.Journal.Path)
	}
	if strings.TrimSpace(cfg.Journal.LockPath) != "" {
		settings.JournalLockPath = strings.TrimSpace(cfg.Journal.LockPath)
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := strings.TrimSpace(os.Getenv("SWAP_AGENT_CHAIN_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			settings.ChainID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_AGENT_RPC_URL")); v != "" {
		settings.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_AGENT_AGGREGATOR_API_KEY")); v != "" {
		settings.AggregatorAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_AGENT_AGGREGATOR_BASE_URL")); v != "" {
		settings.AggregatorBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_AGENT_POOL_ADDRESS")); v != "" {
		settings.PoolAddress = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.Timeout) != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries > 0 {
		settings.Retries = flags.Retries
	}
	if strings.TrimSpace(flags.KeySource) != "" {
		settings.KeySource = strings.TrimSpace(flags.KeySource)
	}
	if flags.AffiliateFeeBps > 0 {
		settings.AffiliateFeeBps = flags.AffiliateFeeBps
	}
	if flags.SurplusCollection {
		settings.SurplusCollection = true
	}
	settings.JSON = flags.JSON
	return nil
}

func defaultDataDir() (string, error) {
	base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "swap-agent"), nil
}
