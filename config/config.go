// Package config loads the daemon configuration from JSON, applies
// environment overrides and validates/defaults the result. An embedded
// default config carries the supported chain table (rpc urls, required
// confirmations, USDC/USDT token addresses).
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	configSubdir   = "config"
	configFileName = "agentpay_config.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.DatabaseDir == "" {
		cfg.DatabaseDir = "./data"
	}
	if cfg.DatabaseFile == "" {
		cfg.DatabaseFile = "agentpay.db"
	}

	if cfg.EventPollingIntervalSeconds == 0 {
		cfg.EventPollingIntervalSeconds = 5
	}
	if cfg.SafetyWindowBlocks == 0 {
		cfg.SafetyWindowBlocks = 5000
	}
	if cfg.ConfirmationPollIntervalSeconds == 0 {
		cfg.ConfirmationPollIntervalSeconds = 30
	}
	if cfg.WebhookMaxRetries == 0 {
		cfg.WebhookMaxRetries = 3
	}
	if cfg.WebhookTimeoutSeconds == 0 {
		cfg.WebhookTimeoutSeconds = 10
	}
	if cfg.ReconcileIntervalSeconds == 0 {
		cfg.ReconcileIntervalSeconds = 300
	}
	if cfg.StalledAfterSeconds == 0 {
		cfg.StalledAfterSeconds = 900
	}
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8081
	}

	// Load chain table from embedded defaults when absent.
	if len(cfg.ChainConfigs) == 0 {
		var defaultCfg Config
		if err := json.Unmarshal(defaultConfigJSON, &defaultCfg); err == nil {
			cfg.ChainConfigs = defaultCfg.ChainConfigs
		} else {
			cfg.ChainConfigs = make(map[string]ChainConfig)
		}
	}

	return nil
}

// applyEnvOverrides maps the environment variables the original deployment
// used onto the loaded config. A .env file, if any, is read by main before
// this runs.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PAYEE_ADDRESS"); v != "" {
		cfg.PayeeAddress = v
	}
	if v := os.Getenv("AGENT_DELIVERY_URL"); v != "" {
		cfg.DeliveryWebhookURL = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabaseDir = filepath.Dir(v)
		cfg.DatabaseFile = filepath.Base(v)
	}
	if v := os.Getenv("CONFIRMATIONS_REQUIRED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CONFIRMATIONS_REQUIRED: %w", err)
		}
		cfg.ConfirmationsOverride = &n
	}

	// Per-chain RPC overrides: ETHEREUM_RPC_URL, POLYGON_RPC_URL, ...
	for chain, cc := range cfg.ChainConfigs {
		envKey := strings.ToUpper(chain) + "_RPC_URL"
		if v := os.Getenv(envKey); v != "" {
			cc.RPCURLs = []string{v}
			cfg.ChainConfigs[chain] = cc
		}
	}

	return nil
}

// Save writes the given config to <basePath>/config/agentpay_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the config from <basePath>/config/agentpay_config.json, falling
// back to the embedded defaults when the file does not exist, then applies
// environment overrides and validation.
func Load(basePath string) (*Config, error) {
	var cfg Config

	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case os.IsNotExist(err):
		if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Validate first so the default chain table is in place before the
	// per-chain env overrides run.
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON.
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
