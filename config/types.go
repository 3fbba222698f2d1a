package config

import "fmt"

// Config is the daemon-wide configuration, loaded from JSON with environment
// overrides applied on top (see Load).
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Storage
	DatabaseDir  string `json:"database_dir"`  // directory for the SQLite file (default: ./data)
	DatabaseFile string `json:"database_file"` // database filename (default: agentpay.db)

	// Payment watching
	PayeeAddress                string `json:"payee_address"`                  // address incoming transfers must pay
	EventPollingIntervalSeconds int    `json:"event_polling_interval_seconds"` // watcher log-scan cadence (default: 5)
	SafetyWindowBlocks          uint64 `json:"safety_window_blocks"`           // max backfill depth on restart (default: 5000)

	// Confirmation tracking
	ConfirmationPollIntervalSeconds int     `json:"confirmation_poll_interval_seconds"` // tracker cadence (default: 30)
	ConfirmationsOverride           *uint64 `json:"confirmations_override,omitempty"`   // overrides every chain's required depth

	// Delivery dispatch
	DeliveryWebhookURL    string `json:"delivery_webhook_url"`    // ServiceProcessor endpoint
	WebhookMaxRetries     int    `json:"webhook_max_retries"`     // attempts per dispatch (default: 3)
	WebhookTimeoutSeconds int    `json:"webhook_timeout_seconds"` // per-attempt timeout (default: 10)

	// Reconciliation sweep
	ReconcileIntervalSeconds int `json:"reconcile_interval_seconds"` // sweep cadence (default: 300)
	StalledAfterSeconds      int `json:"stalled_after_seconds"`      // IN_PROGRESS age before re-dispatch (default: 900)

	// Query/callback HTTP server
	QueryServerPort int `json:"query_server_port"` // default: 8081

	// Per-chain configuration
	ChainConfigs map[string]ChainConfig `json:"chain_configs"` // key: chain name ("ethereum", "polygon", ...)
}

// ChainConfig holds all chain-specific settings in one place.
type ChainConfig struct {
	ChainID               int64             `json:"chain_id"`               // numeric EVM chain id, used to validate RPC endpoints
	RPCURLs               []string          `json:"rpc_urls"`               // RPC endpoints for this chain
	RequiredConfirmations uint64            `json:"required_confirmations"` // confirmation depth before an invoice is PAID
	Tokens                map[string]string `json:"tokens"`                 // symbol -> token contract address (USDC, USDT)
	ContractAddress       string            `json:"contract_address"`       // AgentPay invoice contract, optional

	// If set to a non-negative value, the watcher starts from this block when
	// no durable cursor exists. -1 or absent means start from the latest block.
	EventStartFrom *int64 `json:"event_start_from,omitempty"`
}

// RequiredConfirmations returns the confirmation depth for a chain, honoring
// the global override when present.
func (c *Config) RequiredConfirmations(chain string) (uint64, error) {
	if c.ConfirmationsOverride != nil && *c.ConfirmationsOverride > 0 {
		return *c.ConfirmationsOverride, nil
	}
	cc, ok := c.ChainConfigs[chain]
	if !ok {
		return 0, fmt.Errorf("no config found for chain %s", chain)
	}
	if cc.RequiredConfirmations == 0 {
		return 0, fmt.Errorf("required_confirmations not set for chain %s", chain)
	}
	return cc.RequiredConfirmations, nil
}

// GetChainConfig returns the configuration for a specific chain.
func (c *Config) GetChainConfig(chain string) (ChainConfig, bool) {
	cc, ok := c.ChainConfigs[chain]
	return cc, ok
}
