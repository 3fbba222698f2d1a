package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 30, cfg.ConfirmationPollIntervalSeconds)
	assert.Equal(t, 3, cfg.WebhookMaxRetries)
	assert.Equal(t, 10, cfg.WebhookTimeoutSeconds)

	// All five supported chains are present with their depth table.
	require.Len(t, cfg.ChainConfigs, 5)
	for _, chain := range []string{"ethereum", "polygon", "bsc", "avalanche", "base"} {
		cc, ok := cfg.GetChainConfig(chain)
		require.True(t, ok, chain)
		assert.NotEmpty(t, cc.RPCURLs, chain)
		assert.NotEmpty(t, cc.Tokens["USDC"], chain)
		assert.NotEmpty(t, cc.Tokens["USDT"], chain)
		assert.NotZero(t, cc.RequiredConfirmations, chain)
	}

	depth, err := cfg.RequiredConfirmations("polygon")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), depth)

	depth, err = cfg.RequiredConfirmations("ethereum")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), depth)

	_, err = cfg.RequiredConfirmations("solana")
	require.Error(t, err)
}

func TestConfirmationsOverride(t *testing.T) {
	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)

	override := uint64(20)
	cfg.ConfirmationsOverride = &override

	for _, chain := range []string{"ethereum", "polygon", "bsc"} {
		depth, err := cfg.RequiredConfirmations(chain)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), depth)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	base := t.TempDir()

	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)
	cfg.PayeeAddress = "0x1111111111111111111111111111111111111111"
	cfg.DeliveryWebhookURL = "http://localhost:3001/api/delivery"
	cfg.LogFormat = "json"

	require.NoError(t, Save(cfg, base))

	loaded, err := Load(base)
	require.NoError(t, err)
	assert.Equal(t, cfg.PayeeAddress, loaded.PayeeAddress)
	assert.Equal(t, cfg.DeliveryWebhookURL, loaded.DeliveryWebhookURL)
	assert.Equal(t, "json", loaded.LogFormat)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	// No config file in an empty base path: embedded defaults are used.
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Len(t, cfg.ChainConfigs, 5)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAYEE_ADDRESS", "0x2222222222222222222222222222222222222222")
	t.Setenv("AGENT_DELIVERY_URL", "http://delivery.internal/api/delivery")
	t.Setenv("CONFIRMATIONS_REQUIRED", "7")
	t.Setenv("POLYGON_RPC_URL", "https://rpc.example.com/polygon")
	t.Setenv("DATABASE_PATH", filepath.Join("/var/lib/agentpay", "pipeline.db"))

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0x2222222222222222222222222222222222222222", cfg.PayeeAddress)
	assert.Equal(t, "http://delivery.internal/api/delivery", cfg.DeliveryWebhookURL)
	assert.Equal(t, "/var/lib/agentpay", cfg.DatabaseDir)
	assert.Equal(t, "pipeline.db", cfg.DatabaseFile)

	depth, err := cfg.RequiredConfirmations("bsc")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), depth)

	cc, ok := cfg.GetChainConfig("polygon")
	require.True(t, ok)
	assert.Equal(t, []string{"https://rpc.example.com/polygon"}, cc.RPCURLs)
}

func TestInvalidConfirmationsEnv(t *testing.T) {
	t.Setenv("CONFIRMATIONS_REQUIRED", "not-a-number")
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestInvalidLogFormat(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, configSubdir)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, configFileName),
		[]byte(`{"log_format": "xml"}`),
		0o600,
	))

	_, err := Load(base)
	require.Error(t, err)
}
