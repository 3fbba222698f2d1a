// Package chains manages the per-chain client lifecycle: one client per
// configured chain, started and stopped together, with failures on one chain
// isolated from the rest.
package chains

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/chains/common"
	"github.com/Uuuuu77/agentpay-sub000/chains/evm"
	"github.com/Uuuuu77/agentpay-sub000/config"
	"github.com/Uuuuu77/agentpay-sub000/store"
)

// clientFactory builds a chain client. Swappable in tests.
type clientFactory func(
	chain string,
	appConfig *config.Config,
	invoiceStore *store.InvoiceStore,
	handler common.DispatchHandler,
	logger zerolog.Logger,
) (common.ChainClient, error)

// Manager owns one ChainClient per configured chain.
type Manager struct {
	config    *config.Config
	store     *store.InvoiceStore
	handler   common.DispatchHandler
	logger    zerolog.Logger
	newClient clientFactory

	chains   map[string]common.ChainClient
	chainsMu sync.RWMutex
}

// NewManager creates a chains manager over the app configuration.
func NewManager(
	cfg *config.Config,
	invoiceStore *store.InvoiceStore,
	handler common.DispatchHandler,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		config:  cfg,
		store:   invoiceStore,
		handler: handler,
		logger:  logger.With().Str("component", "chains").Logger(),
		newClient: func(chain string, appConfig *config.Config, invoiceStore *store.InvoiceStore, handler common.DispatchHandler, logger zerolog.Logger) (common.ChainClient, error) {
			return evm.NewClient(chain, appConfig, invoiceStore, handler, logger)
		},
		chains: make(map[string]common.ChainClient),
	}
}

// Start creates and starts a client for every configured chain. A chain that
// fails to start is logged and skipped so one bad RPC endpoint does not take
// the whole pipeline down. At least one chain must start.
func (m *Manager) Start(ctx context.Context) error {
	names := make([]string, 0, len(m.config.ChainConfigs))
	for chain := range m.config.ChainConfigs {
		names = append(names, chain)
	}
	sort.Strings(names)

	started := 0
	for _, chain := range names {
		client, err := m.newClient(chain, m.config, m.store, m.handler, m.logger)
		if err != nil {
			m.logger.Error().Err(err).Str("chain", chain).Msg("failed to create chain client")
			continue
		}
		if err := client.Start(ctx); err != nil {
			m.logger.Error().Err(err).Str("chain", chain).Msg("failed to start chain client")
			continue
		}

		m.chainsMu.Lock()
		m.chains[chain] = client
		m.chainsMu.Unlock()

		m.logger.Info().Str("chain", chain).Msg("chain client added")
		started++
	}

	if started == 0 {
		return fmt.Errorf("no chain clients started out of %d configured", len(names))
	}
	return nil
}

// Stop stops all chain clients.
func (m *Manager) Stop() {
	m.chainsMu.Lock()
	defer m.chainsMu.Unlock()

	m.logger.Info().Msg("stopping all chain clients")
	for chain, client := range m.chains {
		if err := client.Stop(); err != nil {
			m.logger.Error().Err(err).Str("chain", chain).Msg("error stopping chain client")
		}
	}
	m.chains = make(map[string]common.ChainClient)
}

// GetClient returns the chain client for the given chain name.
func (m *Manager) GetClient(chain string) (common.ChainClient, error) {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()

	client, ok := m.chains[chain]
	if !ok {
		return nil, fmt.Errorf("chain client not found for chain %s", chain)
	}
	return client, nil
}

// HealthStatus returns per-chain health of the running clients.
func (m *Manager) HealthStatus() map[string]bool {
	m.chainsMu.RLock()
	defer m.chainsMu.RUnlock()

	status := make(map[string]bool, len(m.chains))
	for chain, client := range m.chains {
		status[chain] = client.IsHealthy()
	}
	return status
}
