package evm

import (
	"context"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/chains/common"
	"github.com/Uuuuu77/agentpay-sub000/config"
	uerrors "github.com/Uuuuu77/agentpay-sub000/errors"
	"github.com/Uuuuu77/agentpay-sub000/store"
)

// Client is the EVM implementation of common.ChainClient. It owns the RPC
// pool, the payment watcher and the confirmation tracker for one chain.
type Client struct {
	chain     string
	appConfig *config.Config
	chainCfg  config.ChainConfig
	store     *store.InvoiceStore
	handler   common.DispatchHandler
	logger    zerolog.Logger

	rpc     *RPCClient
	watcher *PaymentWatcher
	tracker *common.ConfirmationTracker
}

var _ common.ChainClient = (*Client)(nil)

// NewClient creates an EVM chain client from the app configuration.
func NewClient(
	chain string,
	appConfig *config.Config,
	invoiceStore *store.InvoiceStore,
	handler common.DispatchHandler,
	logger zerolog.Logger,
) (*Client, error) {
	chainCfg, ok := appConfig.GetChainConfig(chain)
	if !ok {
		return nil, uerrors.NewConfigError(chain, "no config for chain")
	}
	if appConfig.PayeeAddress == "" && chainCfg.ContractAddress == "" {
		return nil, uerrors.NewConfigError(chain, "neither a payee address nor an invoice contract to watch")
	}

	return &Client{
		chain:     chain,
		appConfig: appConfig,
		chainCfg:  chainCfg,
		store:     invoiceStore,
		handler:   handler,
		logger:    logger.With().Str("chain", chain).Logger(),
	}, nil
}

// ChainName returns the configured chain name.
func (c *Client) ChainName() string {
	return c.chain
}

// Start connects to the chain and starts the watcher and tracker loops.
func (c *Client) Start(ctx context.Context) error {
	rpc, err := NewRPCClient(c.chainCfg.RPCURLs, c.chainCfg.ChainID, c.logger)
	if err != nil {
		return fmt.Errorf("chain %s: %w", c.chain, err)
	}
	c.rpc = rpc

	payee := ethcommon.HexToAddress(c.appConfig.PayeeAddress)
	tokenAddrs := make([]ethcommon.Address, 0, len(c.chainCfg.Tokens))
	for _, addr := range c.chainCfg.Tokens {
		tokenAddrs = append(tokenAddrs, ethcommon.HexToAddress(addr))
	}

	var contractAddr *ethcommon.Address
	if c.chainCfg.ContractAddress != "" {
		addr := ethcommon.HexToAddress(c.chainCfg.ContractAddress)
		contractAddr = &addr
	}

	parser := NewEventParser(c.chain, payee, tokenAddrs, c.logger)

	c.watcher = NewPaymentWatcher(c.chain, rpc, parser, c.store, WatcherConfig{
		PollInterval: time.Duration(c.appConfig.EventPollingIntervalSeconds) * time.Second,
		SafetyWindow: c.appConfig.SafetyWindowBlocks,
		StartFrom:    c.chainCfg.EventStartFrom,
		Payee:        payee,
		TokenAddrs:   tokenAddrs,
		ContractAddr: contractAddr,
	}, c.logger)

	required, err := c.appConfig.RequiredConfirmations(c.chain)
	if err != nil {
		return err
	}
	c.tracker = common.NewConfirmationTracker(
		c.chain,
		required,
		time.Duration(c.appConfig.ConfirmationPollIntervalSeconds)*time.Second,
		c.store,
		rpc,
		c.logger,
	)
	c.tracker.SetDispatchHandler(c.handler)

	if err := c.watcher.Start(ctx); err != nil {
		return err
	}
	c.tracker.Start(ctx)

	c.logger.Info().
		Uint64("required_confirmations", required).
		Int("token_count", len(tokenAddrs)).
		Bool("invoice_contract", contractAddr != nil).
		Msg("chain client started")
	return nil
}

// Stop shuts down the watcher and tracker and closes the RPC pool.
func (c *Client) Stop() error {
	if c.watcher != nil {
		c.watcher.Stop()
	}
	if c.tracker != nil {
		c.tracker.Stop()
	}
	if c.rpc != nil {
		c.rpc.Close()
	}
	c.logger.Info().Msg("chain client stopped")
	return nil
}

// IsHealthy reports whether the RPC pool answers head queries.
func (c *Client) IsHealthy() bool {
	if c.rpc == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rpc.IsHealthy(ctx)
}
