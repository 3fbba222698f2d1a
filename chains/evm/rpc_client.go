package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/chains/common"
	uerrors "github.com/Uuuuu77/agentpay-sub000/errors"
)

// rpcCallTimeout bounds every individual RPC call so a stalled provider
// cannot stall the polling or confirmation loop of its chain.
const rpcCallTimeout = 10 * time.Second

// RPCClient provides EVM RPC operations over a pool of endpoints with
// round-robin failover.
type RPCClient struct {
	clients     []*ethclient.Client
	index       uint64
	callTimeout time.Duration
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewRPCClient connects to the given RPC URLs and validates each endpoint's
// chain ID against the expected one. Endpoints that fail to connect or report
// the wrong chain are skipped; at least one usable endpoint is required.
func NewRPCClient(rpcURLs []string, expectedChainID int64, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	log := logger.With().Str("component", "evm_rpc_client").Logger()
	clients := make([]*ethclient.Client, 0, len(rpcURLs))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}

		clientChainID, err := client.ChainID(ctx)
		if err != nil {
			// Verification being slow or unavailable is not grounds to drop
			// the endpoint.
			log.Warn().
				Err(err).
				Str("url", url).
				Int64("expected_chain_id", expectedChainID).
				Msg("failed to verify chain ID, proceeding with client anyway")
			clients = append(clients, client)
			continue
		}

		if clientChainID.Int64() != expectedChainID {
			client.Close()
			log.Warn().
				Str("url", url).
				Int64("expected_chain_id", expectedChainID).
				Int64("actual_chain_id", clientChainID.Int64()).
				Msg("chain ID mismatch, closing client")
			continue
		}

		clients = append(clients, client)
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any valid RPC endpoints")
	}

	return &RPCClient{
		clients:     clients,
		callTimeout: rpcCallTimeout,
		logger:      log,
	}, nil
}

// executeWithFailover executes a function with round-robin failover. Each
// attempt runs under its own deadline so one stalled endpoint costs at most
// callTimeout before the next endpoint is tried.
func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(context.Context, *ethclient.Client) error) error {
	rc.mu.RLock()
	clients := rc.clients
	rc.mu.RUnlock()

	if len(clients) == 0 {
		return uerrors.NewRPCError("", fmt.Sprintf("no RPC clients available for %s", operation), nil)
	}

	var lastErr error
	maxAttempts := len(clients)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		index := atomic.AddUint64(&rc.index, 1) - 1
		client := clients[index%uint64(len(clients))]
		if client == nil {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, rc.callTimeout)
		err := fn(callCtx, client)
		cancel()
		if err == nil {
			return nil
		}
		// Not-found is an answer, not an endpoint failure.
		if errors.Is(err, ethereum.NotFound) {
			return err
		}
		lastErr = err

		rc.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return uerrors.NewTimeoutError("", fmt.Sprintf("operation %s timed out after trying %d endpoints", operation, maxAttempts), lastErr)
	}
	return uerrors.NewRPCError("", fmt.Sprintf("operation %s failed after trying %d endpoints", operation, maxAttempts), lastErr)
}

// IsHealthy checks if any RPC in the pool responds to a head query.
func (rc *RPCClient) IsHealthy(ctx context.Context) bool {
	rc.mu.RLock()
	hasClients := len(rc.clients) > 0
	rc.mu.RUnlock()

	if !hasClients {
		return false
	}

	_, err := rc.GetLatestBlock(ctx)
	return err == nil
}

// GetLatestBlock returns the latest block number.
func (rc *RPCClient) GetLatestBlock(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := rc.executeWithFailover(ctx, "get_block_number", func(callCtx context.Context, client *ethclient.Client) error {
		var innerErr error
		blockNum, innerErr = client.BlockNumber(callCtx)
		return innerErr
	})
	return blockNum, err
}

// FilterLogs fetches logs matching the filter query.
func (rc *RPCClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := rc.executeWithFailover(ctx, "filter_logs", func(callCtx context.Context, client *ethclient.Client) error {
		var innerErr error
		logs, innerErr = client.FilterLogs(callCtx, query)
		return innerErr
	})
	return logs, err
}

// GetTransactionReceipt fetches a transaction receipt and adapts it into the
// tracker's chain-agnostic form. Returns (nil, nil) when the transaction is
// not mined on the canonical chain.
func (rc *RPCClient) GetTransactionReceipt(ctx context.Context, txHash string) (*common.TxReceipt, error) {
	var receipt *types.Receipt
	err := rc.executeWithFailover(ctx, "get_transaction_receipt", func(callCtx context.Context, client *ethclient.Client) error {
		var innerErr error
		receipt, innerErr = client.TransactionReceipt(callCtx, ethcommon.HexToHash(txHash))
		return innerErr
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, uerrors.NewReceiptError("", fmt.Sprintf("receipt lookup failed for %s", txHash), err)
	}

	return &common.TxReceipt{
		BlockNumber: receipt.BlockNumber.Uint64(),
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

// Close closes all RPC connections.
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for _, client := range rc.clients {
		if client != nil {
			client.Close()
		}
	}
	rc.clients = nil
}
