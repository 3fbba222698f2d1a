package evm

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/chains/common"
	"github.com/Uuuuu77/agentpay-sub000/store"
)

// maxBlockRange caps a single eth_getLogs span. Public endpoints commonly
// reject ranges above 10k blocks.
const maxBlockRange = 9000

// chainRPC is the subset of RPCClient the watcher uses.
type chainRPC interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// WatcherConfig carries the per-chain settings of a payment watcher.
type WatcherConfig struct {
	PollInterval time.Duration
	SafetyWindow uint64 // max backfill depth when resuming
	StartFrom    *int64 // explicit first block when no cursor exists; nil means head

	Payee        ethcommon.Address
	TokenAddrs   []ethcommon.Address
	ContractAddr *ethcommon.Address // invoice contract, nil when not deployed on this chain
}

// PaymentWatcher scans one EVM chain for incoming payments: ERC-20 transfers
// of supported tokens to the payee, and InvoicePaid events from the invoice
// contract. Observed payments are matched to open invoices and recorded
// durably; the block cursor advances only after a range was fully processed,
// so a crash replays the range and the tx-hash idempotency absorbs the
// duplicates.
type PaymentWatcher struct {
	chain  string
	rpc    chainRPC
	parser *EventParser
	store  *store.InvoiceStore
	cfg    WatcherConfig
	logger zerolog.Logger

	currentBlock uint64
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewPaymentWatcher creates a watcher for one chain.
func NewPaymentWatcher(
	chain string,
	rpc chainRPC,
	parser *EventParser,
	invoiceStore *store.InvoiceStore,
	cfg WatcherConfig,
	logger zerolog.Logger,
) *PaymentWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &PaymentWatcher{
		chain:  chain,
		rpc:    rpc,
		parser: parser,
		store:  invoiceStore,
		cfg:    cfg,
		logger: logger.With().
			Str("component", "payment_watcher").
			Str("chain", chain).
			Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start resolves the resume point and begins the polling loop.
func (pw *PaymentWatcher) Start(ctx context.Context) error {
	from, err := pw.resumePoint(ctx)
	if err != nil {
		return err
	}
	pw.currentBlock = from

	pw.logger.Info().
		Uint64("from_block", from).
		Dur("poll_interval", pw.cfg.PollInterval).
		Msg("payment watcher started")

	pw.wg.Add(1)
	go func() {
		defer pw.wg.Done()

		ticker := time.NewTicker(pw.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-pw.stopCh:
				return
			case <-ticker.C:
				if err := pw.scanToHead(ctx); err != nil {
					pw.logger.Error().Err(err).Msg("scan failed")
				}
			}
		}
	}()

	return nil
}

// Stop terminates the polling loop and waits for it to exit.
func (pw *PaymentWatcher) Stop() {
	close(pw.stopCh)
	pw.wg.Wait()
}

// resumePoint computes the first block to scan: one past the durable cursor,
// clamped to the safety window below the current head. With no cursor the
// watcher starts from the configured block, or from the head.
func (pw *PaymentWatcher) resumePoint(ctx context.Context) (uint64, error) {
	head, err := pw.rpc.GetLatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	cursor, err := pw.store.GetChainCursor(pw.chain)
	if err != nil {
		return 0, err
	}

	from := head
	switch {
	case cursor > 0:
		from = cursor + 1
	case pw.cfg.StartFrom != nil && *pw.cfg.StartFrom >= 0:
		from = uint64(*pw.cfg.StartFrom)
	}

	if pw.cfg.SafetyWindow > 0 && head > pw.cfg.SafetyWindow {
		if floor := head - pw.cfg.SafetyWindow; from < floor {
			pw.logger.Warn().
				Uint64("cursor", cursor).
				Uint64("floor", floor).
				Msg("cursor behind safety window, skipping ahead")
			from = floor
		}
	}
	if from > head {
		from = head
	}
	return from, nil
}

// scanToHead processes all blocks between the watcher's position and the
// current head in bounded chunks, advancing the durable cursor after each.
func (pw *PaymentWatcher) scanToHead(ctx context.Context) error {
	head, err := pw.rpc.GetLatestBlock(ctx)
	if err != nil {
		return err
	}
	if pw.currentBlock > head {
		return nil
	}

	for from := pw.currentBlock; from <= head; {
		to := from + maxBlockRange - 1
		if to > head {
			to = head
		}

		if err := pw.scanRange(ctx, from, to); err != nil {
			return err
		}
		if err := pw.store.UpdateChainCursor(pw.chain, to); err != nil {
			return err
		}

		pw.currentBlock = to + 1
		from = pw.currentBlock
	}
	return nil
}

// scanRange fetches and processes payment logs for one block range.
func (pw *PaymentWatcher) scanRange(ctx context.Context, from, to uint64) error {
	// Transfers of supported tokens into the payee address. The payee is
	// matched in topic position 2 so the node does the filtering.
	if len(pw.cfg.TokenAddrs) > 0 {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: pw.cfg.TokenAddrs,
			Topics: [][]ethcommon.Hash{
				{transferTopic},
				nil,
				{ethcommon.BytesToHash(pw.cfg.Payee.Bytes())},
			},
		}
		if err := pw.filterAndHandle(ctx, query); err != nil {
			return err
		}
	}

	// InvoicePaid emissions from the invoice contract, where deployed.
	if pw.cfg.ContractAddr != nil {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []ethcommon.Address{*pw.cfg.ContractAddr},
			Topics:    [][]ethcommon.Hash{{invoicePaidTopic}},
		}
		if err := pw.filterAndHandle(ctx, query); err != nil {
			return err
		}
	}

	return nil
}

func (pw *PaymentWatcher) filterAndHandle(ctx context.Context, query ethereum.FilterQuery) error {
	logs, err := pw.rpc.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	for i := range logs {
		event := pw.parser.ParseLog(&logs[i])
		if event == nil {
			continue
		}
		if err := pw.handleEvent(event); err != nil {
			pw.logger.Error().
				Err(err).
				Str("tx_hash", event.TxHash).
				Msg("failed to handle payment event")
		}
	}
	return nil
}

// handleEvent resolves the invoice a payment belongs to and records it.
// InvoicePaid events carry their invoice id; plain transfers are matched by
// token, chain and exact amount against the oldest open invoice.
func (pw *PaymentWatcher) handleEvent(event *common.PaymentEvent) error {
	var invoiceID string

	switch event.EventType {
	case common.EventTypeInvoicePaid:
		inv, err := pw.store.GetInvoice(event.InvoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			pw.logger.Warn().
				Str("invoice_id", event.InvoiceID).
				Str("tx_hash", event.TxHash).
				Msg("InvoicePaid for unknown invoice, ignoring")
			return nil
		}
		invoiceID = inv.InvoiceID

	case common.EventTypeTransfer:
		inv, err := pw.store.FindMatchingInvoice(event.Token, pw.chain, event.Amount.String())
		if err != nil {
			return err
		}
		if inv == nil {
			pw.logger.Debug().
				Str("tx_hash", event.TxHash).
				Str("token", event.Token).
				Str("amount", event.Amount.String()).
				Msg("no open invoice matches transfer")
			return nil
		}
		invoiceID = inv.InvoiceID

	default:
		return nil
	}

	created, err := pw.store.RecordPayment(&store.Payment{
		TxHash:      event.TxHash,
		InvoiceID:   invoiceID,
		Payer:       event.Payer,
		Amount:      event.Amount.String(),
		Token:       event.Token,
		Chain:       pw.chain,
		BlockNumber: event.BlockNumber,
		Status:      store.PaymentPending,
	})
	if err != nil {
		return err
	}
	if created {
		pw.logger.Info().
			Str("invoice_id", invoiceID).
			Str("tx_hash", event.TxHash).
			Str("amount", event.Amount.String()).
			Uint64("block", event.BlockNumber).
			Msg("payment observed")
	}
	return nil
}
