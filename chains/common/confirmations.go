package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/store"
)

// TxReceipt is the chain-agnostic subset of a transaction receipt the tracker
// needs. Chain clients adapt their native receipt type into this.
type TxReceipt struct {
	BlockNumber uint64
	Success     bool
}

// ChainReader provides the chain reads the tracker performs each poll cycle.
type ChainReader interface {
	// GetLatestBlock returns the current chain head height.
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetTransactionReceipt returns the receipt for a transaction, or
	// (nil, nil) when the transaction is not (or no longer) mined.
	GetTransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error)
}

// DispatchHandler is invoked exactly when a payment crosses its required
// confirmation depth. The handler owns the invoice transition and the delivery
// notification; the payment stays pending until the handler returns nil, so a
// failed hand-off is retried on the next cycle.
type DispatchHandler interface {
	HandleConfirmedPayment(ctx context.Context, payment *store.Payment) error
}

// ConfirmationTracker re-derives confirmation depth for every pending payment
// on one chain from the current head, and hands payments that reached the
// chain's required depth to the dispatch handler.
//
// Confirmations are always recomputed from the receipt's block number, never
// accumulated, so a node switch or a reorg that moved the transaction yields
// the correct count on the next cycle.
type ConfirmationTracker struct {
	chain    string
	required uint64
	interval time.Duration
	store    *store.InvoiceStore
	reader   ChainReader
	handler  DispatchHandler
	logger   zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewConfirmationTracker creates a tracker for one chain.
func NewConfirmationTracker(
	chain string,
	required uint64,
	interval time.Duration,
	invoiceStore *store.InvoiceStore,
	reader ChainReader,
	logger zerolog.Logger,
) *ConfirmationTracker {
	if required == 0 {
		required = 3
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ConfirmationTracker{
		chain:    chain,
		required: required,
		interval: interval,
		store:    invoiceStore,
		reader:   reader,
		logger: logger.With().
			Str("component", "confirmation_tracker").
			Str("chain", chain).
			Logger(),
		stopCh: make(chan struct{}),
	}
}

// SetDispatchHandler sets the handler invoked for confirmed payments.
func (ct *ConfirmationTracker) SetDispatchHandler(handler DispatchHandler) {
	ct.handler = handler
}

// RequiredConfirmations returns the tracker's configured depth.
func (ct *ConfirmationTracker) RequiredConfirmations() uint64 {
	return ct.required
}

// Start begins the periodic confirmation polling loop.
func (ct *ConfirmationTracker) Start(ctx context.Context) {
	ct.wg.Add(1)
	go func() {
		defer ct.wg.Done()

		ticker := time.NewTicker(ct.interval)
		defer ticker.Stop()

		ct.logger.Info().
			Uint64("required_confirmations", ct.required).
			Dur("interval", ct.interval).
			Msg("confirmation tracker started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-ct.stopCh:
				return
			case <-ticker.C:
				if err := ct.CheckConfirmations(ctx); err != nil {
					ct.logger.Error().Err(err).Msg("confirmation check failed")
				}
			}
		}
	}()
}

// Stop terminates the polling loop and waits for it to exit.
func (ct *ConfirmationTracker) Stop() {
	close(ct.stopCh)
	ct.wg.Wait()
}

// CheckConfirmations runs one confirmation cycle: fetch the head, recompute
// depth for every pending payment on this chain, and hand over the ones that
// reached the threshold.
func (ct *ConfirmationTracker) CheckConfirmations(ctx context.Context) error {
	head, err := ct.reader.GetLatestBlock(ctx)
	if err != nil {
		return err
	}

	pending, err := ct.store.GetPendingPayments(ct.chain)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	ct.logger.Debug().
		Uint64("head", head).
		Int("pending_count", len(pending)).
		Msg("updating confirmations")

	for i := range pending {
		p := &pending[i]

		receipt, err := ct.reader.GetTransactionReceipt(ctx, p.TxHash)
		if err != nil {
			ct.logger.Error().
				Err(err).
				Str("tx_hash", p.TxHash).
				Msg("receipt lookup failed, will retry")
			continue
		}
		if receipt == nil {
			// Dropped or reorged out of the canonical chain. Keep pending;
			// it either reappears in a later block or stays unconfirmed.
			ct.logger.Warn().
				Str("tx_hash", p.TxHash).
				Msg("transaction no longer mined")
			continue
		}
		if !receipt.Success {
			ct.logger.Warn().
				Str("tx_hash", p.TxHash).
				Msg("transaction reverted, skipping")
			continue
		}

		var confirmations uint64
		if head >= receipt.BlockNumber {
			confirmations = head - receipt.BlockNumber
		}

		if err := ct.store.UpdatePaymentConfirmations(p.TxHash, confirmations); err != nil {
			ct.logger.Error().
				Err(err).
				Str("tx_hash", p.TxHash).
				Msg("failed to update payment confirmations")
			continue
		}

		if confirmations < ct.required {
			ct.logger.Debug().
				Str("tx_hash", p.TxHash).
				Uint64("confirmations", confirmations).
				Uint64("required", ct.required).
				Msg("payment below confirmation threshold")
			continue
		}

		if ct.handler != nil {
			if err := ct.handler.HandleConfirmedPayment(ctx, p); err != nil {
				ct.logger.Error().
					Err(err).
					Str("tx_hash", p.TxHash).
					Msg("confirmed payment hand-off failed, will retry")
				// Payment stays pending so the next cycle retries.
				continue
			}
		}

		if err := ct.store.MarkPaymentConfirmed(p.TxHash, confirmations); err != nil {
			ct.logger.Error().
				Err(err).
				Str("tx_hash", p.TxHash).
				Msg("failed to mark payment confirmed")
			continue
		}

		ct.logger.Info().
			Str("tx_hash", p.TxHash).
			Str("invoice_id", p.InvoiceID).
			Uint64("confirmations", confirmations).
			Uint64("required", ct.required).
			Msg("payment confirmed")
	}

	return nil
}
