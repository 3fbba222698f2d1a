// Package core orchestrates the payment pipeline: it receives confirmed
// payments from the per-chain trackers, drives the invoice state machine,
// dispatches delivery notifications exactly once, and runs the periodic
// reconciliation sweep.
package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/chains"
	"github.com/Uuuuu77/agentpay-sub000/chains/common"
	"github.com/Uuuuu77/agentpay-sub000/config"
	"github.com/Uuuuu77/agentpay-sub000/db"
	"github.com/Uuuuu77/agentpay-sub000/dispatch"
	"github.com/Uuuuu77/agentpay-sub000/errors"
	"github.com/Uuuuu77/agentpay-sub000/store"
)

// Notifier delivers payment-confirmed notifications to the ServiceProcessor.
type Notifier interface {
	NotifyPaymentConfirmed(ctx context.Context, data dispatch.NotificationData) error
}

// Pipeline wires the chain clients, the invoice store and the webhook
// dispatcher into the confirmation-to-delivery flow.
type Pipeline struct {
	cfg        *config.Config
	database   *db.DB
	store      *store.InvoiceStore
	notifier   Notifier
	chains     *chains.Manager
	reconciler *Reconciler
	logger     zerolog.Logger
}

var _ common.DispatchHandler = (*Pipeline)(nil)

// NewPipeline creates the pipeline over an opened database.
func NewPipeline(cfg *config.Config, database *db.DB, notifier Notifier, logger zerolog.Logger) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		database: database,
		store:    store.NewInvoiceStore(database.Client()),
		notifier: notifier,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
	p.chains = chains.NewManager(cfg, p.store, p, logger)
	p.reconciler = NewReconciler(cfg, p.store, notifier, logger)
	return p
}

// Store returns the invoice store, shared with the HTTP server.
func (p *Pipeline) Store() *store.InvoiceStore {
	return p.store
}

// ChainHealth returns per-chain health of the running clients.
func (p *Pipeline) ChainHealth() map[string]bool {
	return p.chains.HealthStatus()
}

// Start starts the chain clients and the reconciliation sweep.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.chains.Start(ctx); err != nil {
		return err
	}
	p.reconciler.Start(ctx)
	p.logger.Info().Msg("pipeline started")
	return nil
}

// Stop shuts everything down in reverse order.
func (p *Pipeline) Stop() {
	p.reconciler.Stop()
	p.chains.Stop()
	p.logger.Info().Msg("pipeline stopped")
}

// HandleConfirmedPayment is called by a confirmation tracker when a payment
// crossed its chain's required depth. It performs the guarded invoice
// transitions and the exactly-once delivery dispatch.
//
// The whole method is safe to re-run: every transition is conditional on the
// prior status, and the dispatch ledger gates the webhook. Returning an error
// keeps the payment pending so the tracker retries on its next cycle.
func (p *Pipeline) HandleConfirmedPayment(ctx context.Context, payment *store.Payment) error {
	log := p.logger.With().
		Str("invoice_id", payment.InvoiceID).
		Str("tx_hash", payment.TxHash).
		Logger()

	inv, err := p.store.GetInvoice(payment.InvoiceID)
	if err != nil {
		return err
	}
	if inv == nil {
		// Nothing to transition; retrying will not change that.
		log.Warn().Msg("confirmed payment references unknown invoice")
		return nil
	}

	now := time.Now().Unix()
	if inv.Status == store.StatusCreated && inv.ExpiryTimestamp > 0 && inv.ExpiryTimestamp <= now {
		// Late payment: the invoice expired before the payment confirmed.
		// The funds arrived but the order is void; flag for manual handling.
		log.Warn().
			Int64("expiry", inv.ExpiryTimestamp).
			Str("payer", payment.Payer).
			Msg("payment confirmed after invoice expiry, not transitioning")
		return nil
	}
	if inv.Status == store.StatusCancelled {
		log.Warn().Msg("payment confirmed for cancelled invoice, not transitioning")
		return nil
	}

	paidAt := now
	rows, err := p.store.UpdateInvoiceStatus(inv.InvoiceID, store.StatusPaid, store.StatusCreated, map[string]interface{}{
		"tx_hash": payment.TxHash,
		"payer":   payment.Payer,
		"paid_at": paidAt,
	})
	if err != nil {
		return errors.NewDatabaseError(payment.Chain, "failed to mark invoice paid", err)
	}
	if rows > 0 {
		log.Info().Str("payer", payment.Payer).Msg("invoice paid")
	}

	// IN_PROGRESS is entered before the dispatch attempt: a crash or webhook
	// outage here leaves an IN_PROGRESS invoice with no deliverable, which is
	// exactly what the reconciliation sweep re-dispatches.
	rows, err = p.store.UpdateInvoiceStatus(inv.InvoiceID, store.StatusInProgress, store.StatusPaid, nil)
	if err != nil {
		return errors.NewDatabaseError(payment.Chain, "failed to mark invoice in progress", err)
	}
	if rows > 0 {
		log.Info().Msg("invoice handed to service processor")
	}

	// Exactly-once dispatch: the ledger row is written only after the webhook
	// acknowledged. A crash in between re-sends the notification, so delivery
	// is at-least-once on the wire but the ledger keeps steady-state sends to
	// exactly one.
	sent, err := p.store.HasDispatch(inv.InvoiceID)
	if err != nil {
		return err
	}
	if !sent {
		data := dispatch.NotificationData{
			InvoiceID:   inv.InvoiceID,
			TxHash:      payment.TxHash,
			Payer:       payment.Payer,
			Amount:      payment.Amount,
			Token:       payment.Token,
			Chain:       payment.Chain,
			ServiceType: inv.ServiceType,
			Description: inv.Description,
		}
		if err := p.notifier.NotifyPaymentConfirmed(ctx, data); err != nil {
			// Not a hand-off failure: the invoice stays IN_PROGRESS and the
			// reconciliation sweep retries the notification later.
			log.Error().Err(err).Msg("delivery notification failed, leaving invoice for reconciliation")
			return nil
		}
		if _, err := p.store.RecordDispatch(inv.InvoiceID, payment.TxHash); err != nil {
			return err
		}
	}
	return nil
}
