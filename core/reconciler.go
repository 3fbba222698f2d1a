package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/config"
	"github.com/Uuuuu77/agentpay-sub000/dispatch"
	"github.com/Uuuuu77/agentpay-sub000/store"
)

// stalledBatchSize caps how many stalled invoices one sweep re-dispatches.
const stalledBatchSize = 50

// Reconciler is the periodic safety net: it cancels expired invoices and
// re-sends the delivery notification for invoices stuck IN_PROGRESS with no
// deliverable, covering the case where the ServiceProcessor acknowledged a
// job and then lost it.
type Reconciler struct {
	interval     time.Duration
	stalledAfter time.Duration
	store        *store.InvoiceStore
	notifier     Notifier
	logger       zerolog.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewReconciler creates the sweep from the app configuration.
func NewReconciler(cfg *config.Config, invoiceStore *store.InvoiceStore, notifier Notifier, logger zerolog.Logger) *Reconciler {
	interval := time.Duration(cfg.ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	stalledAfter := time.Duration(cfg.StalledAfterSeconds) * time.Second
	if stalledAfter <= 0 {
		stalledAfter = 15 * time.Minute
	}
	return &Reconciler{
		interval:     interval,
		stalledAfter: stalledAfter,
		store:        invoiceStore,
		notifier:     notifier,
		logger:       logger.With().Str("component", "reconciler").Logger(),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info().
			Dur("interval", r.interval).
			Dur("stalled_after", r.stalledAfter).
			Msg("reconciler started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Sweep runs one reconciliation cycle.
func (r *Reconciler) Sweep(ctx context.Context) {
	if n, err := r.store.CancelExpired(time.Now().Unix()); err != nil {
		r.logger.Error().Err(err).Msg("failed to cancel expired invoices")
	} else if n > 0 {
		r.logger.Info().Int64("count", n).Msg("cancelled expired invoices")
	}

	r.redispatchStalled(ctx)
}

// redispatchStalled re-sends the delivery notification for invoices that have
// been IN_PROGRESS too long without a deliverable.
func (r *Reconciler) redispatchStalled(ctx context.Context) {
	cutoff := time.Now().Add(-r.stalledAfter)
	stalled, err := r.store.GetStalledInProgress(cutoff, stalledBatchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query stalled invoices")
		return
	}

	for i := range stalled {
		inv := &stalled[i]
		log := r.logger.With().Str("invoice_id", inv.InvoiceID).Logger()

		payment, err := r.store.GetPaymentByTxHash(inv.TxHash)
		if err != nil {
			log.Error().Err(err).Msg("failed to load payment for stalled invoice")
			continue
		}

		data := dispatch.NotificationData{
			InvoiceID:   inv.InvoiceID,
			TxHash:      inv.TxHash,
			Payer:       inv.Payer,
			Amount:      inv.Amount,
			Token:       inv.Token,
			Chain:       inv.Chain,
			ServiceType: inv.ServiceType,
			Description: inv.Description,
		}
		if payment != nil {
			data.Amount = payment.Amount
			data.Payer = payment.Payer
		}

		if err := r.notifier.NotifyPaymentConfirmed(ctx, data); err != nil {
			log.Error().Err(err).Msg("stalled invoice re-dispatch failed")
			continue
		}

		// The first send may never have been recorded (webhook was down when
		// the payment confirmed), so record it now. No-op when already there.
		if _, err := r.store.RecordDispatch(inv.InvoiceID, inv.TxHash); err != nil {
			log.Error().Err(err).Msg("failed to record re-dispatch")
		}
		if err := r.store.TouchInvoice(inv.InvoiceID); err != nil {
			log.Error().Err(err).Msg("failed to touch re-dispatched invoice")
		}
		if err := r.store.TouchDispatch(inv.InvoiceID); err != nil {
			log.Error().Err(err).Msg("failed to touch dispatch record")
		}
		log.Warn().Msg("re-dispatched stalled invoice")
	}
}
