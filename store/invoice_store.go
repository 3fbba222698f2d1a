package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	uerrors "github.com/Uuuuu77/agentpay-sub000/errors"
)

// InvoiceStore provides database operations for invoices, payments and the
// dispatch ledger. It is the single source of truth for idempotency
// decisions: watchers and trackers hold only transient, derivable state.
//
// Every state transition is a single conditional UPDATE guarded by the
// expected prior status, so "check current status, then transition" is atomic
// and safe to run concurrently from multiple chain workers and to re-run
// after a crash.
type InvoiceStore struct {
	client *gorm.DB
}

// NewInvoiceStore creates a new invoice store over a gorm client.
func NewInvoiceStore(client *gorm.DB) *InvoiceStore {
	return &InvoiceStore{client: client}
}

// DB exposes the underlying gorm client for callers that need raw queries.
func (s *InvoiceStore) DB() *gorm.DB {
	return s.client
}

// CreateInvoice inserts a new invoice in CREATED state.
func (s *InvoiceStore) CreateInvoice(inv *Invoice) error {
	if s.client == nil {
		return fmt.Errorf("database is nil")
	}
	if inv.InvoiceID == "" {
		return fmt.Errorf("invoice id is required")
	}
	if inv.Status == "" {
		inv.Status = StatusCreated
	}
	if err := s.client.Create(inv).Error; err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetInvoice returns an invoice by its invoice id.
func (s *InvoiceStore) GetInvoice(invoiceID string) (*Invoice, error) {
	if s.client == nil {
		return nil, fmt.Errorf("database is nil")
	}
	var inv Invoice
	if err := s.client.Where("invoice_id = ?", invoiceID).First(&inv).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &inv, nil
}

// GetInvoicesByStatus returns all invoices in the given status, oldest first.
func (s *InvoiceStore) GetInvoicesByStatus(status string) ([]Invoice, error) {
	if s.client == nil {
		return nil, fmt.Errorf("database is nil")
	}
	var invoices []Invoice
	if err := s.client.
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	return invoices, nil
}

// FindMatchingInvoice returns the oldest CREATED invoice matching the
// observed transfer's token, chain and exact amount. Oldest-first is the
// documented tie-break when several open invoices share a price.
// Returns nil when no invoice matches.
func (s *InvoiceStore) FindMatchingInvoice(token, chain, amount string) (*Invoice, error) {
	if s.client == nil {
		return nil, fmt.Errorf("database is nil")
	}
	var inv Invoice
	err := s.client.
		Where("token = ? AND chain = ? AND amount = ? AND status = ?",
			token, chain, amount, StatusCreated).
		Order("created_at ASC").
		First(&inv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to match invoice: %w", err)
	}
	return &inv, nil
}

// RecordPayment inserts a payment row for an observed transfer. The tx hash
// is the pipeline's idempotency key: if a row for it already exists the call
// is a no-op and returns (false, nil). Returns (true, nil) when a new row was
// created.
func (s *InvoiceStore) RecordPayment(p *Payment) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("database is nil")
	}
	if p.TxHash == "" {
		return false, fmt.Errorf("tx hash is required")
	}
	if p.Status == "" {
		p.Status = PaymentPending
	}

	var existing Payment
	err := s.client.Where("tx_hash = ?", p.TxHash).First(&existing).Error
	if err == nil {
		// Already recorded; duplicate observation is success, not an error.
		return false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return false, fmt.Errorf("failed to check existing payment: %w", err)
	}

	if err := s.client.Create(p).Error; err != nil {
		return false, fmt.Errorf("failed to create payment: %w", err)
	}
	return true, nil
}

// GetPaymentByTxHash returns a payment by transaction hash, or nil.
func (s *InvoiceStore) GetPaymentByTxHash(txHash string) (*Payment, error) {
	if s.client == nil {
		return nil, fmt.Errorf("database is nil")
	}
	var p Payment
	if err := s.client.Where("tx_hash = ?", txHash).First(&p).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// GetPendingPayments returns payments on a chain still below their required
// confirmation depth, oldest first.
func (s *InvoiceStore) GetPendingPayments(chain string) ([]Payment, error) {
	if s.client == nil {
		return nil, fmt.Errorf("database is nil")
	}
	var payments []Payment
	if err := s.client.
		Where("chain = ? AND status = ?", chain, PaymentPending).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to query pending payments: %w", err)
	}
	return payments, nil
}

// UpdatePaymentConfirmations sets the confirmation counter for a payment.
func (s *InvoiceStore) UpdatePaymentConfirmations(txHash string, confirmations uint64) error {
	if s.client == nil {
		return fmt.Errorf("database is nil")
	}
	res := s.client.
		Model(&Payment{}).
		Where("tx_hash = ?", txHash).
		Update("confirmations", confirmations)
	if res.Error != nil {
		return fmt.Errorf("failed to update payment confirmations: %w", res.Error)
	}
	return nil
}

// MarkPaymentConfirmed moves a payment to its terminal confirmed status.
// Guarded on the pending status; re-runs are no-ops.
func (s *InvoiceStore) MarkPaymentConfirmed(txHash string, confirmations uint64) error {
	if s.client == nil {
		return fmt.Errorf("database is nil")
	}
	res := s.client.
		Model(&Payment{}).
		Where("tx_hash = ? AND status = ?", txHash, PaymentPending).
		Updates(map[string]interface{}{
			"status":        PaymentConfirmed,
			"confirmations": confirmations,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark payment confirmed: %w", res.Error)
	}
	return nil
}

// legalEdges enumerates the only forward transitions of the invoice state
// machine. Everything else is rejected before touching the database.
var legalEdges = map[string]map[string]bool{
	StatusCreated: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusDelivered: true,
	},
}

// UpdateInvoiceStatus performs the guarded status transition
// "set status=newStatus where invoice_id=? and status=guardOldStatus" as a
// single conditional update, optionally setting extra pipeline-owned fields
// (tx_hash, payer, paid_at, deliverable_url). Returns the number of rows
// affected: 0 means the invoice was not in the expected prior state and the
// call was a no-op. An edge outside the state machine is an error regardless
// of the invoice's current state.
func (s *InvoiceStore) UpdateInvoiceStatus(invoiceID, newStatus, guardOldStatus string, extra map[string]interface{}) (int64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("database is nil")
	}
	if !legalEdges[guardOldStatus][newStatus] {
		return 0, uerrors.NewStateError("", fmt.Sprintf("illegal transition %s -> %s", guardOldStatus, newStatus))
	}

	updates := map[string]interface{}{"status": newStatus}
	for k, v := range extra {
		switch k {
		case "tx_hash", "payer", "paid_at", "deliverable_url":
			updates[k] = v
		default:
			return 0, fmt.Errorf("field %q is not mutable through the pipeline", k)
		}
	}

	res := s.client.
		Model(&Invoice{}).
		Where("invoice_id = ? AND status = ?", invoiceID, guardOldStatus).
		Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update invoice status: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkDelivered records the deliverable URL and performs the terminal
// IN_PROGRESS → DELIVERED transition. This is the ServiceProcessor's
// callback contract: a non-empty URL is required.
func (s *InvoiceStore) MarkDelivered(invoiceID, deliverableURL string) (int64, error) {
	if deliverableURL == "" {
		return 0, fmt.Errorf("deliverable url is required")
	}
	return s.UpdateInvoiceStatus(invoiceID, StatusDelivered, StatusInProgress, map[string]interface{}{
		"deliverable_url": deliverableURL,
	})
}

// CancelExpired performs the CREATED → CANCELLED edge for every invoice whose
// expiry timestamp has passed. Returns the number of invoices cancelled.
func (s *InvoiceStore) CancelExpired(now int64) (int64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("database is nil")
	}
	res := s.client.
		Model(&Invoice{}).
		Where("status = ? AND expiry_timestamp > 0 AND expiry_timestamp <= ?", StatusCreated, now).
		Update("status", StatusCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel expired invoices: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RecordDispatch durably records that the delivery notification for an
// invoice was sent and acknowledged. Insert-or-noop on invoice id: returns
// (false, nil) if a dispatch was already recorded.
func (s *InvoiceStore) RecordDispatch(invoiceID, txHash string) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("database is nil")
	}

	var existing Dispatch
	err := s.client.Where("invoice_id = ?", invoiceID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return false, fmt.Errorf("failed to check existing dispatch: %w", err)
	}

	d := Dispatch{
		InvoiceID: invoiceID,
		TxHash:    txHash,
		SentAt:    time.Now().Unix(),
	}
	if err := s.client.Create(&d).Error; err != nil {
		return false, fmt.Errorf("failed to record dispatch: %w", err)
	}
	return true, nil
}

// HasDispatch reports whether a delivery notification was already durably
// recorded for the invoice.
func (s *InvoiceStore) HasDispatch(invoiceID string) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("database is nil")
	}
	var count int64
	if err := s.client.
		Model(&Dispatch{}).
		Where("invoice_id = ?", invoiceID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query dispatches: %w", err)
	}
	return count > 0, nil
}

// TouchDispatch bumps the sent timestamp after a reconciliation re-send so
// the sweep does not hammer the same invoice every cycle.
func (s *InvoiceStore) TouchDispatch(invoiceID string) error {
	if s.client == nil {
		return fmt.Errorf("database is nil")
	}
	res := s.client.
		Model(&Dispatch{}).
		Where("invoice_id = ?", invoiceID).
		Update("sent_at", time.Now().Unix())
	if res.Error != nil {
		return fmt.Errorf("failed to touch dispatch: %w", res.Error)
	}
	return nil
}

// TouchInvoice bumps an invoice's updated_at so a periodic sweep does not
// pick the same invoice up again on the very next cycle.
func (s *InvoiceStore) TouchInvoice(invoiceID string) error {
	if s.client == nil {
		return fmt.Errorf("database is nil")
	}
	res := s.client.
		Model(&Invoice{}).
		Where("invoice_id = ?", invoiceID).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return fmt.Errorf("failed to touch invoice: %w", res.Error)
	}
	return nil
}

// GetStalledInProgress returns IN_PROGRESS invoices with no deliverable URL
// whose last update is older than the cutoff. These are the invoices a
// reconciliation sweep re-dispatches.
func (s *InvoiceStore) GetStalledInProgress(updatedBefore time.Time, limit int) ([]Invoice, error) {
	if s.client == nil {
		return nil, fmt.Errorf("database is nil")
	}
	var invoices []Invoice
	if err := s.client.
		Where("status = ? AND (deliverable_url IS NULL OR deliverable_url = '') AND updated_at < ?",
			StatusInProgress, updatedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to query stalled invoices: %w", err)
	}
	return invoices, nil
}

// GetChainCursor returns the last scanned block for a chain. Creates a new
// cursor at 0 if the chain has no durable state yet.
func (s *InvoiceStore) GetChainCursor(chain string) (uint64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("database is nil")
	}

	var cursor ChainCursor
	err := s.client.Where("chain = ?", chain).First(&cursor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			cursor = ChainCursor{Chain: chain, LastBlock: 0}
			if err := s.client.Create(&cursor).Error; err != nil {
				return 0, fmt.Errorf("failed to create chain cursor: %w", err)
			}
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get chain cursor: %w", err)
	}
	return cursor.LastBlock, nil
}

// UpdateChainCursor advances the last scanned block for a chain. The cursor
// never moves backward.
func (s *InvoiceStore) UpdateChainCursor(chain string, block uint64) error {
	if s.client == nil {
		return fmt.Errorf("database is nil")
	}

	var cursor ChainCursor
	err := s.client.Where("chain = ?", chain).First(&cursor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			cursor = ChainCursor{Chain: chain, LastBlock: block}
			if err := s.client.Create(&cursor).Error; err != nil {
				return fmt.Errorf("failed to create chain cursor: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to query chain cursor: %w", err)
	}

	if block > cursor.LastBlock {
		cursor.LastBlock = block
		if err := s.client.Save(&cursor).Error; err != nil {
			return fmt.Errorf("failed to update chain cursor: %w", err)
		}
	}
	return nil
}
