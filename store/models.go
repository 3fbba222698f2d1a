// Package store contains the GORM-backed SQLite models and the InvoiceStore
// API used by the settlement pipeline.
//
// Database structure (database file: agentpay.db):
//
//	├── invoices       one row per billable service order
//	├── payments       one row per observed on-chain transfer (tx_hash unique)
//	├── chain_cursors  last scanned block per chain
//	└── dispatches     delivery notifications durably recorded as sent
package store

import (
	"gorm.io/gorm"
)

// Invoice statuses. Transitions only ever move forward:
// CREATED → PAID → IN_PROGRESS → DELIVERED, or CREATED → CANCELLED on expiry.
const (
	StatusCreated    = "CREATED"
	StatusPaid       = "PAID"
	StatusInProgress = "IN_PROGRESS"
	StatusDelivered  = "DELIVERED"
	StatusCancelled  = "CANCELLED"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentConfirmed = "confirmed"
)

// Invoice represents a billable service order. Created by the order flow in
// CREATED; mutated only by the pipeline afterwards. Amount is integer token
// base units carried as a decimal string, never floating point. Amount and
// Token are immutable after creation (the store exposes no way to change them).
type Invoice struct {
	gorm.Model
	InvoiceID       string `gorm:"uniqueIndex;not null"` // keccak256(serviceType-amount-payee-timestamp)
	ServiceType     string `gorm:"not null"`
	Description     string
	Payee           string `gorm:"not null"` // receiving address
	Token           string `gorm:"not null"` // token contract address
	Chain           string `gorm:"index;not null"`
	Amount          string `gorm:"not null"`       // token base units as decimal string
	Status          string `gorm:"index;not null"` // see Status* constants
	ExpiryTimestamp int64  `gorm:"not null"`       // unix seconds; payments after this are late
	Deadline        int64  // delivery deadline, unix seconds

	// Set only by the pipeline.
	TxHash         string
	Payer          string
	PaidAt         *int64
	DeliverableURL string
}

// Payment represents one on-chain transfer matched to an invoice. TxHash is
// the idempotency key for the whole pipeline: the unique index guarantees a
// re-observed transfer (reorg replay, duplicate delivery, restart) can never
// produce a second row.
type Payment struct {
	gorm.Model
	TxHash        string `gorm:"uniqueIndex;not null"`
	InvoiceID     string `gorm:"index;not null"`
	Payer         string `gorm:"not null"`
	Amount        string `gorm:"not null"`
	Token         string `gorm:"not null"`
	Chain         string `gorm:"index;not null"`
	BlockNumber   uint64 `gorm:"not null"`
	Confirmations uint64
	Status        string `gorm:"index;not null"` // "pending" or "confirmed"
}

// ChainCursor tracks the last scanned block per chain so a restarted watcher
// can backfill from its durable resume point.
type ChainCursor struct {
	gorm.Model
	Chain     string `gorm:"uniqueIndex;not null"`
	LastBlock uint64
}

// Dispatch records that a delivery notification for an invoice was sent and
// acknowledged. The unique index on InvoiceID is what makes "dispatch already
// durably recorded" a database fact rather than an in-memory flag, so a crash
// between state transition and dispatch cannot cause a duplicate send after
// restart.
type Dispatch struct {
	gorm.Model
	InvoiceID string `gorm:"uniqueIndex;not null"`
	TxHash    string
	SentAt    int64 `gorm:"not null"` // unix seconds
}
