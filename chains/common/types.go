package common

import (
	"context"
	"math/big"
)

// ChainClient defines the interface for chain-specific implementations
type ChainClient interface {
	// Start initializes and starts the chain client
	Start(ctx context.Context) error

	// Stop gracefully shuts down the chain client
	Stop() error

	// IsHealthy checks if the chain client is operational
	IsHealthy() bool

	// ChainName returns the configured chain name ("ethereum", "polygon", ...)
	ChainName() string
}

// PaymentEvent is a normalized on-chain payment observation, produced by the
// per-chain event parsers from either an ERC-20 Transfer to the payee or an
// InvoicePaid emission from the invoice contract.
type PaymentEvent struct {
	Chain       string
	EventType   string
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	Token       string   // token contract address, lowercase hex
	Payer       string   // sender address, lowercase hex
	Amount      *big.Int // token base units

	// InvoiceID is set only for INVOICE_PAID events; it is the bytes32
	// identifier emitted by the contract, hex-encoded with 0x prefix.
	InvoiceID string

	// Timestamp is the on-chain timestamp carried by InvoicePaid events,
	// zero for plain transfers.
	Timestamp uint64
}

// Event type enum values for event classification.
const (
	EventTypeTransfer    = "TRANSFER"
	EventTypeInvoicePaid = "INVOICE_PAID"
)
