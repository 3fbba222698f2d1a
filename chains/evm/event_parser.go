package evm

import (
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/chains/common"
)

var (
	// transferTopic is the ERC-20 Transfer(address,address,uint256) signature.
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// invoicePaidTopic is the invoice contract's
	// InvoicePaid(bytes32,address,address,uint256,uint256) signature, with
	// invoiceId, payer and token indexed.
	invoicePaidTopic = crypto.Keccak256Hash([]byte("InvoicePaid(bytes32,address,address,uint256,uint256)"))
)

// EventParser turns raw EVM logs into normalized payment events. Two shapes
// are recognized: ERC-20 transfers of a supported token to the payee address,
// and InvoicePaid emissions from the invoice contract.
//
// All addresses in the produced events are lowercase hex so string comparison
// against stored invoices is case-insensitive.
type EventParser struct {
	chain      string
	payeeAddr  ethcommon.Address
	tokenAddrs map[ethcommon.Address]bool
	logger     zerolog.Logger
}

// NewEventParser creates a parser for one chain.
func NewEventParser(
	chain string,
	payeeAddr ethcommon.Address,
	tokenAddrs []ethcommon.Address,
	logger zerolog.Logger,
) *EventParser {
	tokens := make(map[ethcommon.Address]bool, len(tokenAddrs))
	for _, addr := range tokenAddrs {
		tokens[addr] = true
	}
	return &EventParser{
		chain:      chain,
		payeeAddr:  payeeAddr,
		tokenAddrs: tokens,
		logger:     logger.With().Str("component", "evm_event_parser").Logger(),
	}
}

// ParseLog parses a log into a PaymentEvent, or nil when the log is not a
// payment this pipeline cares about.
func (ep *EventParser) ParseLog(log *types.Log) *common.PaymentEvent {
	if len(log.Topics) == 0 {
		return nil
	}

	switch log.Topics[0] {
	case transferTopic:
		return ep.parseTransfer(log)
	case invoicePaidTopic:
		return ep.parseInvoicePaid(log)
	default:
		return nil
	}
}

func (ep *EventParser) parseTransfer(log *types.Log) *common.PaymentEvent {
	// topics: [signature, from, to]; data: amount
	if len(log.Topics) < 3 || len(log.Data) < 32 {
		return nil
	}
	if !ep.tokenAddrs[log.Address] {
		return nil
	}

	to := ethcommon.BytesToAddress(log.Topics[2].Bytes())
	if to != ep.payeeAddr {
		return nil
	}

	from := ethcommon.BytesToAddress(log.Topics[1].Bytes())
	amount := new(big.Int).SetBytes(log.Data[:32])

	return &common.PaymentEvent{
		Chain:       ep.chain,
		EventType:   common.EventTypeTransfer,
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
		Token:       strings.ToLower(log.Address.Hex()),
		Payer:       strings.ToLower(from.Hex()),
		Amount:      amount,
	}
}

func (ep *EventParser) parseInvoicePaid(log *types.Log) *common.PaymentEvent {
	// topics: [signature, invoiceId, payer, token]; data: amount, timestamp
	if len(log.Topics) < 4 || len(log.Data) < 64 {
		ep.logger.Warn().
			Str("tx_hash", log.TxHash.Hex()).
			Int("topics", len(log.Topics)).
			Int("data_len", len(log.Data)).
			Msg("malformed InvoicePaid log")
		return nil
	}

	payer := ethcommon.BytesToAddress(log.Topics[2].Bytes())
	token := ethcommon.BytesToAddress(log.Topics[3].Bytes())
	amount := new(big.Int).SetBytes(log.Data[:32])
	timestamp := new(big.Int).SetBytes(log.Data[32:64])

	return &common.PaymentEvent{
		Chain:       ep.chain,
		EventType:   common.EventTypeInvoicePaid,
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
		Token:       strings.ToLower(token.Hex()),
		Payer:       strings.ToLower(payer.Hex()),
		Amount:      amount,
		InvoiceID:   strings.ToLower(log.Topics[1].Hex()),
		Timestamp:   timestamp.Uint64(),
	}
}

// TransferTopic returns the ERC-20 Transfer event signature hash.
func TransferTopic() ethcommon.Hash { return transferTopic }

// InvoicePaidTopic returns the InvoicePaid event signature hash.
func InvoicePaidTopic() ethcommon.Hash { return invoicePaidTopic }
