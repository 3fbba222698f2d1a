package store

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// GenerateInvoiceID derives the deterministic invoice identifier used across
// the pipeline and the on-chain invoice contract: the keccak-256 hash of
// "<serviceType>-<amount>-<payee>-<timestamp>", hex-encoded with 0x prefix.
func GenerateInvoiceID(serviceType, amount, payee string, timestamp int64) string {
	preimage := fmt.Sprintf("%s-%s-%s-%d", serviceType, amount, payee, timestamp)
	return strings.ToLower(crypto.Keccak256Hash([]byte(preimage)).Hex())
}
