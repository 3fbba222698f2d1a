package store_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Uuuuu77/agentpay-sub000/store"
)

func TestGenerateInvoiceIDDeterministic(t *testing.T) {
	a := store.GenerateInvoiceID("LOGO", "100000000", "0xpayee", 1700000000)
	b := store.GenerateInvoiceID("LOGO", "100000000", "0xpayee", 1700000000)
	assert.Equal(t, a, b)
}

func TestGenerateInvoiceIDFormat(t *testing.T) {
	id := store.GenerateInvoiceID("LOGO", "100000000", "0xpayee", 1700000000)
	assert.Regexp(t, regexp.MustCompile(`^0x[0-9a-f]{64}$`), id)
}

func TestGenerateInvoiceIDVariesWithInputs(t *testing.T) {
	base := store.GenerateInvoiceID("LOGO", "100000000", "0xpayee", 1700000000)

	assert.NotEqual(t, base, store.GenerateInvoiceID("BANNER", "100000000", "0xpayee", 1700000000))
	assert.NotEqual(t, base, store.GenerateInvoiceID("LOGO", "200000000", "0xpayee", 1700000000))
	assert.NotEqual(t, base, store.GenerateInvoiceID("LOGO", "100000000", "0xother", 1700000000))
	assert.NotEqual(t, base, store.GenerateInvoiceID("LOGO", "100000000", "0xpayee", 1700000001))
}
