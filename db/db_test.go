package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uuuuu77/agentpay-sub000/store"
)

func TestOpenInMemoryDB(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	require.NotNil(t, database.Client())

	// Schema is migrated: all models usable.
	require.NoError(t, database.Client().Create(&store.Invoice{
		InvoiceID:       "0x01",
		ServiceType:     "LOGO",
		Payee:           "0xpayee",
		Token:           "0xtoken",
		Chain:           "polygon",
		Amount:          "100000000",
		Status:          store.StatusCreated,
		ExpiryTimestamp: 1,
	}).Error)

	var count int64
	require.NoError(t, database.Client().Model(&store.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTxHashUniqueConstraint(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	p := store.Payment{
		TxHash:      "0xdup",
		InvoiceID:   "0x01",
		Payer:       "0xp",
		Amount:      "1",
		Token:       "0xt",
		Chain:       "polygon",
		BlockNumber: 1,
		Status:      store.PaymentPending,
	}
	require.NoError(t, database.Client().Create(&p).Error)

	dup := store.Payment{
		TxHash:      "0xdup",
		InvoiceID:   "0x02",
		Payer:       "0xp",
		Amount:      "1",
		Token:       "0xt",
		Chain:       "polygon",
		BlockNumber: 2,
		Status:      store.PaymentPending,
	}
	// The uniqueness constraint is the durable idempotency boundary.
	require.Error(t, database.Client().Create(&dup).Error)
}

func TestOpenFileDB(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	database, err := OpenFileDB(dir, "agentpay.db", true)
	require.NoError(t, err)

	require.NoError(t, database.Client().Create(&store.ChainCursor{
		Chain:     "polygon",
		LastBlock: 42,
	}).Error)
	require.NoError(t, database.Close())

	// Reopen and confirm the state survived.
	database, err = OpenFileDB(dir, "agentpay.db", true)
	require.NoError(t, err)
	defer database.Close()

	var cursor store.ChainCursor
	require.NoError(t, database.Client().Where("chain = ?", "polygon").First(&cursor).Error)
	assert.Equal(t, uint64(42), cursor.LastBlock)
}

func TestCloseIsIdempotentOnFreshDB(t *testing.T) {
	database, err := OpenInMemoryDB(false)
	require.NoError(t, err)
	require.NoError(t, database.Close())
}
