package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uuuuu77/agentpay-sub000/config"
	"github.com/Uuuuu77/agentpay-sub000/db"
	"github.com/Uuuuu77/agentpay-sub000/store"
)

func newReconcilerFixture(t *testing.T) (*Reconciler, *store.InvoiceStore, *fakeNotifier) {
	t.Helper()

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{
		ReconcileIntervalSeconds: 300,
		StalledAfterSeconds:      900,
	}
	invoiceStore := store.NewInvoiceStore(database.Client())
	notifier := &fakeNotifier{}
	return NewReconciler(cfg, invoiceStore, notifier, zerolog.Nop()), invoiceStore, notifier
}

// ageInvoice pushes an invoice's updated_at into the past so the stalled
// query picks it up.
func ageInvoice(t *testing.T, s *store.InvoiceStore, invoiceID string, age time.Duration) {
	t.Helper()
	require.NoError(t, s.DB().
		Model(&store.Invoice{}).
		Where("invoice_id = ?", invoiceID).
		Update("updated_at", time.Now().Add(-age)).Error)
}

func TestSweepCancelsExpiredInvoices(t *testing.T) {
	r, s, _ := newReconcilerFixture(t)
	seedInvoice(t, s, "0xexpired", time.Now().Add(-time.Minute).Unix())
	seedInvoice(t, s, "0xopen", time.Now().Add(time.Hour).Unix())

	r.Sweep(context.Background())

	inv, err := s.GetInvoice("0xexpired")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, inv.Status)

	inv, err = s.GetInvoice("0xopen")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCreated, inv.Status)
}

func TestSweepRedispatchesStalledInvoice(t *testing.T) {
	r, s, notifier := newReconcilerFixture(t)
	seedInvoice(t, s, "0xinv1", time.Now().Add(time.Hour).Unix())

	// Drive the invoice to IN_PROGRESS the way the pipeline would.
	_, err := s.UpdateInvoiceStatus("0xinv1", store.StatusPaid, store.StatusCreated, map[string]interface{}{
		"tx_hash": "0xabc",
		"payer":   "0xpayer",
	})
	require.NoError(t, err)
	_, err = s.UpdateInvoiceStatus("0xinv1", store.StatusInProgress, store.StatusPaid, nil)
	require.NoError(t, err)
	created, err := s.RecordPayment(&store.Payment{
		TxHash: "0xabc", InvoiceID: "0xinv1", Payer: "0xpayer",
		Amount: "100000000", Token: "0xtoken", Chain: "polygon", BlockNumber: 10,
	})
	require.NoError(t, err)
	require.True(t, created)
	_, err = s.RecordDispatch("0xinv1", "0xabc")
	require.NoError(t, err)

	ageInvoice(t, s, "0xinv1", time.Hour)

	r.Sweep(context.Background())

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "0xinv1", notifier.calls[0].InvoiceID)
	assert.Equal(t, "0xabc", notifier.calls[0].TxHash)
	assert.Equal(t, "100000000", notifier.calls[0].Amount)

	// The invoice was touched, so the next sweep leaves it alone.
	r.Sweep(context.Background())
	assert.Len(t, notifier.calls, 1)
}

func TestSweepSkipsRecentInProgress(t *testing.T) {
	r, s, notifier := newReconcilerFixture(t)
	seedInvoice(t, s, "0xinv1", time.Now().Add(time.Hour).Unix())

	_, err := s.UpdateInvoiceStatus("0xinv1", store.StatusPaid, store.StatusCreated, map[string]interface{}{
		"tx_hash": "0xabc",
	})
	require.NoError(t, err)
	_, err = s.UpdateInvoiceStatus("0xinv1", store.StatusInProgress, store.StatusPaid, nil)
	require.NoError(t, err)

	r.Sweep(context.Background())
	assert.Empty(t, notifier.calls)
}

func TestSweepSkipsDeliveredInvoices(t *testing.T) {
	r, s, notifier := newReconcilerFixture(t)
	seedInvoice(t, s, "0xinv1", time.Now().Add(time.Hour).Unix())

	_, err := s.UpdateInvoiceStatus("0xinv1", store.StatusPaid, store.StatusCreated, nil)
	require.NoError(t, err)
	_, err = s.UpdateInvoiceStatus("0xinv1", store.StatusInProgress, store.StatusPaid, nil)
	require.NoError(t, err)
	_, err = s.MarkDelivered("0xinv1", "https://cdn.example.com/logo.png")
	require.NoError(t, err)

	ageInvoice(t, s, "0xinv1", time.Hour)

	r.Sweep(context.Background())
	assert.Empty(t, notifier.calls)
}

func TestReconcilerStartStop(t *testing.T) {
	r, _, _ := newReconcilerFixture(t)
	r.Start(context.Background())
	r.Stop()
}
