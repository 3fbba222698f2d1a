package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uuuuu77/agentpay-sub000/db"
	"github.com/Uuuuu77/agentpay-sub000/store"
)

type stubHealth struct {
	chains map[string]bool
}

func (s *stubHealth) ChainHealth() map[string]bool { return s.chains }

func newServerFixture(t *testing.T) (*Server, *store.InvoiceStore) {
	t.Helper()

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	invoiceStore := store.NewInvoiceStore(database.Client())
	health := &stubHealth{chains: map[string]bool{"polygon": true, "bsc": false}}
	return NewServer(zerolog.Nop(), 0, invoiceStore, health), invoiceStore
}

func seedInvoice(t *testing.T, s *store.InvoiceStore, id, status string) {
	t.Helper()
	inv := &store.Invoice{
		InvoiceID:       id,
		ServiceType:     "LOGO",
		Payee:           "0xpayee",
		Token:           "0xtoken",
		Chain:           "polygon",
		Amount:          "100000000",
		Status:          store.StatusCreated,
		ExpiryTimestamp: time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, s.CreateInvoice(inv))

	// Walk the state machine to the requested status.
	switch status {
	case store.StatusPaid:
		_, err := s.UpdateInvoiceStatus(id, store.StatusPaid, store.StatusCreated, nil)
		require.NoError(t, err)
	case store.StatusInProgress:
		_, err := s.UpdateInvoiceStatus(id, store.StatusPaid, store.StatusCreated, nil)
		require.NoError(t, err)
		_, err = s.UpdateInvoiceStatus(id, store.StatusInProgress, store.StatusPaid, nil)
		require.NoError(t, err)
	}
}

func doRequest(s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newServerFixture(t)

	rec := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Chains["polygon"])
	assert.False(t, resp.Chains["bsc"])
}

func TestGetInvoice(t *testing.T) {
	s, invoiceStore := newServerFixture(t)
	seedInvoice(t, invoiceStore, "0xinv1", store.StatusCreated)

	rec := doRequest(s, http.MethodGet, "/api/v1/invoice?id=0xinv1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data store.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xinv1", resp.Data.InvoiceID)
	assert.Equal(t, store.StatusCreated, resp.Data.Status)
}

func TestGetInvoiceNotFound(t *testing.T) {
	s, _ := newServerFixture(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/invoice?id=0xmissing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInvoiceRequiresID(t *testing.T) {
	s, _ := newServerFixture(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/invoice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListInvoicesByStatus(t *testing.T) {
	s, invoiceStore := newServerFixture(t)
	seedInvoice(t, invoiceStore, "0xinv1", store.StatusCreated)
	seedInvoice(t, invoiceStore, "0xinv2", store.StatusPaid)

	rec := doRequest(s, http.MethodGet, "/api/v1/invoices?status=CREATED", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []store.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "0xinv1", resp.Data[0].InvoiceID)
}

func TestCreateInvoice(t *testing.T) {
	s, invoiceStore := newServerFixture(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/invoices", CreateInvoiceRequest{
		ServiceType:     "LOGO",
		Description:     "logo design",
		Payee:           "0xPAYEE",
		Token:           "0xTOKEN",
		Chain:           "polygon",
		Amount:          "100000000",
		ExpiryTimestamp: time.Now().Add(time.Hour).Unix(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data store.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, resp.Data.InvoiceID)
	assert.Equal(t, "0xpayee", resp.Data.Payee)
	assert.Equal(t, "0xtoken", resp.Data.Token)
	assert.Equal(t, store.StatusCreated, resp.Data.Status)

	inv, err := invoiceStore.GetInvoice(resp.Data.InvoiceID)
	require.NoError(t, err)
	require.NotNil(t, inv)
}

func TestCreateInvoiceValidation(t *testing.T) {
	s, _ := newServerFixture(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/invoices", CreateInvoiceRequest{
		ServiceType: "LOGO",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPayment(t *testing.T) {
	s, invoiceStore := newServerFixture(t)
	created, err := invoiceStore.RecordPayment(&store.Payment{
		TxHash: "0xabc", InvoiceID: "0xinv1", Payer: "0xpayer",
		Amount: "100000000", Token: "0xtoken", Chain: "polygon", BlockNumber: 10,
	})
	require.NoError(t, err)
	require.True(t, created)

	rec := doRequest(s, http.MethodGet, "/api/v1/payment?tx_hash=0xabc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data store.Payment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xinv1", resp.Data.InvoiceID)

	rec = doRequest(s, http.MethodGet, "/api/v1/payment?tx_hash=0xmissing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeliveryCallback(t *testing.T) {
	s, invoiceStore := newServerFixture(t)
	seedInvoice(t, invoiceStore, "0xinv1", store.StatusInProgress)

	rec := doRequest(s, http.MethodPost, "/api/v1/deliveries", DeliveryRequest{
		InvoiceID:      "0xinv1",
		DeliverableURL: "https://cdn.example.com/logo.png",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	inv, err := invoiceStore.GetInvoice("0xinv1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDelivered, inv.Status)
	assert.Equal(t, "https://cdn.example.com/logo.png", inv.DeliverableURL)
}

func TestDeliveryCallbackIdempotent(t *testing.T) {
	s, invoiceStore := newServerFixture(t)
	seedInvoice(t, invoiceStore, "0xinv1", store.StatusInProgress)

	req := DeliveryRequest{InvoiceID: "0xinv1", DeliverableURL: "https://cdn.example.com/logo.png"}
	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/api/v1/deliveries", req).Code)

	// Repeated callback for an already delivered invoice is acknowledged.
	rec := doRequest(s, http.MethodPost, "/api/v1/deliveries", req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeliveryCallbackRejectsWrongState(t *testing.T) {
	s, invoiceStore := newServerFixture(t)
	seedInvoice(t, invoiceStore, "0xinv1", store.StatusCreated)

	rec := doRequest(s, http.MethodPost, "/api/v1/deliveries", DeliveryRequest{
		InvoiceID:      "0xinv1",
		DeliverableURL: "https://cdn.example.com/logo.png",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeliveryCallbackValidation(t *testing.T) {
	s, _ := newServerFixture(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/deliveries", DeliveryRequest{InvoiceID: "0xinv1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/deliveries", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
