package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Uuuuu77/agentpay-sub000/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		resp.Chains = s.health.ChainHealth()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInvoice handles GET /api/v1/invoice?id=<invoiceId>
func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "id parameter is required"})
		return
	}

	inv, err := s.store.GetInvoice(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if inv == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("invoice %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: inv})
}

// handleInvoices handles GET /api/v1/invoices?status=<status> and
// POST /api/v1/invoices to open a new invoice.
func (s *Server) handleInvoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listInvoices(w, r)
	case http.MethodPost:
		s.createInvoice(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "status parameter is required"})
		return
	}

	invoices, err := s.store.GetInvoicesByStatus(status)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: invoices})
}

func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.ServiceType == "" || req.Payee == "" || req.Token == "" || req.Chain == "" || req.Amount == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "serviceType, payee, token, chain and amount are required",
		})
		return
	}

	now := time.Now().Unix()
	inv := &store.Invoice{
		InvoiceID:       store.GenerateInvoiceID(req.ServiceType, req.Amount, req.Payee, now),
		ServiceType:     req.ServiceType,
		Description:     req.Description,
		Payee:           strings.ToLower(req.Payee),
		Token:           strings.ToLower(req.Token),
		Chain:           req.Chain,
		Amount:          req.Amount,
		Status:          store.StatusCreated,
		ExpiryTimestamp: req.ExpiryTimestamp,
	}
	if err := s.store.CreateInvoice(inv); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	s.logger.Info().
		Str("invoice_id", inv.InvoiceID).
		Str("chain", inv.Chain).
		Str("amount", inv.Amount).
		Msg("invoice created")
	writeJSON(w, http.StatusCreated, QueryResponse{Data: inv})
}

// handlePayment handles GET /api/v1/payment?tx_hash=<hash>
func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txHash := r.URL.Query().Get("tx_hash")
	if txHash == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "tx_hash parameter is required"})
		return
	}

	payment, err := s.store.GetPaymentByTxHash(txHash)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if payment == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("payment %s not found", txHash)})
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: payment})
}

// handleDeliveries handles POST /api/v1/deliveries. The ServiceProcessor
// calls this when a job completes; it performs the terminal
// IN_PROGRESS to DELIVERED transition.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.InvoiceID == "" || req.DeliverableURL == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invoiceId and deliverableUrl are required"})
		return
	}

	rows, err := s.store.MarkDelivered(req.InvoiceID, req.DeliverableURL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if rows == 0 {
		// Either the invoice does not exist or it is not IN_PROGRESS. A
		// repeated callback for an already delivered invoice lands here too.
		inv, getErr := s.store.GetInvoice(req.InvoiceID)
		if getErr == nil && inv != nil && inv.Status == store.StatusDelivered {
			writeJSON(w, http.StatusOK, DeliveryResponse{InvoiceID: req.InvoiceID, Status: inv.Status})
			return
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: fmt.Sprintf("invoice %s is not awaiting delivery", req.InvoiceID),
		})
		return
	}

	s.logger.Info().
		Str("invoice_id", req.InvoiceID).
		Str("deliverable_url", req.DeliverableURL).
		Msg("delivery recorded")
	writeJSON(w, http.StatusOK, DeliveryResponse{InvoiceID: req.InvoiceID, Status: store.StatusDelivered})
}
