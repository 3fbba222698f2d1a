package api

import "net/http"

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", s.handleHealth)

	// API v1 endpoints
	mux.HandleFunc("/api/v1/invoice", s.handleInvoice)
	mux.HandleFunc("/api/v1/invoices", s.handleInvoices)
	mux.HandleFunc("/api/v1/payment", s.handlePayment)
	mux.HandleFunc("/api/v1/deliveries", s.handleDeliveries)

	return mux
}
