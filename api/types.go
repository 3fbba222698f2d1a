package api

// QueryResponse wraps successful query results.
type QueryResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse is the error payload for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports service and per-chain health.
type HealthResponse struct {
	Status string          `json:"status"`
	Chains map[string]bool `json:"chains,omitempty"`
}

// CreateInvoiceRequest opens a new invoice. Amount is in token base units.
type CreateInvoiceRequest struct {
	ServiceType     string `json:"serviceType"`
	Description     string `json:"description,omitempty"`
	Payee           string `json:"payee"`
	Token           string `json:"token"`
	Chain           string `json:"chain"`
	Amount          string `json:"amount"`
	ExpiryTimestamp int64  `json:"expiryTimestamp,omitempty"`
}

// DeliveryRequest is the ServiceProcessor's completion callback payload.
type DeliveryRequest struct {
	InvoiceID      string `json:"invoiceId"`
	DeliverableURL string `json:"deliverableUrl"`
}

// DeliveryResponse acknowledges a recorded delivery.
type DeliveryResponse struct {
	InvoiceID string `json:"invoiceId"`
	Status    string `json:"status"`
}
