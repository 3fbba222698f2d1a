// Package errors defines the settlement pipeline's error taxonomy.
//
// Failures are classified by code so that callers can decide whether to
// retry (RPC outages, receipt lookups), surface to an operator channel
// (delivery exhaustion), or treat as a logged no-op (state-transition
// replays, unmatched transfers).
package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeRPC indicates the chain RPC endpoint is unavailable or failing
	ErrCodeRPC ErrorCode = "RPC_UNAVAILABLE"

	// ErrCodeReceipt indicates a transaction receipt lookup exhausted retries
	ErrCodeReceipt ErrorCode = "RECEIPT_LOOKUP_FAILED"

	// ErrCodeDatabase indicates invoice/payment store operation errors
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeMatch indicates an observed transfer matched no pending invoice
	ErrCodeMatch ErrorCode = "NO_MATCHING_INVOICE"

	// ErrCodeDelivery indicates the delivery webhook exhausted its retries
	ErrCodeDelivery ErrorCode = "DELIVERY_UNAVAILABLE"

	// ErrCodeState indicates a transition attempted from the wrong prior state
	ErrCodeState ErrorCode = "INVALID_STATE_TRANSITION"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeTimeout indicates timeout errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	// SeverityCritical indicates errors that require immediate attention
	SeverityCritical Severity = "CRITICAL"

	// SeverityHigh indicates high priority errors
	SeverityHigh Severity = "HIGH"

	// SeverityMedium indicates medium priority errors
	SeverityMedium Severity = "MEDIUM"

	// SeverityLow indicates low priority errors
	SeverityLow Severity = "LOW"

	// SeverityInfo indicates informational errors
	SeverityInfo Severity = "INFO"
)

// PipelineError represents an error raised by the settlement pipeline,
// tagged with the chain it originated on and enough context (invoice id,
// tx hash) to support manual reconciliation.
type PipelineError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Chain    string                 `json:"chain,omitempty"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// New creates a new PipelineError
func New(code ErrorCode, chain, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:     code,
		Message:  message,
		Chain:    chain,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Chain != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Chain, e.Code, e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *PipelineError) WithSeverity(severity Severity) *PipelineError {
	e.Severity = severity
	return e
}

// IsRetryable returns true if the error is retryable
func (e *PipelineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRPC, ErrCodeReceipt, ErrCodeTimeout, ErrCodeDelivery:
		return true
	case ErrCodeDatabase:
		return e.Severity != SeverityCritical
	default:
		return false
	}
}

// determineSeverity determines the default severity based on error code
func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeDatabase, ErrCodeDelivery:
		return SeverityHigh
	case ErrCodeRPC, ErrCodeReceipt, ErrCodeTimeout:
		return SeverityMedium
	case ErrCodeMatch, ErrCodeState:
		return SeverityLow
	case ErrCodeConfig:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// NewRPCError creates an RPC availability error
func NewRPCError(chain, message string, cause error) *PipelineError {
	return New(ErrCodeRPC, chain, message, cause)
}

// NewReceiptError creates a receipt lookup error
func NewReceiptError(chain, message string, cause error) *PipelineError {
	return New(ErrCodeReceipt, chain, message, cause)
}

// NewDatabaseError creates a store operation error
func NewDatabaseError(chain, message string, cause error) *PipelineError {
	return New(ErrCodeDatabase, chain, message, cause)
}

// NewDeliveryError creates a delivery exhaustion error
func NewDeliveryError(message string, cause error) *PipelineError {
	return New(ErrCodeDelivery, "", message, cause)
}

// NewStateError creates an invalid-transition error
func NewStateError(chain, message string) *PipelineError {
	return New(ErrCodeState, chain, message, nil)
}

// NewConfigError creates a configuration error
func NewConfigError(chain, message string) *PipelineError {
	return New(ErrCodeConfig, chain, message, nil)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(chain, message string, cause error) *PipelineError {
	return New(ErrCodeTimeout, chain, message, cause)
}
