package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapPipelineError wraps an error as a PipelineError if it isn't already one
func WrapPipelineError(err error, code ErrorCode, chain, message string) *PipelineError {
	if err == nil {
		return nil
	}

	var perr *PipelineError
	if errors.As(err, &perr) {
		perr.Context["wrapped_message"] = message
		if chain != "" && perr.Chain == "" {
			perr.Chain = chain
		}
		return perr
	}

	return New(code, chain, message, err)
}

// Is reports whether any error in err's chain matches target
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsPipelineError checks if an error is a PipelineError with a specific code
func IsPipelineError(err error, code ErrorCode) bool {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}

	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Severity
	}

	return SeverityMedium
}
