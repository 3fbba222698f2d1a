// Package dispatch delivers payment-confirmed notifications to the
// ServiceProcessor webhook. The dispatcher is transport only: exactly-once
// semantics live in the store's dispatch ledger, owned by the pipeline.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/errors"
)

const userAgent = "AgentPay-Webhook/1.0"

// NotificationData is the payment payload carried by a webhook notification.
type NotificationData struct {
	InvoiceID   string `json:"invoiceId"`
	TxHash      string `json:"txHash"`
	Payer       string `json:"payer"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Chain       string `json:"chain"`
	ServiceType string `json:"serviceType"`
	Description string `json:"description,omitempty"`
}

// Notification is the webhook envelope.
type Notification struct {
	Type      string           `json:"type"`
	ID        string           `json:"id"`
	Timestamp int64            `json:"timestamp"`
	Data      NotificationData `json:"data"`
}

// Dispatcher posts notifications to the configured webhook with bounded
// retries and exponential backoff.
type Dispatcher struct {
	url        string
	maxRetries int
	client     *http.Client
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewDispatcher creates a webhook dispatcher. timeout bounds each attempt.
func NewDispatcher(url string, maxRetries int, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		url:        url,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
		retryDelay: time.Second,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// NotifyPaymentConfirmed delivers a payment_confirmed notification, retrying
// transient failures with doubling backoff. Returns nil only when the webhook
// acknowledged with a 2xx status.
func (d *Dispatcher) NotifyPaymentConfirmed(ctx context.Context, data NotificationData) error {
	if d.url == "" {
		return errors.NewDeliveryError("no webhook url configured", nil)
	}

	notification := Notification{
		Type:      "payment_confirmed",
		ID:        uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	attempt := 0
	cfg := &errors.RetryConfig{
		MaxAttempts:     d.maxRetries,
		InitialDelay:    d.retryDelay,
		MaxDelay:        time.Minute,
		Multiplier:      2.0,
		RetryableErrors: []errors.ErrorCode{errors.ErrCodeDelivery},
	}

	err = errors.RetryWithConfig(ctx, func() error {
		attempt++
		if err := d.post(ctx, body); err != nil {
			d.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("invoice_id", data.InvoiceID).
				Msg("webhook delivery attempt failed")
			return errors.NewDeliveryError("webhook delivery failed", err)
		}
		return nil
	}, cfg)
	if err != nil {
		return err
	}

	d.logger.Info().
		Str("invoice_id", data.InvoiceID).
		Str("tx_hash", data.TxHash).
		Str("notification_id", notification.ID).
		Int("attempts", attempt).
		Msg("delivery notification acknowledged")
	return nil
}

func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
