// Package payment wraps the external PIX gateway. It generates charges and
// queries their status; it never retries on its own — a failed call surfaces
// to the conversation, which tells the user to try again.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/money"
)

const (
	StatusPaid    = "paid"
	StatusPending = "pending"
	StatusExpired = "expired"
)

var (
	// ErrInvalidAmount is returned for zero or negative charge amounts.
	ErrInvalidAmount = errors.New("payment: amount must be positive")

	// ErrNotConfigured is returned when no gateway credentials are set.
	ErrNotConfigured = errors.New("payment: gateway credentials not configured")
)

// ValueTooLargeError is returned when a charge exceeds the per-transaction
// ceiling. It carries the ceiling so callers can report it to the user.
type ValueTooLargeError struct {
	Ceiling money.Cents
}

func (e *ValueTooLargeError) Error() string {
	return fmt.Sprintf("payment: amount exceeds the %s ceiling", e.Ceiling.FormatBRL())
}

// Credentials identify the operator's account at the PIX gateway.
type Credentials struct {
	APIBase string
	APIKey  string
}

// Charge is a generated PIX payment request.
type Charge struct {
	ID         string
	ValueCents money.Cents
	QRCodeText string
	QRCode     string
	Status     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Status is the gateway's view of a transaction.
type Status struct {
	Status     string
	ValueCents money.Cents
}

// Paid reports whether the gateway considers the transaction settled.
func (s *Status) Paid() bool {
	return s.Status == StatusPaid
}

// Client talks to the PIX gateway. Credentials are loaded lazily on first
// use and cached; Refresh drops the cache so the next call re-loads them
// (used after the operator edits gateway config).
type Client struct {
	loadCredentials func() (Credentials, error)
	ceiling         money.Cents
	httpClient      *http.Client

	mu    sync.Mutex
	creds *Credentials
}

func NewClient(loadCredentials func() (Credentials, error), ceiling money.Cents, timeout time.Duration) *Client {
	if ceiling <= 0 {
		ceiling = 15000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		loadCredentials: loadCredentials,
		ceiling:         ceiling,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ceiling returns the per-transaction limit in cents.
func (c *Client) Ceiling() money.Cents {
	return c.ceiling
}

// Refresh discards cached credentials; the next call re-loads them.
func (c *Client) Refresh() {
	c.mu.Lock()
	c.creds = nil
	c.mu.Unlock()
	logger.InfoC("payment", "Gateway credentials cache cleared")
}

func (c *Client) credentials() (Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.creds != nil {
		return *c.creds, nil
	}

	creds, err := c.loadCredentials()
	if err != nil {
		return Credentials{}, err
	}
	if creds.APIBase == "" || creds.APIKey == "" {
		return Credentials{}, ErrNotConfigured
	}

	c.creds = &creds
	return creds, nil
}

// GeneratePix creates a charge for the given amount. Amount checks fail fast
// before any network call: non-positive amounts and amounts above the ceiling
// (boundary inclusive) are rejected locally.
func (c *Client) GeneratePix(ctx context.Context, amount money.Cents, description string) (*Charge, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > c.ceiling {
		return nil, &ValueTooLargeError{Ceiling: c.ceiling}
	}

	creds, err := c.credentials()
	if err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"value_in_cents": int64(amount),
	}
	if description != "" {
		reqBody["description"] = description
	}

	var resp chargeResponse
	if err := c.doJSON(ctx, creds, http.MethodPost, "/api/pix/cashIn", reqBody, &resp); err != nil {
		return nil, err
	}

	charge := &Charge{
		ID:         resp.ID,
		ValueCents: money.Cents(resp.Value),
		QRCodeText: resp.QRCodeText,
		QRCode:     resp.QRCode,
		Status:     resp.Status,
		CreatedAt:  parseGatewayTime(resp.CreatedAt),
		ExpiresAt:  parseGatewayTime(resp.ExpiresAt),
	}

	logger.InfoCF("payment", "PIX charge generated", map[string]interface{}{
		logger.FieldTransactionID: charge.ID,
		logger.FieldAmount:        amount.Format(),
	})

	return charge, nil
}

// CheckStatus queries a transaction. No retry or backoff: transient failures
// surface to the caller and the user re-triggers confirmation manually.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (*Status, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("payment: transaction id is required")
	}

	creds, err := c.credentials()
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := c.doJSON(ctx, creds, http.MethodGet, "/api/transactions/"+transactionID, nil, &resp); err != nil {
		return nil, err
	}

	return &Status{
		Status:     resp.Status,
		ValueCents: money.Cents(resp.Value),
	}, nil
}

type chargeResponse struct {
	ID         string `json:"id"`
	Value      int64  `json:"value"`
	QRCode     string `json:"qr_code"`
	QRCodeText string `json:"qr_code_text"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
}

type statusResponse struct {
	Status string `json:"status"`
	Value  int64  `json:"value"`
}

func (c *Client) doJSON(ctx context.Context, creds Credentials, method, path string, reqBody, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, creds.APIBase+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, string(respData))
	}

	if err := json.Unmarshal(respData, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func parseGatewayTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
