package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
)

var (
	errSecretKeyRequired     = errors.New("gateway secret key is required")
	errWebhookSecretRequired = errors.New("gateway webhook secret is required")
)

// ErrAmbiguous marks outcomes where the gateway's answer is unknown
// (timeouts, 5xx). Callers must leave payment state untouched.
var ErrAmbiguous = errors.New("gateway outcome ambiguous")

// Session is the redirect handle returned when a payment is initiated.
type Session struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

// VerificationResult is the gateway's authoritative answer for a reference.
type VerificationResult struct {
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	SettledAt   time.Time `json:"settled_at"`
}

// Succeeded reports whether the gateway settled the payment.
func (v VerificationResult) Succeeded() bool {
	return v.Status == "success"
}

// Client talks to the redirect payment provider over HTTPS.
type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	callbackURL   string
	httpClient    *http.Client
}

// NewClient validates the gateway configuration and builds the HTTP client.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if logg != nil {
		logg.Info(ctx, "gateway client initialized")
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		callbackURL:   cfg.CallbackURL,
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

// WebhookSecret returns the shared secret for webhook signatures.
func (c *Client) WebhookSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

type createSessionRequest struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
}

// CreateSession registers a pending charge and returns the redirect URL
// the buyer completes payment at.
func (c *Client) CreateSession(ctx context.Context, reference string, amountCents int64, currency string) (*Session, error) {
	body := createSessionRequest{
		Reference:   reference,
		AmountCents: amountCents,
		Currency:    currency,
		CallbackURL: c.callbackURL,
	}

	var session Session
	if err := c.post(ctx, "/v1/sessions", body, &session); err != nil {
		return nil, err
	}
	if session.Reference == "" || session.RedirectURL == "" {
		return nil, fmt.Errorf("gateway returned incomplete session")
	}
	return &session, nil
}

// VerifyByReference asks the gateway for the authoritative state of a charge.
func (c *Client) VerifyByReference(ctx context.Context, reference string) (*VerificationResult, error) {
	var result VerificationResult
	path := "/v1/transactions/" + url.PathEscape(reference)
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building gateway request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAmbiguous, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrAmbiguous, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: gateway returned %d", ErrAmbiguous, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("gateway rejected request with %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding gateway response: %w", err)
	}
	return nil
}
