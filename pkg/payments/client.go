package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/config"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
)

// ProviderStatus is the normalized session status reported by the provider.
type ProviderStatus string

const (
	StatusCompleted ProviderStatus = "completed"
	StatusPending   ProviderStatus = "pending"
	StatusFailed    ProviderStatus = "failed"
)

var (
	errBaseURLRequired = errors.New("payments base url is required")
	errAPIKeyRequired  = errors.New("payments api key is required")
	errLoggerRequired  = errors.New("payments logger is required")
)

// CreateSessionParams describes the combined customer charge for one checkout.
type CreateSessionParams struct {
	AmountPaise int64    `json:"amount"`
	Currency    string   `json:"currency"`
	OrderRefs   []string `json:"orderRefs"`
}

// Session is the provider's handle for a created payment session.
type Session struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// SessionStatus is the provider's reported outcome for a session.
type SessionStatus struct {
	Status        ProviderStatus `json:"status"`
	TransactionID string         `json:"transactionId"`
	AmountPaise   int64          `json:"amount"`
}

// Client wraps the payment provider REST API with auth, logging, and error
// mapping. Statuses outside the known set are normalized to pending so a
// surprising provider response can never confirm an order.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secret     string
	logger     *logger.Logger
}

// NewClient validates the credentials and builds the wrapper.
func NewClient(ctx context.Context, cfg config.PaymentsConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		secret:     strings.TrimSpace(cfg.WebhookSecret),
		logger:     logg,
	}

	logg.Info(ctx, "payments client initialized")
	return c, nil
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.secret
}

// CreateSession registers a combined charge with the provider.
func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	if params.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session amount must be positive")
	}
	if params.Currency == "" {
		params.Currency = "INR"
	}
	c.log(ctx, "request", "create_session", map[string]any{
		"amount":     params.AmountPaise,
		"order_refs": len(params.OrderRefs),
	})

	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", params, &session); err != nil {
		c.log(ctx, "error", "create_session", map[string]any{"error": err.Error()})
		return nil, err
	}
	if session.SessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider returned empty session id")
	}

	c.log(ctx, "response", "create_session", map[string]any{"session_id": session.SessionID})
	return &session, nil
}

// GetStatus fetches the provider's outcome for a session.
func (c *Client) GetStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	c.log(ctx, "request", "get_status", map[string]any{"session_id": sessionID})

	var status SessionStatus
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, &status); err != nil {
		c.log(ctx, "error", "get_status", map[string]any{"error": err.Error()})
		return nil, err
	}
	status.Status = normalizeStatus(status.Status)

	c.log(ctx, "response", "get_status", map[string]any{
		"session_id": sessionID,
		"status":     status.Status,
	})
	return &status, nil
}

// Refund asks the provider to reverse a settled transaction.
func (c *Client) Refund(ctx context.Context, transactionID string, amountPaise int64) error {
	if strings.TrimSpace(transactionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if amountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	c.log(ctx, "request", "refund", map[string]any{"amount": amountPaise})

	body := map[string]any{"transactionId": transactionID, "amount": amountPaise}
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", body, nil); err != nil {
		c.log(ctx, "error", "refund", map[string]any{"error": err.Error()})
		return err
	}

	c.log(ctx, "response", "refund", map[string]any{"amount": amountPaise})
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		code := codeForStatus(resp.StatusCode)
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("provider responded %d", resp.StatusCode)
		}
		return pkgerrors.New(code, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding provider response")
	}
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("payments %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("payments %s", phase))
	}
}

// normalizeStatus collapses any unknown provider status to pending.
func normalizeStatus(raw ProviderStatus) ProviderStatus {
	switch raw {
	case StatusCompleted, StatusPending, StatusFailed:
		return raw
	default:
		return StatusPending
	}
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}
