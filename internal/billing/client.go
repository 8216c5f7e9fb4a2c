package billing

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

	"github.com/rs/zerolog"

	"quizgen/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Options configures the ledger HTTP client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client talks to the token ledger service over JSON/HTTP. Commit and release
// carry the caller's idempotency key in the Idempotency-Key header.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

// LedgerError is a non-success response from the ledger.
type LedgerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *LedgerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger status %d", e.StatusCode)
}

type reserveRequest struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Purpose string `json:"purpose"`
}

type reservationResponse struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

type commitRequest struct {
	Amount  int64  `json:"amount"`
	Purpose string `json:"purpose"`
}

type commitResponse struct {
	Committed int64 `json:"committed"`
	Released  int64 `json:"released"`
}

type releaseRequest struct {
	Amount  int64  `json:"amount,omitempty"`
	Reason  string `json:"reason"`
	Purpose string `json:"purpose"`
}

type releaseResponse struct {
	Released int64 `json:"released"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Required  int64  `json:"required"`
	Available int64  `json:"available"`
}

// NewClient builds a ledger client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("billing base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse billing base url: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(opts.APIKey),
		client:  client,
		logger:  logger,
	}, nil
}

// Reserve places a hold of req.Amount tokens on the user's balance.
func (c *Client) Reserve(ctx context.Context, req domain.ReserveRequest) (*domain.Reservation, error) {
	var out reservationResponse
	body := reserveRequest{UserID: req.UserID, Amount: req.Amount, Purpose: req.Purpose}
	if err := c.post(ctx, "/v1/reservations", "", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("ledger returned reservation without id")
	}
	c.logger.Debug().Str("reservation_id", out.ID).Int64("amount", out.Amount).Msg("billing: reserved")
	return &domain.Reservation{ID: out.ID, Amount: out.Amount, ExpiresAt: out.ExpiresAt}, nil
}

// Commit charges req.Amount against the reservation.
func (c *Client) Commit(ctx context.Context, req domain.CommitRequest) (*domain.CommitResult, error) {
	var out commitResponse
	path := "/v1/reservations/" + url.PathEscape(req.ReservationID) + "/commit"
	body := commitRequest{Amount: req.Amount, Purpose: req.Purpose}
	if err := c.post(ctx, path, req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &domain.CommitResult{Committed: out.Committed, Released: out.Released}, nil
}

// Release returns the remaining held tokens to the user's balance.
func (c *Client) Release(ctx context.Context, req domain.ReleaseRequest) (*domain.ReleaseResult, error) {
	var out releaseResponse
	path := "/v1/reservations/" + url.PathEscape(req.ReservationID) + "/release"
	body := releaseRequest{Amount: req.Amount, Reason: req.Reason, Purpose: req.Purpose}
	if err := c.post(ctx, path, req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &domain.ReleaseResult{Released: out.Released}, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return fmt.Errorf("encode ledger request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ledger request %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return decodeLedgerError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ledger response: %w", err)
	}
	return nil
}

func decodeLedgerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorResponse
	_ = json.Unmarshal(raw, &body)
	if resp.StatusCode == http.StatusPaymentRequired || body.Error == "insufficient_funds" {
		return &domain.InsufficientFundsError{Required: body.Required, Available: body.Available}
	}
	return &LedgerError{StatusCode: resp.StatusCode, Code: body.Error, Message: body.Message}
}

var _ domain.BillingLedger = (*Client)(nil)
