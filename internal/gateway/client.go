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
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	tokenPath       = "/api/Auth/RequestToken"
	submitOrderPath = "/api/Transactions/SubmitOrderRequest"
	statusPath      = "/api/Transactions/GetTransactionStatus"
	registerIPNPath = "/api/URLSetup/RegisterIPN"

	// tokens are refreshed this long before the vendor-declared expiry
	tokenSkew = 30 * time.Second
	// used when the vendor's expiry date cannot be parsed
	defaultTokenTTL = 5 * time.Minute
	maxBodyBytes    = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	// Timeout bounds each call; defaults to 12s.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is the payment gateway adapter. It owns the OAuth token cache; it never retries a
// business call, except once with a fresh token after a 401.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	timeout        time.Duration
	http           *http.Client
	nowFunc        func() time.Time

	tokens    singleflight.Group
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New returns a gateway Client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		timeout:        cfg.Timeout,
		http:           cfg.HTTPClient,
		nowFunc:        time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = 12 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Token returns a bearer token, requesting a new one when none is cached or it is about to expire.
// Concurrent callers share one request; no lock is held while it is in flight.
func (c *Client) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}
	v, err, _ := c.tokens.Do("token", func() (interface{}, error) {
		if tok, ok := c.cachedToken(); ok {
			return tok, nil
		}
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.nowFunc().Before(c.expiresAt.Add(-tokenSkew)) {
		return c.token, true
	}
	return "", false
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	var resp tokenResponse
	body := map[string]string{
		"consumer_key":    c.consumerKey,
		"consumer_secret": c.consumerSecret,
	}
	if _, err := c.do(ctx, "token", http.MethodPost, tokenPath, "", body, &resp); err != nil {
		return "", err
	}
	if err := checkEnvelope("token", http.StatusOK, resp.envelope); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{Op: "token", StatusCode: http.StatusOK, Message: "response carried no token"}
	}

	expires, err := time.Parse(time.RFC3339Nano, resp.ExpiryDate)
	if err != nil {
		expires = c.nowFunc().Add(defaultTokenTTL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = resp.Token
	c.expiresAt = expires
	return resp.Token, nil
}

func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

// RegisterOrder opens a payment for r and returns the gateway tracking id and redirect URL.
func (c *Client) RegisterOrder(ctx context.Context, r Registration) (RegisterResult, error) {
	req := submitOrderRequest{
		ID:             r.MerchantReference,
		Currency:       r.Currency,
		Amount:         json.Number(decimal.NewFromFloat(r.Amount).StringFixed(2)),
		Description:    truncate(r.Description, 100),
		CallbackURL:    r.CallbackURL,
		NotificationID: r.NotificationID,
		BillingAddress: billingAddress{EmailAddress: r.Email, PhoneNumber: r.Phone},
	}

	var resp submitOrderResponse
	if err := c.authorized(ctx, "register_order", http.MethodPost, submitOrderPath, req, &resp); err != nil {
		return RegisterResult{}, err
	}
	if resp.OrderTrackingID == "" {
		return RegisterResult{}, &Error{Op: "register_order", StatusCode: http.StatusOK, Message: "response carried no order_tracking_id"}
	}
	return RegisterResult{TrackingID: resp.OrderTrackingID, RedirectURL: resp.RedirectURL}, nil
}

// GetStatus queries the transaction status for a tracking id. Missing vendor fields yield
// StatusUnknown rather than an error.
func (c *Client) GetStatus(ctx context.Context, trackingID string) (TransactionStatus, error) {
	path := statusPath + "?orderTrackingId=" + url.QueryEscape(trackingID)

	var resp statusResponse
	err := c.authorized(ctx, "get_status", http.MethodGet, path, nil, &resp)
	if err != nil {
		// Unpaid and invalid transactions come back with an error envelope next to the status
		// fields; the status fields are the answer.
		var gerr *Error
		if !errors.As(err, &gerr) || gerr.StatusCode == 0 || !resp.reported() {
			return TransactionStatus{}, err
		}
	}
	return resp.normalise(), nil
}

// RegisterWebhook registers the IPN URL and returns the notification id to use on orders.
// method is GET or POST.
func (c *Client) RegisterWebhook(ctx context.Context, webhookURL, method string) (string, error) {
	req := registerIPNRequest{URL: webhookURL, NotificationType: strings.ToUpper(method)}

	var resp registerIPNResponse
	if err := c.authorized(ctx, "register_webhook", http.MethodPost, registerIPNPath, req, &resp); err != nil {
		return "", err
	}
	if resp.IPNID == "" {
		return "", &Error{Op: "register_webhook", StatusCode: http.StatusOK, Message: "response carried no ipn_id"}
	}
	return resp.IPNID, nil
}

// authorized performs a bearer-authenticated call, refreshing the token once on 401.
func (c *Client) authorized(ctx context.Context, op, method, path string, in, out interface{}) error {
	for attempt := 0; ; attempt++ {
		token, err := c.Token(ctx)
		if err != nil {
			return err
		}
		status, err := c.do(ctx, op, method, path, token, in, out)
		if status == http.StatusUnauthorized && attempt == 0 {
			c.invalidate(token)
			continue
		}
		if err != nil {
			return err
		}
		return checkEnvelope(op, status, envelopeOf(out))
	}
}

func (c *Client) do(ctx context.Context, op, method, path, token string, in, out interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		e := &Error{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(raw), 512)}
		var env envelope
		if json.Unmarshal(raw, &env) == nil && !env.Error.empty() {
			e.Code = env.Error.Code
			e.Message = env.Error.Message
		}
		// best effort: some error bodies still carry the operation's fields
		_ = json.Unmarshal(raw, out)
		return resp.StatusCode, e
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, &Error{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return resp.StatusCode, nil
}

// checkEnvelope turns a 2xx response that reports an error in its body into an *Error.
func checkEnvelope(op string, httpStatus int, env envelope) error {
	if !env.Error.empty() {
		msg := env.Error.Message
		if msg == "" {
			msg = env.Error.ErrorType
		}
		return &Error{Op: op, StatusCode: httpStatus, Code: env.Error.Code, Message: msg}
	}
	if env.Status != "" && env.Status != "200" {
		return &Error{Op: op, StatusCode: httpStatus, Code: env.Status, Message: env.Message}
	}
	return nil
}

func envelopeOf(out interface{}) envelope {
	switch v := out.(type) {
	case *submitOrderResponse:
		return v.envelope
	case *statusResponse:
		return v.envelope
	case *registerIPNResponse:
		return v.envelope
	case *tokenResponse:
		return v.envelope
	}
	return envelope{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
