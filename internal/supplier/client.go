package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each call; defaults to 15s.
	Timeout time.Duration
	// RPS throttles outbound calls; 0 disables throttling.
	RPS        float64
	HTTPClient *http.Client
}

// Client talks to the supplier panel: a single endpoint, form-encoded POST, `action` selecting
// the operation and `key` authenticating. Calls are never retried here.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a supplier Client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

// Services returns the full service list.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var raw []rawService
	if err := c.call(ctx, "services", url.Values{}, &raw); err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseInt(string(r.Service), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Service{
			ID:       id,
			Name:     r.Name,
			Type:     r.Type,
			Category: r.Category,
			Rate:     r.Rate.decimal(),
			Min:      r.Min.int(),
			Max:      r.Max.int(),
			Refill:   r.Refill,
			Cancel:   r.Cancel,
		})
	}
	return out, nil
}

// PlaceOrder submits a delivery order and returns the supplier order id.
func (c *Client) PlaceOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error) {
	params := url.Values{}
	params.Set("service", strconv.FormatInt(serviceID, 10))
	params.Set("link", link)
	params.Set("quantity", strconv.Itoa(quantity))

	var resp struct {
		Order flexString `json:"order"`
	}
	if err := c.call(ctx, "add", params, &resp); err != nil {
		return "", err
	}
	if resp.Order == "" {
		return "", &Error{Op: "add", Message: "response carried no order id"}
	}
	return string(resp.Order), nil
}

// Status returns the status of one supplier order.
func (c *Client) Status(ctx context.Context, orderID string) (OrderStatus, error) {
	params := url.Values{}
	params.Set("order", orderID)

	var raw rawStatus
	if err := c.call(ctx, "status", params, &raw); err != nil {
		return OrderStatus{}, err
	}
	return raw.toStatus(), nil
}

// BatchStatus returns one result per requested id, in request order. A vendor error for one id
// is carried in that id's result and never fails the call.
func (c *Client) BatchStatus(ctx context.Context, orderIDs []string) ([]StatusResult, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	if len(orderIDs) > MaxBatch {
		return nil, ErrTooManyIDs
	}
	params := url.Values{}
	params.Set("orders", strings.Join(orderIDs, ","))

	var raw map[string]json.RawMessage
	if err := c.call(ctx, "status", params, &raw); err != nil {
		return nil, err
	}

	results := make([]StatusResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		res := StatusResult{OrderID: id}
		msg, ok := raw[id]
		if !ok {
			res.Err = &VendorError{Code: "missing", Message: "id absent from batch response"}
			results = append(results, res)
			continue
		}
		var st rawStatus
		switch err := json.Unmarshal(msg, &st); {
		case err != nil:
			res.Err = &VendorError{Code: "decode", Message: err.Error()}
		case st.Error != "":
			res.Err = &VendorError{Message: st.Error}
		default:
			res.Status = st.toStatus()
		}
		results = append(results, res)
	}
	return results, nil
}

// Balance returns the account balance.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var resp struct {
		Balance  flexString `json:"balance"`
		Currency string     `json:"currency"`
	}
	if err := c.call(ctx, "balance", url.Values{}, &resp); err != nil {
		return Balance{}, err
	}
	return Balance{Amount: resp.Balance.decimal(), Currency: resp.Currency}, nil
}

// Refill requests a refill for a supplier order and returns the refill id.
func (c *Client) Refill(ctx context.Context, orderID string) (string, error) {
	params := url.Values{}
	params.Set("order", orderID)

	var resp struct {
		Refill flexString `json:"refill"`
	}
	if err := c.call(ctx, "refill", params, &resp); err != nil {
		return "", err
	}
	if resp.Refill == "" {
		return "", &Error{Op: "refill", Message: "response carried no refill id"}
	}
	return string(resp.Refill), nil
}

// RefillStatus returns the status of a refill request.
func (c *Client) RefillStatus(ctx context.Context, refillID string) (string, error) {
	params := url.Values{}
	params.Set("refill", refillID)

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, "refill_status", params, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Cancel requests cancellation of up to MaxBatch supplier orders, with a result per id.
func (c *Client) Cancel(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	if len(orderIDs) > MaxBatch {
		return nil, ErrTooManyIDs
	}
	params := url.Values{}
	params.Set("orders", strings.Join(orderIDs, ","))

	var raw []struct {
		Order  flexString      `json:"order"`
		Cancel json.RawMessage `json:"cancel"`
	}
	if err := c.call(ctx, "cancel", params, &raw); err != nil {
		return nil, err
	}

	byID := make(map[string]json.RawMessage, len(raw))
	for _, r := range raw {
		byID[string(r.Order)] = r.Cancel
	}
	results := make([]CancelResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		res := CancelResult{OrderID: id}
		msg, ok := byID[id]
		if !ok {
			res.Err = &VendorError{Code: "missing", Message: "id absent from cancel response"}
		} else {
			var e struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(msg, &e) == nil && e.Error != "" {
				res.Err = &VendorError{Message: e.Error}
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *Client) call(ctx context.Context, action string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: action, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params.Set("key", c.apiKey)
	params.Set("action", action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return &Error{Op: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: action, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Op: action, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &Error{Op: action, StatusCode: resp.StatusCode, Message: truncate(string(body), 512)}
	}

	// A top-level {"error": "..."} is how the panel reports failure, usually with HTTP 200.
	var vendorErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &vendorErr) == nil && vendorErr.Error != "" {
		return &Error{Op: action, Message: vendorErr.Error}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: action, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
