package supplier

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// Supplier order status vocabulary as reported by the panel.
const (
	StatusPending    = "Pending"
	StatusInProgress = "In progress"
	StatusProcessing = "Processing"
	StatusCompleted  = "Completed"
	StatusPartial    = "Partial"
	StatusCanceled   = "Canceled"
	StatusError      = "Error"
)

// MaxBatch is the largest id list accepted by status and cancel calls.
const MaxBatch = 100

// Service is one entry of the supplier's service list.
type Service struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"` // price per 1000 units
	Min      int             `json:"min"`
	Max      int             `json:"max"`
	Refill   bool            `json:"refill"`
	Cancel   bool            `json:"cancel"`
}

// OrderStatus is the supplier's view of one delivery order.
type OrderStatus struct {
	Status     string
	Remains    int
	StartCount int
	Charge     decimal.Decimal
	Currency   string
}

// VendorError is a per-id diagnostic returned inside an otherwise successful batch response.
type VendorError struct {
	Code    string
	Message string
}

func (e *VendorError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// StatusResult is the outcome for one id of a batch status call: Err is nil iff Status is valid.
type StatusResult struct {
	OrderID string
	Status  OrderStatus
	Err     *VendorError
}

// CancelResult is the outcome for one id of a cancel call.
type CancelResult struct {
	OrderID string
	Err     *VendorError
}

// Balance is the account balance at the supplier.
type Balance struct {
	Amount   decimal.Decimal
	Currency string
}

// flexString accepts a JSON string, number or null. The panel is inconsistent about quoting.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) int() int {
	n, err := strconv.Atoi(string(f))
	if err != nil {
		d, derr := decimal.NewFromString(string(f))
		if derr != nil {
			return 0
		}
		return int(d.IntPart())
	}
	return n
}

func (f flexString) decimal() decimal.Decimal {
	d, err := decimal.NewFromString(string(f))
	if err != nil {
		return decimal.Zero
	}
	return d
}

type rawService struct {
	Service  flexString `json:"service"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Category string     `json:"category"`
	Rate     flexString `json:"rate"`
	Min      flexString `json:"min"`
	Max      flexString `json:"max"`
	Refill   bool       `json:"refill"`
	Cancel   bool       `json:"cancel"`
}

type rawStatus struct {
	Charge     flexString `json:"charge"`
	StartCount flexString `json:"start_count"`
	Status     string     `json:"status"`
	Remains    flexString `json:"remains"`
	Currency   string     `json:"currency"`
	Error      string     `json:"error"`
}

func (r rawStatus) toStatus() OrderStatus {
	return OrderStatus{
		Status:     r.Status,
		Remains:    r.Remains.int(),
		StartCount: r.StartCount.int(),
		Charge:     r.Charge.decimal(),
		Currency:   r.Currency,
	}
}
