package gateway

import (
	"encoding/json"
	"strings"
)

// Normalised payment status descriptions.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusInvalid   = "INVALID"
	StatusReversed  = "REVERSED"
	StatusPending   = "PENDING"
	StatusUnknown   = "UNKNOWN"
)

// Registration is what the gateway needs to open a payment for an order.
type Registration struct {
	MerchantReference string
	Amount            float64
	Currency          string
	Description       string
	CallbackURL       string
	NotificationID    string
	Email             string
	Phone             string
}

// RegisterResult is a successful order registration.
type RegisterResult struct {
	TrackingID  string
	RedirectURL string
}

// TransactionStatus is the normalised answer of a status query. Code is -1 when the vendor
// omitted it; Description is one of the Status* constants.
type TransactionStatus struct {
	Code              int
	Description       string
	RawDescription    string
	MerchantReference string
	ConfirmationCode  string
	PaymentMethod     string
}

type vendorError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *vendorError) empty() bool {
	return e == nil || (e.Code == "" && e.Message == "" && e.ErrorType == "")
}

// envelope holds the fields every vendor response carries.
type envelope struct {
	Error   *vendorError `json:"error"`
	Status  string       `json:"status"`
	Message string       `json:"message"`
}

type tokenResponse struct {
	envelope
	Token      string `json:"token"`
	ExpiryDate string `json:"expiryDate"`
}

type billingAddress struct {
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}

type submitOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         json.Number    `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress billingAddress `json:"billing_address"`
}

type submitOrderResponse struct {
	envelope
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	RedirectURL       string `json:"redirect_url"`
}

type statusResponse struct {
	envelope
	PaymentMethod            string `json:"payment_method"`
	PaymentStatusDescription string `json:"payment_status_description"`
	StatusCode               *int   `json:"status_code"`
	MerchantReference        string `json:"merchant_reference"`
	ConfirmationCode         string `json:"confirmation_code"`
}

type registerIPNRequest struct {
	URL              string `json:"url"`
	NotificationType string `json:"ipn_notification_type"`
}

type registerIPNResponse struct {
	envelope
	IPNID string `json:"ipn_id"`
}

var codeDescriptions = map[int]string{
	0: StatusInvalid,
	1: StatusCompleted,
	2: StatusFailed,
	3: StatusReversed,
}

// reported reports whether the vendor answered with any payment status field.
func (r statusResponse) reported() bool {
	return r.PaymentStatusDescription != "" || r.StatusCode != nil
}

// normalise maps the vendor's description (preferred) or numeric code to a Status* constant.
func (r statusResponse) normalise() TransactionStatus {
	ts := TransactionStatus{
		Code:              -1,
		RawDescription:    r.PaymentStatusDescription,
		MerchantReference: r.MerchantReference,
		ConfirmationCode:  r.ConfirmationCode,
		PaymentMethod:     r.PaymentMethod,
		Description:       StatusUnknown,
	}
	if r.StatusCode != nil {
		ts.Code = *r.StatusCode
	}

	desc := strings.ToUpper(strings.TrimSpace(r.PaymentStatusDescription))
	switch {
	case desc != "":
		ts.Description = desc
	case ts.Code >= 0:
		if d, ok := codeDescriptions[ts.Code]; ok {
			ts.Description = d
		}
	}
	return ts
}
