package orders

import "time"

// Status is the lifecycle state of an Order.
type Status string

// Order statuses
const (
	StatusPendingPayment     Status = "PENDING_PAYMENT"
	StatusPaymentFailed      Status = "PAYMENT_FAILED"
	StatusProcessing         Status = "PROCESSING"
	StatusSupplierError      Status = "SUPPLIER_ERROR"
	StatusPartiallyCompleted Status = "PARTIALLY_COMPLETED"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
	StatusExpired            Status = "EXPIRED"
)

// Order is the document persisted per engagement order. Keyed by OrderID; MerchantReference is
// unique across all orders.
type Order struct {
	OrderID           string `dynamodbav:"order_id" json:"order_id"` // PK
	MerchantReference string `dynamodbav:"merchant_reference" json:"merchant_reference"`
	GatewayTrackingID string `dynamodbav:"gateway_tracking_id,omitempty" json:"gateway_tracking_id,omitempty"`
	RedirectURL       string `dynamodbav:"redirect_url,omitempty" json:"redirect_url,omitempty"`

	UserRef     string  `dynamodbav:"user_ref" json:"user_ref"`
	Platform    string  `dynamodbav:"platform" json:"platform"`
	ServiceName string  `dynamodbav:"service_name" json:"service_name"`
	Quality     string  `dynamodbav:"quality" json:"quality"`
	TargetLink  string  `dynamodbav:"target_link" json:"target_link"`
	Quantity    int     `dynamodbav:"quantity" json:"quantity"`
	Amount      float64 `dynamodbav:"amount" json:"amount"`
	Currency    string  `dynamodbav:"currency" json:"currency"`
	BuyerEmail  string  `dynamodbav:"buyer_email,omitempty" json:"buyer_email,omitempty"`
	BuyerPhone  string  `dynamodbav:"buyer_phone,omitempty" json:"buyer_phone,omitempty"`

	Status        Status `dynamodbav:"status" json:"status"`
	PaymentStatus string `dynamodbav:"payment_status,omitempty" json:"payment_status,omitempty"` // advisory, raw gateway value

	SupplierServiceID  int64  `dynamodbav:"supplier_service_id,omitempty" json:"supplier_service_id,omitempty"`
	SupplierOrderID    string `dynamodbav:"supplier_order_id,omitempty" json:"supplier_order_id,omitempty"` // write-once
	SupplierStatus     string `dynamodbav:"supplier_status,omitempty" json:"supplier_status,omitempty"`
	SupplierRemains    int    `dynamodbav:"supplier_remains,omitempty" json:"supplier_remains,omitempty"`
	SupplierCharge     string `dynamodbav:"supplier_charge,omitempty" json:"supplier_charge,omitempty"`
	SupplierStartCount int    `dynamodbav:"supplier_start_count,omitempty" json:"supplier_start_count,omitempty"`

	SubmissionClaim     string     `dynamodbav:"submission_claim,omitempty" json:"submission_claim,omitempty"`
	SubmissionClaimedAt *time.Time `dynamodbav:"submission_claimed_at,omitempty" json:"submission_claimed_at,omitempty"`

	RegistrationAttempts int `dynamodbav:"registration_attempts,omitempty" json:"registration_attempts,omitempty"`
	SupplierAttempts     int `dynamodbav:"supplier_attempts,omitempty" json:"supplier_attempts,omitempty"`

	LastReconciledAt *time.Time `dynamodbav:"last_reconciled_at,omitempty" json:"last_reconciled_at,omitempty"`
	ErrorMessage     string     `dynamodbav:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt        time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// ListFilter narrows admin and user listings. Zero values mean "any".
type ListFilter struct {
	UserRef  string
	Statuses []Status
	Limit    int
}

func (f ListFilter) match(o *Order) bool {
	if f.UserRef != "" && o.UserRef != f.UserRef {
		return false
	}
	if len(f.Statuses) > 0 && !o.Status.In(f.Statuses...) {
		return false
	}
	return true
}
