package validation

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	MerchantReference string  `json:"merchant_reference" validate:"omitempty,max=50"`          // falls back to the Idempotency-Key header
	UserRef           string  `json:"user_ref" validate:"required"`                            // opaque buyer reference
	Platform          string  `json:"platform" validate:"required"`                            // e.g. instagram
	ServiceName       string  `json:"service_name" validate:"required"`                        // e.g. followers
	Quality           string  `json:"quality,omitempty"`                                       // defaults to standard
	TargetLink        string  `json:"target_link" validate:"required,url"`                     // profile or post to deliver to
	Quantity          int     `json:"quantity" validate:"required,min=1"`                      // checked against service bounds later
	Amount            float64 `json:"amount" validate:"required,gt=0"`                         // pre-computed price
	Currency          string  `json:"currency" validate:"required,len=3"`                      // ISO 4217
	BuyerEmail        string  `json:"buyer_email,omitempty" validate:"omitempty,email"`        // billing contact
	BuyerPhone        string  `json:"buyer_phone,omitempty" validate:"omitempty,min=7,max=20"` // billing contact
}

// ForceStatusRequest is the payload for POST /admin/orders/:id/status
type ForceStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note,omitempty" validate:"max=500"`
}

// CancelRequest is the payload for POST /admin/orders/cancel
type CancelRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,max=100,dive,required"`
}

// PaymentNotification is the gateway's instant payment notification, sent as JSON, form or query.
type PaymentNotification struct {
	OrderTrackingID        string `json:"OrderTrackingId" form:"OrderTrackingId" validate:"required"`
	OrderMerchantReference string `json:"OrderMerchantReference" form:"OrderMerchantReference" validate:"required"`
	OrderNotificationType  string `json:"OrderNotificationType" form:"OrderNotificationType"`
}
