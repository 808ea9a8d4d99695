package idempotency

import "time"

// ReferenceRecord claims a merchant reference for exactly one order. It lives in its own table so
// the claim and the order document can be written in one transaction.
type ReferenceRecord struct {
	MerchantReference string    `dynamodbav:"merchant_reference"` // PK
	OrderID           string    `dynamodbav:"order_id"`
	CreatedAt         time.Time `dynamodbav:"created_at"`
}
