package orders

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when no order matches the requested id or reference.
	ErrNotFound = errors.New("order not found")
	// ErrStatusMismatch is returned when a conditional update's precondition no longer holds.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
)

// Repository is the transactional document store behind the reconciliation engine.
//
// Update is the only mutation path after creation: it applies p atomically iff cond holds
// against the stored document, so concurrent writers for one order serialise on it.
type Repository interface {
	// Create persists o unless an order with the same MerchantReference exists, in which case the
	// stored order is returned with created=false and nothing is written.
	Create(ctx context.Context, o Order) (stored Order, created bool, err error)
	Get(ctx context.Context, orderID string) (*Order, error)
	GetByReference(ctx context.Context, merchantReference string) (*Order, error)
	// List returns orders matching f, oldest first.
	List(ctx context.Context, f ListFilter) ([]Order, error)
	Update(ctx context.Context, orderID string, cond Condition, p Patch) (*Order, error)
}

// Condition is the precondition of a conditional update. Zero fields are not checked.
type Condition struct {
	// Statuses: current status must be one of these.
	Statuses []Status
	// SupplierOrderUnset: no supplier order id recorded yet.
	SupplierOrderUnset bool
	// NoClaim: no submission claim held.
	NoClaim bool
	// ClaimIs: the submission claim equals this token.
	ClaimIs string
	// TrackingUnset: no gateway tracking id recorded yet.
	TrackingUnset bool
}

func (c Condition) holds(o *Order) bool {
	if len(c.Statuses) > 0 && !o.Status.In(c.Statuses...) {
		return false
	}
	if c.SupplierOrderUnset && o.SupplierOrderID != "" {
		return false
	}
	if c.NoClaim && o.SubmissionClaim != "" {
		return false
	}
	if c.ClaimIs != "" && o.SubmissionClaim != c.ClaimIs {
		return false
	}
	if c.TrackingUnset && o.GatewayTrackingID != "" {
		return false
	}
	return true
}

// Patch lists the fields a conditional update writes. Nil pointers are left untouched.
// Creation-time fields (amount, quantity, selectors, link, user) have no patch slot.
type Patch struct {
	Status             *Status
	PaymentStatus      *string
	GatewayTrackingID  *string
	RedirectURL        *string
	SupplierServiceID  *int64
	SupplierOrderID    *string // write-once; stores reject the update if one is already set
	SupplierStatus     *string
	SupplierRemains    *int
	SupplierCharge     *string
	SupplierStartCount *int
	LastReconciledAt   *time.Time
	ErrorMessage       *string
	// Claim sets the submission claim token; a pointer to "" releases it.
	Claim     *string
	ClaimedAt *time.Time

	IncRegistrationAttempts bool
	IncSupplierAttempts     bool
}

func (p Patch) apply(o *Order, now time.Time) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.GatewayTrackingID != nil {
		o.GatewayTrackingID = *p.GatewayTrackingID
	}
	if p.RedirectURL != nil {
		o.RedirectURL = *p.RedirectURL
	}
	if p.SupplierServiceID != nil {
		o.SupplierServiceID = *p.SupplierServiceID
	}
	if p.SupplierOrderID != nil {
		o.SupplierOrderID = *p.SupplierOrderID
	}
	if p.SupplierStatus != nil {
		o.SupplierStatus = *p.SupplierStatus
	}
	if p.SupplierRemains != nil {
		o.SupplierRemains = *p.SupplierRemains
	}
	if p.SupplierCharge != nil {
		o.SupplierCharge = *p.SupplierCharge
	}
	if p.SupplierStartCount != nil {
		o.SupplierStartCount = *p.SupplierStartCount
	}
	if p.LastReconciledAt != nil {
		t := *p.LastReconciledAt
		o.LastReconciledAt = &t
	}
	if p.ErrorMessage != nil {
		o.ErrorMessage = *p.ErrorMessage
	}
	if p.Claim != nil {
		o.SubmissionClaim = *p.Claim
		if *p.Claim == "" {
			o.SubmissionClaimedAt = nil
		}
	}
	if p.ClaimedAt != nil && o.SubmissionClaim != "" {
		t := *p.ClaimedAt
		o.SubmissionClaimedAt = &t
	}
	if p.IncRegistrationAttempts {
		o.RegistrationAttempts++
	}
	if p.IncSupplierAttempts {
		o.SupplierAttempts++
	}
	o.UpdatedAt = now
}

// Ptr returns a pointer to v. Handy for building Patch literals.
func Ptr[T any](v T) *T { return &v }

func sortAndLimit(list []Order, limit int) []Order {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	if list == nil {
		list = []Order{}
	}
	return list
}
