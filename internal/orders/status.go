package orders

// transitions lists every legal status edge. SupplierError -> Processing is the only edge that
// revisits an earlier state (supplier resubmission).
var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusPaymentFailed, StatusProcessing, StatusSupplierError, StatusExpired, StatusCancelled},
	StatusProcessing:     {StatusCompleted, StatusPartiallyCompleted, StatusSupplierError, StatusCancelled},
	StatusSupplierError:  {StatusProcessing, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the order lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaymentFailed, StatusProcessing, StatusSupplierError,
		StatusPartiallyCompleted, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// In reports whether s equals any of the given statuses.
func (s Status) In(statuses ...Status) bool {
	for _, x := range statuses {
		if s == x {
			return true
		}
	}
	return false
}

// ActiveStatuses are the non-terminal statuses the reconciliation sweep looks at.
func ActiveStatuses() []Status {
	return []Status{StatusPendingPayment, StatusProcessing, StatusSupplierError}
}
