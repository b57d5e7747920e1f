package domain

// Status is the internal lifecycle state of a PaymentIntent.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSuccess           Status = "SUCCESS"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// A refund notification implies capture, so PENDING may move straight to a
// refund state when the CONFIRMED callback was lost.
var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusSuccess:           {},
		StatusFailed:            {},
		StatusCancelled:         {},
		StatusRefunded:          {},
		StatusPartiallyRefunded: {},
	},
	StatusSuccess: {
		StatusRefunded:          {},
		StatusPartiallyRefunded: {},
	},
	StatusPartiallyRefunded: {
		StatusRefunded:          {},
		StatusPartiallyRefunded: {},
	},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusCancelled, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further provider-driven transition is expected.
// SUCCESS is terminal unless a refund follows.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether an intent in from may move to to.
// Re-applying the current status is always allowed and is a no-op.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
