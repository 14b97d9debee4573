package engine

import "errors"

// RejectReason identifies why an order was refused. Reasons are part of the
// API contract: clients branch on them, so they are stable strings.
type RejectReason string

const (
	ReasonScenarioNotTradable RejectReason = "scenario_not_tradable"
	ReasonInvalidQuantity     RejectReason = "invalid_quantity"
	ReasonInvalidPrice        RejectReason = "invalid_price"
	ReasonNoPrice             RejectReason = "no_price"
	ReasonInsufficientFunds   RejectReason = "insufficient_funds"
	ReasonInsufficientShares  RejectReason = "insufficient_shares"
)

// RejectError is the typed rejection returned by PlaceOrder. Carrying the
// reason as a value (rather than a formatted string) keeps handler branching
// exhaustive.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string {
	return "order rejected: " + string(e.Reason)
}

func reject(r RejectReason) error {
	return &RejectError{Reason: r}
}

var (
	// ErrOrderTerminal is returned when canceling an order that is already
	// filled, canceled, or rejected.
	ErrOrderTerminal = errors.New("engine: order is in a terminal state")

	// ErrRetriesExhausted is returned when a ledger write kept conflicting
	// with concurrent updates and the bounded retry budget ran out.
	ErrRetriesExhausted = errors.New("engine: ledger write conflict, retries exhausted")
)
