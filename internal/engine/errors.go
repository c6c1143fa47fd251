package engine

import (
	"errors"
	"fmt"
)

// ErrCardOffline is matched by every card-while-offline rejection.
var ErrCardOffline = errors.New("card payments cannot be processed offline")

// ErrCashCapReached is matched by every cash order refused because the open
// offline session has reached its cash cap. Nothing is queued.
var ErrCashCapReached = errors.New("offline cash cap reached; a manager must raise the cap before taking more cash")

// Error is a submission failure the operator has to act on.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OrderID identifies the affected order, if any.
	OrderID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes submission errors.
type ErrorCode string

const (
	// ErrCodeCardOffline indicates a card payment that could not be
	// authorized online. It is never queued.
	ErrCodeCardOffline ErrorCode = "CARD_OFFLINE"

	// ErrCodeInvalidOrder indicates the order failed validation.
	ErrCodeInvalidOrder ErrorCode = "INVALID_ORDER"

	// ErrCodeRejected indicates the server refused the order outright
	// (a non-retryable 4xx). A rejected order is not queued.
	ErrCodeRejected ErrorCode = "ORDER_REJECTED"

	// ErrCodeCashCapReached indicates a cash order that would have been
	// queued into a session that has no cash headroom left.
	ErrCodeCashCapReached ErrorCode = "CASH_CAP_REACHED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.OrderID != "" {
		msg += fmt.Sprintf(" (order=%s)", e.OrderID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCardOffline returns true if err is a card-while-offline rejection.
// Uses errors.As to handle wrapped errors.
func IsCardOffline(err error) bool {
	return hasCode(err, ErrCodeCardOffline)
}

// IsInvalidOrder returns true if err is an order validation failure.
func IsInvalidOrder(err error) bool {
	return hasCode(err, ErrCodeInvalidOrder)
}

// IsRejected returns true if the server refused the order.
func IsRejected(err error) bool {
	return hasCode(err, ErrCodeRejected)
}

// IsCashCapReached returns true if a cash order was refused at the cap.
func IsCashCapReached(err error) bool {
	return hasCode(err, ErrCodeCashCapReached)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func newCardOfflineError(orderID string, cause error) *Error {
	if cause == nil {
		cause = ErrCardOffline
	} else {
		cause = fmt.Errorf("%w: %w", ErrCardOffline, cause)
	}
	return &Error{
		Code:    ErrCodeCardOffline,
		Message: "card payment needs a live connection; take cash or retry when online",
		OrderID: orderID,
		Err:     cause,
	}
}

func newCashCapError(orderID, sessionID string) *Error {
	return &Error{
		Code:    ErrCodeCashCapReached,
		Message: fmt.Sprintf("offline session %s has no cash headroom left", sessionID),
		OrderID: orderID,
		Err:     ErrCashCapReached,
	}
}
