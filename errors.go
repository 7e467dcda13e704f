package opgate

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNotAuthenticated    = errors.New("opgate: not authenticated")
	ErrInsufficientBalance = errors.New("opgate: insufficient balance")
	ErrReservationExpired  = errors.New("opgate: reservation expired")
	ErrReservationNotFound = errors.New("opgate: reservation not found")
	ErrSessionNotFound     = errors.New("opgate: session not found")
	ErrNotPending          = errors.New("opgate: reservation is not pending")
	ErrCreateInFlight      = errors.New("opgate: reservation create already in flight")
	ErrApproveInFlight     = errors.New("opgate: approval already in flight")
	ErrLedgerUnavailable   = errors.New("opgate: ledger unavailable")
)

// LedgerError wraps a remote-call failure with protocol context.
type LedgerError struct {
	Err           error
	Op            string // "create", "approve", "reject", "balance"
	ReservationID string
}

func (e *LedgerError) Error() string {
	if e.ReservationID == "" {
		return fmt.Sprintf("opgate: op=%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("opgate: op=%s reservation=%s: %v", e.Op, e.ReservationID, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// IsTerminalErr returns true if the error ends the current reservation:
// retrying the same call cannot succeed without new user action.
func IsTerminalErr(err error) bool {
	return errors.Is(err, ErrReservationExpired) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsRetryable returns true if the error is transient and the same call
// may succeed if the user retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable)
}
