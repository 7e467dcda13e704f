// Package mock provides in-memory fakes of the remote ledger, job
// store, and change-notification transport for testing.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opgate/opgate"
)

// Ledger is an in-memory balance ledger. It enforces the same
// approval-time balance check a real ledger would.
type Ledger struct {
	mu           sync.Mutex
	ttl          time.Duration
	latency      time.Duration
	balances     map[opgate.ResourceType]opgate.Balance
	reservations map[string]opgate.Reservation

	createErr  error
	approveErr error
	rejectErr  error
	balanceErr error

	createCalls  atomic.Int64
	approveCalls atomic.Int64
	rejectCalls  atomic.Int64
	balanceCalls atomic.Int64
}

var _ opgate.Ledger = (*Ledger)(nil)

// LedgerOption configures a mock Ledger.
type LedgerOption func(*Ledger)

// WithTTL sets the expiry window issued on new reservations.
func WithTTL(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.ttl = d }
}

// WithLatency adds simulated latency to create and approve calls.
func WithLatency(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.latency = d }
}

// WithBalance sets the balance for a resource type.
func WithBalance(rt opgate.ResourceType, b opgate.Balance) LedgerOption {
	return func(l *Ledger) { l.balances[rt] = b }
}

// WithCreateError makes CreateReservation always return this error.
func WithCreateError(err error) LedgerOption {
	return func(l *Ledger) { l.createErr = err }
}

// WithApproveError makes ApproveReservation always return this error.
func WithApproveError(err error) LedgerOption {
	return func(l *Ledger) { l.approveErr = err }
}

// WithRejectError makes RejectReservation always return this error.
func WithRejectError(err error) LedgerOption {
	return func(l *Ledger) { l.rejectErr = err }
}

// WithBalanceError makes Balance always return this error.
func WithBalanceError(err error) LedgerOption {
	return func(l *Ledger) { l.balanceErr = err }
}

// NewLedger creates a mock ledger with the given options.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		ttl:          60 * time.Second,
		balances:     make(map[opgate.ResourceType]opgate.Balance),
		reservations: make(map[string]opgate.Reservation),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetBalance replaces the balance for a resource type.
func (l *Ledger) SetBalance(rt opgate.ResourceType, b opgate.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[rt] = b
}

func (l *Ledger) CreateReservation(ctx context.Context, req opgate.ReservationRequest) (opgate.Reservation, error) {
	l.createCalls.Add(1)

	if err := l.sleep(ctx); err != nil {
		return opgate.Reservation{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.createErr != nil {
		return opgate.Reservation{}, l.createErr
	}

	now := time.Now()
	res := opgate.Reservation{
		ID:           uuid.New().String(),
		SubjectID:    req.SubjectID,
		ResourceType: req.ResourceType,
		Amount:       req.Amount,
		Description:  req.Description,
		CreatedAt:    now,
		ExpiresAt:    now.Add(l.ttl),
		State:        opgate.ReservationPending,
	}
	l.reservations[res.ID] = res
	return res, nil
}

func (l *Ledger) ApproveReservation(ctx context.Context, reservationID string) error {
	l.approveCalls.Add(1)

	if err := l.sleep(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.approveErr != nil {
		return l.approveErr
	}

	res, ok := l.reservations[reservationID]
	if !ok {
		return opgate.ErrReservationNotFound
	}

	// Approval-time balance check: the balance may have changed since
	// the reservation was created.
	bal := l.balances[res.ResourceType]
	if res.Amount > bal.Remaining {
		return opgate.ErrInsufficientBalance
	}

	bal.Used += res.Amount
	bal.Remaining -= res.Amount
	l.balances[res.ResourceType] = bal

	res.State = opgate.ReservationApproved
	l.reservations[reservationID] = res
	return nil
}

func (l *Ledger) RejectReservation(_ context.Context, reservationID string) error {
	l.rejectCalls.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rejectErr != nil {
		return l.rejectErr
	}

	if res, ok := l.reservations[reservationID]; ok {
		res.State = opgate.ReservationRejected
		l.reservations[reservationID] = res
	}
	return nil
}

func (l *Ledger) Balance(_ context.Context, _ string) (map[opgate.ResourceType]opgate.Balance, error) {
	l.balanceCalls.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balanceErr != nil {
		return nil, l.balanceErr
	}

	out := make(map[opgate.ResourceType]opgate.Balance, len(l.balances))
	for rt, b := range l.balances {
		out[rt] = b
	}
	return out, nil
}

func (l *Ledger) sleep(ctx context.Context) error {
	if l.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(l.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reservation returns the stored reservation, if any.
func (l *Ledger) Reservation(id string) (opgate.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[id]
	return res, ok
}

// CreateCalls returns the number of CreateReservation calls.
func (l *Ledger) CreateCalls() int64 { return l.createCalls.Load() }

// ApproveCalls returns the number of ApproveReservation calls.
func (l *Ledger) ApproveCalls() int64 { return l.approveCalls.Load() }

// RejectCalls returns the number of RejectReservation calls.
func (l *Ledger) RejectCalls() int64 { return l.rejectCalls.Load() }

// BalanceCalls returns the number of Balance calls.
func (l *Ledger) BalanceCalls() int64 { return l.balanceCalls.Load() }
