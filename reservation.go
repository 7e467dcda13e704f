package opgate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTickInterval = time.Second

// ReservationClient mediates the create → {approve | reject | expire}
// protocol around any action that debits a metered balance. The user
// cannot be debited without an explicit, time-bounded confirmation.
type ReservationClient struct {
	ledger       Ledger
	meter        Meter
	subjectID    string
	tickInterval time.Duration
	nowFunc      func() time.Time

	mu             sync.Mutex
	createInFlight bool
}

// ClientOption configures a ReservationClient.
type ClientOption func(*ReservationClient)

// WithMeter sets the meter.
func WithMeter(m Meter) ClientOption {
	return func(c *ReservationClient) { c.meter = m }
}

// WithTickInterval sets the countdown tick interval (default 1s).
func WithTickInterval(d time.Duration) ClientOption {
	return func(c *ReservationClient) { c.tickInterval = d }
}

// WithNowFunc sets the clock used for expiry checks. Used in tests.
func WithNowFunc(fn func() time.Time) ClientOption {
	return func(c *ReservationClient) { c.nowFunc = fn }
}

// NewReservationClient creates a client for the given ledger and
// subject. An empty subjectID is allowed but every Create will fail
// with ErrNotAuthenticated until an identity is available.
func NewReservationClient(ledger Ledger, subjectID string, opts ...ClientOption) (*ReservationClient, error) {
	if ledger == nil {
		return nil, fmt.Errorf("opgate: a ledger is required")
	}

	c := &ReservationClient{
		ledger:       ledger,
		subjectID:    subjectID,
		tickInterval: defaultTickInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Apply defaults after options.
	if c.meter == nil {
		c.meter = &noopMeter{}
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}

	return c, nil
}

// Create places a pending reservation and starts its countdown. The
// current balance is fetched for display; a balance failure degrades
// the view but never blocks the reservation. A second Create while one
// is in flight returns ErrCreateInFlight without a remote call.
func (c *ReservationClient) Create(ctx context.Context, resourceType ResourceType, amount int64, description string) (*PendingReservation, error) {
	if c.subjectID == "" {
		return nil, ErrNotAuthenticated
	}
	if amount <= 0 {
		return nil, fmt.Errorf("opgate: amount must be positive, got %d", amount)
	}

	c.mu.Lock()
	if c.createInFlight {
		c.mu.Unlock()
		return nil, ErrCreateInFlight
	}
	c.createInFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.createInFlight = false
		c.mu.Unlock()
	}()

	start := time.Now()
	res, err := c.ledger.CreateReservation(ctx, ReservationRequest{
		SubjectID:    c.subjectID,
		ResourceType: resourceType,
		Amount:       amount,
		Description:  description,
		RequestKey:   uuid.New().String(),
	})
	if err != nil {
		c.meter.OnReservation(ReservationEvent{
			Op:           "create",
			ResourceType: resourceType,
			Amount:       amount,
			Remaining:    -1,
			Duration:     time.Since(start),
			Err:          err,
		})
		return nil, &LedgerError{Err: err, Op: "create"}
	}

	if res.State == "" {
		res.State = ReservationPending
	}
	if res.SubjectID == "" {
		res.SubjectID = c.subjectID
	}

	// Best-effort balance fetch for display.
	var bal Balance
	balanceStale := false
	balances, balErr := c.ledger.Balance(ctx, c.subjectID)
	if balErr != nil {
		balanceStale = true
	} else {
		bal = balances[resourceType]
	}

	now := c.nowFunc()
	remaining := res.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
		res.State = ReservationExpired
	}

	p := &PendingReservation{
		ledger:       c.ledger,
		meter:        c.meter,
		nowFunc:      c.nowFunc,
		res:          res,
		balance:      bal,
		balanceStale: balanceStale,
		remaining:    remaining,
	}
	p.cd = startCountdown(res.ExpiresAt, c.tickInterval, c.nowFunc, p.onTick)

	eventRemaining := int64(-1)
	if !balanceStale {
		eventRemaining = bal.Remaining
	}
	c.meter.OnReservation(ReservationEvent{
		Op:            "create",
		ReservationID: res.ID,
		ResourceType:  resourceType,
		Amount:        amount,
		Remaining:     eventRemaining,
		Duration:      time.Since(start),
	})

	return p, nil
}

// PendingReservation tracks a single reservation through its lifetime.
// All methods are safe for concurrent use from UI callbacks.
type PendingReservation struct {
	ledger  Ledger
	meter   Meter
	nowFunc func() time.Time

	mu              sync.Mutex
	res             Reservation
	balance         Balance
	balanceStale    bool
	remaining       time.Duration
	approveInFlight bool
	onUpdate        func(ReservationView)
	cd              *countdown
}

// ReservationView is the presentation-ready snapshot re-emitted on
// every state change.
type ReservationView struct {
	Reservation   Reservation
	Balance       Balance
	BalanceStale  bool // balance fetch failed; value may be out of date
	LowBalance    bool // optimistic pre-check: amount exceeds remaining
	Remaining     time.Duration
	CountdownText string
	CanApprove    bool
}

// OnUpdate registers the view observer and immediately emits the
// current snapshot. Only one observer is kept.
func (p *PendingReservation) OnUpdate(fn func(ReservationView)) {
	p.mu.Lock()
	p.onUpdate = fn
	view := p.viewLocked()
	p.mu.Unlock()

	if fn != nil {
		fn(view)
	}
}

// View returns the current snapshot.
func (p *PendingReservation) View() ReservationView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// Approve confirms the reservation so the gated action may proceed
// exactly once. If the local clock has crossed the deadline, Approve
// short-circuits with ErrReservationExpired without a network call:
// the server may already have reclaimed the slot.
func (p *PendingReservation) Approve(ctx context.Context) error {
	p.mu.Lock()

	switch p.res.State {
	case ReservationPending:
	case ReservationExpired:
		p.mu.Unlock()
		return ErrReservationExpired
	default:
		p.mu.Unlock()
		return ErrNotPending
	}

	if !p.nowFunc().Before(p.res.ExpiresAt) {
		p.expireLocked()
		view, fn := p.viewLocked(), p.onUpdate
		id := p.res.ID
		p.mu.Unlock()

		p.meter.OnReservation(ReservationEvent{
			Op:            "expire",
			ReservationID: id,
			ResourceType:  view.Reservation.ResourceType,
			Amount:        view.Reservation.Amount,
			Remaining:     -1,
		})
		emit(fn, view)
		return ErrReservationExpired
	}

	if p.approveInFlight {
		p.mu.Unlock()
		return ErrApproveInFlight
	}
	p.approveInFlight = true
	id := p.res.ID
	view, fn := p.viewLocked(), p.onUpdate
	p.mu.Unlock()

	emit(fn, view)

	start := time.Now()
	err := p.ledger.ApproveReservation(ctx, id)

	p.mu.Lock()
	p.approveInFlight = false
	if err != nil {
		view, fn = p.viewLocked(), p.onUpdate
		p.mu.Unlock()

		p.meter.OnReservation(ReservationEvent{
			Op:            "approve",
			ReservationID: id,
			ResourceType:  view.Reservation.ResourceType,
			Amount:        view.Reservation.Amount,
			Remaining:     -1,
			Duration:      time.Since(start),
			Err:           err,
		})
		emit(fn, view)
		return &LedgerError{Err: err, Op: "approve", ReservationID: id}
	}

	// The reservation may have settled while the call was in flight:
	// a countdown tick can expire it, and Reject can release it. A
	// local terminal state is never overwritten by a late server
	// approval.
	if p.res.State == ReservationPending && !p.nowFunc().Before(p.res.ExpiresAt) {
		p.expireLocked()
	}
	if p.res.State != ReservationPending {
		stateErr := ErrNotPending
		if p.res.State == ReservationExpired {
			stateErr = ErrReservationExpired
		}
		view, fn = p.viewLocked(), p.onUpdate
		p.mu.Unlock()

		p.meter.OnReservation(ReservationEvent{
			Op:            "approve",
			ReservationID: id,
			ResourceType:  view.Reservation.ResourceType,
			Amount:        view.Reservation.Amount,
			Remaining:     -1,
			Duration:      time.Since(start),
			Err:           stateErr,
		})
		emit(fn, view)
		return stateErr
	}

	p.res.State = ReservationApproved
	p.cd.Stop()
	view, fn = p.viewLocked(), p.onUpdate
	p.mu.Unlock()

	p.meter.OnReservation(ReservationEvent{
		Op:            "approve",
		ReservationID: id,
		ResourceType:  view.Reservation.ResourceType,
		Amount:        view.Reservation.Amount,
		Remaining:     -1,
		Duration:      time.Since(start),
	})
	emit(fn, view)
	return nil
}

// Reject releases the reservation. The local state transitions to
// Rejected before the remote call and regardless of its outcome:
// rejection carries no resource cost and must never block the user
// from closing the dialog. Calling Reject on a settled reservation is
// a no-op.
func (p *PendingReservation) Reject(ctx context.Context) error {
	p.mu.Lock()
	if p.res.State != ReservationPending {
		p.mu.Unlock()
		return nil
	}
	p.res.State = ReservationRejected
	p.cd.Stop()
	id := p.res.ID
	view, fn := p.viewLocked(), p.onUpdate
	p.mu.Unlock()

	emit(fn, view)

	start := time.Now()
	err := p.ledger.RejectReservation(ctx, id)
	p.meter.OnReservation(ReservationEvent{
		Op:            "reject",
		ReservationID: id,
		ResourceType:  view.Reservation.ResourceType,
		Amount:        view.Reservation.Amount,
		Remaining:     -1,
		Duration:      time.Since(start),
		Err:           err,
	})
	return nil
}

// Close stops the countdown ticker. Must be called when the consuming
// view unmounts so the ticker cannot fire against disposed state.
func (p *PendingReservation) Close() {
	p.cd.Stop()
}

// onTick is the countdown callback.
func (p *PendingReservation) onTick(remaining time.Duration) {
	p.mu.Lock()
	if p.res.State != ReservationPending {
		p.mu.Unlock()
		return
	}
	p.remaining = remaining
	expired := false
	if remaining <= 0 {
		p.expireLocked()
		expired = true
	}
	id := p.res.ID
	view, fn := p.viewLocked(), p.onUpdate
	p.mu.Unlock()

	if expired {
		p.meter.OnReservation(ReservationEvent{
			Op:            "expire",
			ReservationID: id,
			ResourceType:  view.Reservation.ResourceType,
			Amount:        view.Reservation.Amount,
			Remaining:     -1,
		})
	}
	emit(fn, view)
}

// expireLocked transitions to Expired. Must be called with the lock
// held and only from Pending.
func (p *PendingReservation) expireLocked() {
	p.res.State = ReservationExpired
	p.remaining = 0
	p.cd.Stop()
}

func (p *PendingReservation) viewLocked() ReservationView {
	return ReservationView{
		Reservation:   p.res,
		Balance:       p.balance,
		BalanceStale:  p.balanceStale,
		LowBalance:    !p.balanceStale && p.res.Amount > p.balance.Remaining,
		Remaining:     p.remaining,
		CountdownText: FormatCountdown(p.remaining),
		CanApprove:    p.res.State == ReservationPending && p.remaining > 0 && !p.approveInFlight,
	}
}

func emit(fn func(ReservationView), view ReservationView) {
	if fn != nil {
		fn(view)
	}
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnReservation(ReservationEvent) {}
func (m *noopMeter) OnSync(SyncEvent)               {}
