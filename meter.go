package opgate

import "time"

// Meter observes protocol events for monitoring/logging.
type Meter interface {
	// OnReservation is called for every reservation lifecycle event.
	OnReservation(event ReservationEvent)

	// OnSync is called after every tracker reconciliation attempt.
	OnSync(event SyncEvent)
}

// ReservationEvent describes a reservation lifecycle event.
type ReservationEvent struct {
	Op            string // "create", "approve", "reject", "expire"
	ReservationID string
	ResourceType  ResourceType
	Amount        int64
	Remaining     int64 // balance remaining at event time, -1 when unknown
	Duration      time.Duration
	Err           error
}

// SyncEvent describes a progress-tracker reconciliation.
type SyncEvent struct {
	SessionID string
	Trigger   string // "attach", "push", "poll"
	Steps     int
	Progress  int
	Terminal  bool
	Duration  time.Duration
	Err       error
}
