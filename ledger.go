package opgate

import "context"

// ReservationRequest describes a claim to place against the ledger.
type ReservationRequest struct {
	SubjectID    string
	ResourceType ResourceType
	Amount       int64
	Description  string

	// RequestKey deduplicates retried creates on the ledger side.
	RequestKey string
}

// Ledger is the remote balance ledger the reservation protocol runs
// against. The ledger owns all persistent state; clients hold only
// disposable projections.
type Ledger interface {
	// CreateReservation places a pending claim. The ledger issues the
	// reservation ID and expiry deadline.
	CreateReservation(ctx context.Context, req ReservationRequest) (Reservation, error)

	// ApproveReservation confirms a pending reservation so the gated
	// action may be debited. Returns ErrInsufficientBalance when the
	// balance changed since creation.
	ApproveReservation(ctx context.Context, reservationID string) error

	// RejectReservation releases a pending reservation. Callers treat
	// this as fire-and-forget.
	RejectReservation(ctx context.Context, reservationID string) error

	// Balance returns the current balances for a subject, keyed by
	// resource type.
	Balance(ctx context.Context, subjectID string) (map[ResourceType]Balance, error)
}

// JobStore is the remote job service that owns research sessions.
type JobStore interface {
	// Session fetches a session by ID.
	Session(ctx context.Context, sessionID string) (ResearchSession, error)

	// Steps fetches all steps for a session, orderable by StepIndex.
	Steps(ctx context.Context, sessionID string) ([]ResearchStep, error)

	// Artifacts fetches the outputs recorded for a session.
	Artifacts(ctx context.Context, sessionID string) ([]Artifact, error)
}
