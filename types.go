package opgate

import "time"

// ResourceType identifies a metered resource class.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
)

// ReservationState is the lifecycle state of a reservation.
type ReservationState string

const (
	ReservationPending  ReservationState = "pending"
	ReservationApproved ReservationState = "approved"
	ReservationRejected ReservationState = "rejected"
	ReservationExpired  ReservationState = "expired"
)

// Terminal reports whether no further transitions are expected.
func (s ReservationState) Terminal() bool {
	return s == ReservationApproved || s == ReservationRejected || s == ReservationExpired
}

// Reservation is a time-boxed claim against a metered balance.
// It is created pending and terminated by approval, rejection, or
// passive expiry. A reservation is never reused.
type Reservation struct {
	ID           string
	SubjectID    string
	ResourceType ResourceType
	Amount       int64
	Description  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	State        ReservationState
}

// Balance is the available quantity of a resource at a point in time.
// The ledger service is authoritative; clients only display it.
type Balance struct {
	Total     int64
	Used      int64
	Remaining int64
}

// SessionState is the lifecycle state of a research session.
type SessionState string

const (
	SessionPlanning     SessionState = "planning"
	SessionResearching  SessionState = "researching"
	SessionSynthesizing SessionState = "synthesizing"
	SessionCompleted    SessionState = "completed"
	SessionFailed       SessionState = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// ResearchSession is a multi-step asynchronous job owned by the
// remote job service.
type ResearchSession struct {
	ID               string
	OriginalQuestion string
	State            SessionState
	FinalAnswer      string // present only when State is completed
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StepState is the lifecycle state of a single research step.
type StepState string

const (
	StepPending    StepState = "pending"
	StepInProgress StepState = "in_progress"
	StepCompleted  StepState = "completed"
	StepFailed     StepState = "failed"
)

// StepType classifies what a research step does.
type StepType string

const (
	StepTypeSearch    StepType = "search"
	StepTypeFetch     StepType = "fetch"
	StepTypeAnalysis  StepType = "analysis"
	StepTypeSynthesis StepType = "synthesis"
)

// ResearchStep is an ordered child of a session. StepIndex is unique
// within the session and defines display order.
type ResearchStep struct {
	ID              string
	SessionID       string
	StepIndex       int
	Question        string
	Type            StepType
	State           StepState
	FinalAnswer     string
	FinalConfidence *float64 // in [0,1] when present
}

// Artifact is an output produced by a session (a deployment URL, a
// generated file, a repository).
type Artifact struct {
	ID        string
	SessionID string
	Type      string
	Name      string
	URL       string
	CreatedAt time.Time
}

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
