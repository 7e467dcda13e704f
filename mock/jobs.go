package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opgate/opgate"
)

// JobStore is an in-memory job service holding one session.
type JobStore struct {
	mu        sync.Mutex
	session   opgate.ResearchSession
	steps     []opgate.ResearchStep
	artifacts []opgate.Artifact

	sessionErr   error
	stepsErr     error
	artifactsErr error

	sessionCalls   atomic.Int64
	stepsCalls     atomic.Int64
	artifactsCalls atomic.Int64
}

var _ opgate.JobStore = (*JobStore)(nil)

// JobStoreOption configures a mock JobStore.
type JobStoreOption func(*JobStore)

// WithSession seeds the stored session.
func WithSession(s opgate.ResearchSession) JobStoreOption {
	return func(j *JobStore) { j.session = s }
}

// WithSteps seeds the stored steps.
func WithSteps(steps ...opgate.ResearchStep) JobStoreOption {
	return func(j *JobStore) { j.steps = steps }
}

// WithSessionError makes Session always return this error.
func WithSessionError(err error) JobStoreOption {
	return func(j *JobStore) { j.sessionErr = err }
}

// WithStepsError makes Steps always return this error.
func WithStepsError(err error) JobStoreOption {
	return func(j *JobStore) { j.stepsErr = err }
}

// NewJobStore creates a mock job store with the given options.
func NewJobStore(opts ...JobStoreOption) *JobStore {
	j := &JobStore{}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SetSession replaces the stored session.
func (j *JobStore) SetSession(s opgate.ResearchSession) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.session = s
}

// SetSteps replaces the stored steps.
func (j *JobStore) SetSteps(steps ...opgate.ResearchStep) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = steps
}

// SetArtifacts replaces the stored artifacts.
func (j *JobStore) SetArtifacts(artifacts ...opgate.Artifact) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifacts = artifacts
}

// SetSessionError changes the error returned by Session.
func (j *JobStore) SetSessionError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessionErr = err
}

func (j *JobStore) Session(_ context.Context, sessionID string) (opgate.ResearchSession, error) {
	j.sessionCalls.Add(1)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sessionErr != nil {
		return opgate.ResearchSession{}, j.sessionErr
	}
	if j.session.ID != sessionID {
		return opgate.ResearchSession{}, opgate.ErrSessionNotFound
	}
	return j.session, nil
}

func (j *JobStore) Steps(_ context.Context, _ string) ([]opgate.ResearchStep, error) {
	j.stepsCalls.Add(1)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stepsErr != nil {
		return nil, j.stepsErr
	}
	out := make([]opgate.ResearchStep, len(j.steps))
	copy(out, j.steps)
	return out, nil
}

func (j *JobStore) Artifacts(_ context.Context, _ string) ([]opgate.Artifact, error) {
	j.artifactsCalls.Add(1)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.artifactsErr != nil {
		return nil, j.artifactsErr
	}
	out := make([]opgate.Artifact, len(j.artifacts))
	copy(out, j.artifacts)
	return out, nil
}

// SessionCalls returns the number of Session calls.
func (j *JobStore) SessionCalls() int64 { return j.sessionCalls.Load() }

// StepsCalls returns the number of Steps calls.
func (j *JobStore) StepsCalls() int64 { return j.stepsCalls.Load() }

// ArtifactsCalls returns the number of Artifacts calls.
func (j *JobStore) ArtifactsCalls() int64 { return j.artifactsCalls.Load() }
