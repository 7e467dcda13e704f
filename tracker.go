package opgate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultRecentCapacity = 64
)

// ProgressTracker maintains a consistent local view of a remote
// session's steps despite out-of-order or duplicate notification
// delivery. The reconciliation strategy is refetch-and-replace: on any
// signal the whole step collection is re-read and re-sorted, which
// sidesteps ordering entirely. Step counts are small, so the extra
// round-trips are acceptable.
type ProgressTracker struct {
	jobs         JobStore
	source       StateSource
	meter        Meter
	pollInterval time.Duration

	mu           sync.Mutex
	gen          int // bumped on every attach/detach; stale async work checks it
	attached     bool
	sessionID    string
	sub          Subscription
	session      ResearchSession
	steps        []ResearchStep
	artifacts    []Artifact
	terminalSeen bool
	pushSeen     bool
	pollStop     chan struct{}
	onUpdate     func(SessionView)
	recent       *RecentSet
}

// TrackerOption configures a ProgressTracker.
type TrackerOption func(*ProgressTracker)

// WithTrackerMeter sets the meter.
func WithTrackerMeter(m Meter) TrackerOption {
	return func(t *ProgressTracker) { t.meter = m }
}

// WithPollInterval sets the poll-fallback interval (default 5s).
// Zero disables polling entirely.
func WithPollInterval(d time.Duration) TrackerOption {
	return func(t *ProgressTracker) { t.pollInterval = d }
}

// WithStateSource sets the push-notification transport. Without one
// the tracker relies on the poll fallback alone.
func WithStateSource(s StateSource) TrackerOption {
	return func(t *ProgressTracker) { t.source = s }
}

// NewProgressTracker creates a tracker over the given job store.
func NewProgressTracker(jobs JobStore, opts ...TrackerOption) (*ProgressTracker, error) {
	if jobs == nil {
		return nil, fmt.Errorf("opgate: a job store is required")
	}

	t := &ProgressTracker{
		jobs:         jobs,
		pollInterval: defaultPollInterval,
		recent:       NewRecentSet(defaultRecentCapacity),
	}

	for _, opt := range opts {
		opt(t)
	}

	// Apply defaults after options.
	if t.source == nil {
		t.source = noopSource{}
	}
	if t.meter == nil {
		t.meter = &noopMeter{}
	}

	return t, nil
}

// SessionView is the presentation-ready snapshot re-emitted on every
// reconciliation.
type SessionView struct {
	Session         ResearchSession
	Steps           []ResearchStep
	Artifacts       []Artifact
	ProgressPercent int
	IsTerminal      bool
}

// Attach starts tracking a session: an initial full fetch, then a
// subscription scoped to the session, then the poll fallback. Attach
// is idempotent: attaching again to the current session only
// refreshes; it never creates a second subscription. Attaching to a
// different session detaches the old one first.
func (t *ProgressTracker) Attach(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	if t.attached && t.sessionID == sessionID {
		g := t.gen
		t.mu.Unlock()
		return t.refresh(ctx, g, "attach")
	}
	if t.attached {
		t.detachLocked()
	}
	t.gen++
	g := t.gen
	t.attached = true
	t.sessionID = sessionID
	t.session = ResearchSession{}
	t.steps = nil
	t.artifacts = nil
	t.terminalSeen = false
	t.pushSeen = false
	t.mu.Unlock()

	if err := t.refresh(ctx, g, "attach"); err != nil {
		t.mu.Lock()
		if t.gen == g {
			t.detachLocked()
		}
		t.mu.Unlock()
		return err
	}

	sub, err := t.source.Subscribe(ctx, sessionID, func(ch Change) {
		t.onChange(ch, g)
	})
	if err != nil {
		// Degrade to the poll fallback; the view keeps last known state.
		t.meter.OnSync(SyncEvent{SessionID: sessionID, Trigger: "attach", Err: err})
		sub = nil
	}

	t.mu.Lock()
	if t.gen != g {
		// Detached (or re-attached) while subscribing.
		t.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return nil
	}
	t.sub = sub
	if t.pollInterval > 0 {
		stop := make(chan struct{})
		t.pollStop = stop
		go t.pollLoop(g, stop)
	}
	t.mu.Unlock()

	return nil
}

// Detach releases the subscription and stops the poll fallback. Safe
// to call when never attached, and required whenever the tracked
// session changes or the consuming view unmounts.
func (t *ProgressTracker) Detach() {
	t.mu.Lock()
	t.detachLocked()
	t.mu.Unlock()
}

// detachLocked must be called with the lock held.
func (t *ProgressTracker) detachLocked() {
	t.gen++
	t.attached = false
	t.sessionID = ""
	if t.sub != nil {
		_ = t.sub.Close()
		t.sub = nil
	}
	if t.pollStop != nil {
		close(t.pollStop)
		t.pollStop = nil
	}
}

// OnUpdate registers the view observer and immediately emits the
// current snapshot. Only one observer is kept.
func (t *ProgressTracker) OnUpdate(fn func(SessionView)) {
	t.mu.Lock()
	t.onUpdate = fn
	view := t.viewLocked()
	t.mu.Unlock()

	if fn != nil {
		fn(view)
	}
}

// View returns the current snapshot.
func (t *ProgressTracker) View() SessionView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

// onChange handles a push notification for attach generation g.
func (t *ProgressTracker) onChange(ch Change, g int) {
	t.mu.Lock()
	if !t.attached || t.gen != g {
		// Stale: arrived after Detach or re-attach.
		t.mu.Unlock()
		return
	}
	if ch.ID != "" && t.recent.Seen(ch.ID) {
		t.mu.Unlock()
		return
	}
	t.pushSeen = true
	t.mu.Unlock()

	_ = t.refresh(context.Background(), g, "push")
}

// pollLoop re-fetches on an interval until stopped. Polling is a
// fallback only: once a push event has been received for this attach
// generation, the loop idles without fetching.
func (t *ProgressTracker) pollLoop(g int, stop chan struct{}) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			skip := !t.attached || t.gen != g || t.pushSeen
			t.mu.Unlock()
			if skip {
				continue
			}
			_ = t.refresh(context.Background(), g, "poll")
		}
	}
}

// refresh re-fetches session, steps, and artifacts, and replaces the
// local collections wholesale keyed by StepIndex.
func (t *ProgressTracker) refresh(ctx context.Context, g int, trigger string) error {
	t.mu.Lock()
	sessionID := t.sessionID
	if !t.attached || t.gen != g {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	start := time.Now()

	session, err := t.jobs.Session(ctx, sessionID)
	if err != nil {
		// Keep last known state rather than clearing the view.
		t.meter.OnSync(SyncEvent{
			SessionID: sessionID,
			Trigger:   trigger,
			Duration:  time.Since(start),
			Err:       err,
		})
		return err
	}

	steps, err := t.jobs.Steps(ctx, sessionID)
	if err != nil {
		t.meter.OnSync(SyncEvent{
			SessionID: sessionID,
			Trigger:   trigger,
			Duration:  time.Since(start),
			Err:       err,
		})
		return err
	}
	steps = normalizeSteps(steps)

	// Artifacts are display-only; a failure keeps the previous list.
	artifacts, artErr := t.jobs.Artifacts(ctx, sessionID)

	t.mu.Lock()
	if t.gen != g {
		t.mu.Unlock()
		return nil
	}
	t.session = session
	t.steps = steps
	if artErr == nil {
		t.artifacts = artifacts
	}
	if session.State.Terminal() {
		t.terminalSeen = true
	}
	view, fn := t.viewLocked(), t.onUpdate
	t.mu.Unlock()

	t.meter.OnSync(SyncEvent{
		SessionID: sessionID,
		Trigger:   trigger,
		Steps:     len(view.Steps),
		Progress:  view.ProgressPercent,
		Terminal:  view.IsTerminal,
		Duration:  time.Since(start),
	})
	if fn != nil {
		fn(view)
	}
	return nil
}

// viewLocked must be called with the lock held. Terminal observation
// is sticky: a late backward transition on the session state field is
// kept (last-write-wins) but does not un-terminate the view.
func (t *ProgressTracker) viewLocked() SessionView {
	steps := make([]ResearchStep, len(t.steps))
	copy(steps, t.steps)
	artifacts := make([]Artifact, len(t.artifacts))
	copy(artifacts, t.artifacts)

	return SessionView{
		Session:         t.session,
		Steps:           steps,
		Artifacts:       artifacts,
		ProgressPercent: ComputeProgress(steps),
		IsTerminal:      t.terminalSeen || t.session.State.Terminal(),
	}
}

// normalizeSteps sorts by StepIndex and collapses duplicate indexes,
// keeping the later entry in server order.
func normalizeSteps(steps []ResearchStep) []ResearchStep {
	byIndex := make(map[int]ResearchStep, len(steps))
	for _, s := range steps {
		byIndex[s.StepIndex] = s
	}

	out := make([]ResearchStep, 0, len(byIndex))
	for _, s := range byIndex {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StepIndex < out[j].StepIndex
	})
	return out
}
