package opgate

import "context"

// Change is an opaque "something changed" signal for a session. The
// transport does not say what changed; consumers re-fetch and replace.
type Change struct {
	// ID deduplicates redelivered signals. May be empty when the
	// transport cannot assign one.
	ID        string
	Table     string // "sessions", "steps", or "artifacts"
	SessionID string
}

// Subscription is a live change-notification stream for one session.
type Subscription interface {
	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// StateSource delivers change notifications scoped to a session. It
// abstracts over push transports (pub/sub, LISTEN/NOTIFY) so the
// progress tracker is agnostic to how signals arrive. Signals are not
// guaranteed ordered or deduplicated.
type StateSource interface {
	Subscribe(ctx context.Context, sessionID string, fn func(Change)) (Subscription, error)
}

// noopSource never delivers a change. Used when no push transport is
// configured; the tracker then relies on its poll fallback.
type noopSource struct{}

func (noopSource) Subscribe(context.Context, string, func(Change)) (Subscription, error) {
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Close() error { return nil }
