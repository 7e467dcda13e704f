package mock

import (
	"context"
	"sync"

	"github.com/opgate/opgate"
)

// Source is an in-memory change-notification transport. Tests drive
// it with Emit and check for leaks with ActiveSubscriptions.
type Source struct {
	mu           sync.Mutex
	subs         map[int]*subscription
	nextID       int
	subscribeErr error
}

var _ opgate.StateSource = (*Source)(nil)

// SourceOption configures a mock Source.
type SourceOption func(*Source)

// WithSubscribeError makes Subscribe always return this error.
func WithSubscribeError(err error) SourceOption {
	return func(s *Source) { s.subscribeErr = err }
}

// NewSource creates a mock source with the given options.
func NewSource(opts ...SourceOption) *Source {
	s := &Source{subs: make(map[int]*subscription)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Subscribe(_ context.Context, sessionID string, fn func(opgate.Change)) (opgate.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}

	s.nextID++
	sub := &subscription{source: s, id: s.nextID, sessionID: sessionID, fn: fn}
	s.subs[sub.id] = sub
	return sub, nil
}

// Emit delivers a change to every live subscription for its session.
// Delivery is synchronous; the callback runs on the caller's goroutine.
func (s *Source) Emit(ch opgate.Change) {
	s.mu.Lock()
	var fns []func(opgate.Change)
	for _, sub := range s.subs {
		if sub.sessionID == ch.SessionID {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// ActiveSubscriptions returns the number of live subscriptions.
func (s *Source) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type subscription struct {
	source    *Source
	id        int
	sessionID string
	fn        func(opgate.Change)
}

func (sub *subscription) Close() error {
	sub.source.mu.Lock()
	defer sub.source.mu.Unlock()
	delete(sub.source.subs, sub.id)
	return nil
}
