// Package redis provides a Redis pub/sub StateSource for opgate.
//
// Change signals are published to one channel per session. The payload
// is a small JSON envelope; a malformed payload still delivers a bare
// change so consumers re-fetch anyway.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/opgate/opgate"
)

// Source is a Redis pub/sub-backed StateSource.
type Source struct {
	client        *goredis.Client
	channelPrefix string
}

var _ opgate.StateSource = (*Source)(nil)

// Option configures Source.
type Option func(*Source)

// WithChannelPrefix sets the channel prefix (default "opgate:changes:").
func WithChannelPrefix(prefix string) Option {
	return func(s *Source) { s.channelPrefix = prefix }
}

// New creates a Redis-backed StateSource.
// The client must be a connected *goredis.Client.
func New(client *goredis.Client, opts ...Option) *Source {
	s := &Source{
		client:        client,
		channelPrefix: "opgate:changes:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) channel(sessionID string) string {
	return s.channelPrefix + sessionID
}

// payload is the wire envelope for a change signal.
type payload struct {
	ID        string `json:"id"`
	Table     string `json:"table"`
	SessionID string `json:"session_id"`
}

// Subscribe starts listening for change signals scoped to sessionID.
// The returned Subscription must be closed to release the pub/sub
// connection.
func (s *Source) Subscribe(ctx context.Context, sessionID string, fn func(opgate.Change)) (opgate.Subscription, error) {
	ps := s.client.Subscribe(ctx, s.channel(sessionID))

	// Confirm the subscription before returning so no signal published
	// after Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("opgate/redis: subscribe: %w", err)
	}

	go func() {
		for msg := range ps.Channel() {
			var p payload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				// Opaque signal; deliver a bare change.
				fn(opgate.Change{SessionID: sessionID})
				continue
			}
			if p.SessionID == "" {
				p.SessionID = sessionID
			}
			fn(opgate.Change{ID: p.ID, Table: p.Table, SessionID: p.SessionID})
		}
	}()

	return &subscription{ps: ps}, nil
}

// Publish emits a change signal for a session. The job service side
// uses this after writing session or step rows. An empty Change.ID is
// assigned one so duplicate deliveries can be collapsed downstream.
func (s *Source) Publish(ctx context.Context, ch opgate.Change) error {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	data, err := json.Marshal(payload{ID: ch.ID, Table: ch.Table, SessionID: ch.SessionID})
	if err != nil {
		return fmt.Errorf("opgate/redis: encode change: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(ch.SessionID), data).Err(); err != nil {
		return fmt.Errorf("opgate/redis: publish: %w", err)
	}
	return nil
}

type subscription struct {
	ps *goredis.PubSub
}

func (sub *subscription) Close() error {
	return sub.ps.Close()
}
