// Package postgres provides a LISTEN/NOTIFY StateSource for opgate.
//
// All change signals share one notification channel; the payload
// carries the session ID and each subscription filters client-side.
// This avoids per-session channel identifiers, which PostgreSQL would
// require quoting.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opgate/opgate"
)

// Source is a PostgreSQL LISTEN/NOTIFY-backed StateSource.
type Source struct {
	pool    *pgxpool.Pool
	channel string
}

var _ opgate.StateSource = (*Source)(nil)

// Option configures Source.
type Option func(*Source)

// WithChannel sets the notification channel name (default "opgate_changes").
func WithChannel(name string) Option {
	return func(s *Source) { s.channel = name }
}

// New creates a PostgreSQL-backed StateSource.
func New(pool *pgxpool.Pool, opts ...Option) *Source {
	s := &Source{
		pool:    pool,
		channel: "opgate_changes",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// payload is the wire envelope for a change signal.
type payload struct {
	ID        string `json:"id"`
	Table     string `json:"table"`
	SessionID string `json:"session_id"`
}

// Subscribe takes a dedicated connection from the pool, LISTENs on the
// channel, and delivers signals matching sessionID until closed.
func (s *Source) Subscribe(ctx context.Context, sessionID string, fn func(opgate.Change)) (opgate.Subscription, error) {
	poolConn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("opgate/postgres: acquire: %w", err)
	}
	conn := poolConn.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("opgate/postgres: listen: %w", err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{conn: conn, cancel: cancel}

	go func() {
		defer conn.Close(context.Background())
		for {
			notification, err := conn.WaitForNotification(waitCtx)
			if err != nil {
				// Cancelled by Close, or the connection died. Either
				// way this subscription delivers nothing further.
				return
			}

			var p payload
			if err := json.Unmarshal([]byte(notification.Payload), &p); err != nil {
				continue
			}
			if p.SessionID != sessionID {
				continue
			}
			fn(opgate.Change{ID: p.ID, Table: p.Table, SessionID: p.SessionID})
		}
	}()

	return sub, nil
}

// Publish emits a change signal via pg_notify. The job service side
// uses this after writing session or step rows.
func (s *Source) Publish(ctx context.Context, ch opgate.Change) error {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	data, err := json.Marshal(payload{ID: ch.ID, Table: ch.Table, SessionID: ch.SessionID})
	if err != nil {
		return fmt.Errorf("opgate/postgres: encode change: %w", err)
	}
	if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", s.channel, string(data)); err != nil {
		return fmt.Errorf("opgate/postgres: notify: %w", err)
	}
	return nil
}

type subscription struct {
	conn   *pgx.Conn
	cancel context.CancelFunc
	once   sync.Once
}

func (sub *subscription) Close() error {
	sub.once.Do(sub.cancel)
	return nil
}
