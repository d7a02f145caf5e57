package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// Identity event actions.
const (
	ActionRegister          = "register"
	ActionLogin             = "login"
	ActionLoginFailed       = "login_failed"
	ActionLoginRateLimited  = "login_rate_limited"
	ActionLogout            = "logout"
	ActionPasswordChanged   = "password_changed"
	ActionPasswordReset     = "password_reset"
	ActionUserAdded         = "user_added"
	ActionUserDeleted       = "user_deleted"
	ActionCoreInstalled     = "core_installed"
	ActionModeEnabled       = "multiuser_enabled"
	ActionModeDisabled      = "multiuser_disabled"
	ActionSecondFactorOn    = "2fa_enabled"
	ActionSecondFactorOff   = "2fa_disabled"
	ActionSecondFactorCheck = "2fa_verified"
)

// Event describes something that happened to an identity.
// Events never carry passwords, tokens, secrets or codes.
type Event struct {
	Action  string         `json:"action"`
	UserID  string         `json:"user_id,omitempty"`
	Level   Level          `json:"level"`
	Message string         `json:"message,omitempty"`
	Source  string         `json:"source,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"timestamp"`
}

// Sink receives identity events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// NoOpSink discards events.
type NoOpSink struct{}

// Emit implements Sink.
func (NoOpSink) Emit(context.Context, Event) error { return nil }

// MultiSink delivers every event to each sink in order. All sinks are
// attempted; their errors are joined.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RepositorySink writes events with a user to the audit log.
// Events without a user have no log to land in and are skipped.
type RepositorySink struct {
	Repo Repository
}

// Emit implements Sink.
func (s RepositorySink) Emit(ctx context.Context, ev Event) error {
	if ev.UserID == "" {
		return nil
	}
	return s.Repo.Create(ctx, &Entry{
		UserID:    ev.UserID,
		Level:     ev.Level,
		Action:    ev.Action,
		Message:   ev.Message,
		Source:    ev.Source,
		Details:   ev.Details,
		CreatedAt: ev.At,
	})
}

// EventPublisher is satisfied by *mqtt.Client.
type EventPublisher interface {
	PublishEvent(eventType, userID string, payload []byte) error
}

// PublisherSink publishes events as JSON on the message bus.
type PublisherSink struct {
	Publisher EventPublisher
}

// Emit implements Sink.
func (s PublisherSink) Emit(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.Publisher.PublishEvent(ev.Action, ev.UserID, payload)
}

// EventWriter is satisfied by *influxdb.Client.
type EventWriter interface {
	WriteIdentityEvent(action, level, site string, at time.Time)
}

// MetricsSink counts events in the time-series store.
type MetricsSink struct {
	Writer EventWriter
	Site   string
}

// Emit implements Sink.
func (s MetricsSink) Emit(_ context.Context, ev Event) error {
	s.Writer.WriteIdentityEvent(ev.Action, string(ev.Level), s.Site, ev.At)
	return nil
}

// asyncEmitTimeout bounds a single delivery by the background worker.
const asyncEmitTimeout = 5 * time.Second

// AsyncSink decouples emitters from delivery. Emit enqueues on a buffered
// channel and never blocks: when the buffer is full the event is dropped
// and counted. A single goroutine drains the queue into the next sink.
type AsyncSink struct {
	next    Sink
	logger  *logging.Logger
	queue   chan Event
	dropped atomic.Int64
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsyncSink starts the delivery goroutine. Call Close to drain and stop it.
func NewAsyncSink(next Sink, size int, logger *logging.Logger) *AsyncSink {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &AsyncSink{
		next:   next,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit implements Sink. It stamps the event time when unset.
func (s *AsyncSink) Emit(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return nil
	}

	select {
	case s.queue <- ev:
	default:
		n := s.dropped.Add(1)
		s.logger.Warn("identity event dropped, queue full", "action", ev.Action, "dropped_total", n)
	}
	return nil
}

// Dropped returns how many events were discarded.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), asyncEmitTimeout)
		if err := s.next.Emit(ctx, ev); err != nil {
			s.logger.Warn("identity event delivery failed", "action", ev.Action, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// worker to exit or ctx to end.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining identity events: %w", ctx.Err())
	}
}
