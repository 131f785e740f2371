// Package activity records who did what to the OR schedule. Recording is
// fire-and-forget: callers never wait on a sink and never see its errors.
package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one line of the activity log.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Actor       string    `json:"actor"`
	Timestamp   time.Time `json:"timestamp"`
}

// Recorder is what domain services depend on.
type Recorder interface {
	Record(ctx context.Context, action, description, actor string)
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Lister serves the most recent entries, newest first.
type Lister interface {
	Recent(ctx context.Context, limit, offset int) ([]Entry, int, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Write(ctx context.Context, e Entry) error { return f(ctx, e) }

// Multi writes every entry to all sinks and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const writeTimeout = 5 * time.Second

// Async queues entries on a buffered channel drained by one worker. When
// the buffer is full the entry is dropped and a warning is logged.
type Async struct {
	sink    Sink
	logger  zerolog.Logger
	now     func() time.Time
	onDrop  func()
	entries chan Entry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the worker. Close must be called to flush pending
// entries.
func NewAsync(sink Sink, buffer int, logger zerolog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		sink:    sink,
		logger:  logger.With().Str("component", "activity").Logger(),
		now:     time.Now,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// OnDrop registers a callback invoked for every dropped entry.
func (a *Async) OnDrop(fn func()) { a.onDrop = fn }

func (a *Async) Record(_ context.Context, action, description, actor string) {
	e := Entry{
		ID:          uuid.New(),
		Action:      action,
		Description: description,
		Actor:       actor,
		Timestamp:   a.now().UTC(),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(e, "recorder closed")
		return
	}
	select {
	case a.entries <- e:
	default:
		a.drop(e, "buffer full")
	}
}

func (a *Async) drop(e Entry, reason string) {
	a.logger.Warn().Str("action", e.Action).Str("actor", e.Actor).Str("reason", reason).Msg("activity entry dropped")
	if a.onDrop != nil {
		a.onDrop()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := a.sink.Write(ctx, e); err != nil {
			a.logger.Error().Err(err).Str("action", e.Action).Str("entry_id", e.ID.String()).Msg("activity write failed")
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to
// expire.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.entries)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
