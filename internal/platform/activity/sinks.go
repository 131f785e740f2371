package activity

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LogSink writes entries as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, e Entry) error {
	s.logger.Info().
		Str("entry_id", e.ID.String()).
		Str("action", e.Action).
		Str("actor", e.Actor).
		Time("at", e.Timestamp).
		Msg(e.Description)
	return nil
}

// RingSink keeps the last N entries in memory.
type RingSink struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewRingSink(size int) *RingSink {
	if size <= 0 {
		size = 500
	}
	return &RingSink{entries: make([]Entry, size)}
}

func (r *RingSink) Write(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *RingSink) Recent(_ context.Context, limit, offset int) ([]Entry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := r.next
	if r.full {
		total = len(r.entries)
	}
	out := []Entry{}
	for i := offset; i < total && (limit <= 0 || len(out) < limit); i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out, total, nil
}
