// Package session implements the TCP session protocol surface: producers
// stream packets into a per-session time-shift buffer, and one consumer
// per session reads, seeks and pauses against it.
package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tvshift/tvshift/internal/timeshift"
)

// Registry tracks the live queues of all active sessions. Each queue is
// exclusively owned by one session; the registry only maps identifiers
// to queues and drives teardown.
type Registry struct {
	cfg    timeshift.Config
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*timeshift.LiveQueue
}

// NewRegistry creates an empty registry. All sessions opened through it
// share the same process-wide buffer configuration.
func NewRegistry(cfg timeshift.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:    cfg,
		logger: logger,
		queues: make(map[string]*timeshift.LiveQueue),
	}
}

// Attach returns the session's live queue, creating it on first use.
// An empty id requests a fresh session with a generated identifier.
func (r *Registry) Attach(id string) (*timeshift.LiveQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}

	if q, ok := r.queues[id]; ok {
		return q, nil
	}

	q, err := timeshift.Open(r.cfg, id, r.logger)
	if err != nil {
		return nil, fmt.Errorf("opening session %s: %w", id, err)
	}
	r.queues[id] = q
	return q, nil
}

// Get returns the session's live queue if it exists.
func (r *Registry) Get(id string) (*timeshift.LiveQueue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	return q, ok
}

// Close tears down one session: the writer stops, queued packets are
// discarded and the backing file is deleted.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	q, ok := r.queues[id]
	delete(r.queues, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return q.Close()
}

// CloseAll tears down every active session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]*timeshift.LiveQueue)
	r.mu.Unlock()

	for id, q := range queues {
		if err := q.Close(); err != nil {
			r.logger.Warn("closing session",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

// Stats returns a snapshot of every active session.
func (r *Registry) Stats() []timeshift.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]timeshift.Stats, 0, len(r.queues))
	for _, q := range r.queues {
		stats = append(stats, q.Stats())
	}
	return stats
}

// ActiveFiles returns the base names of all backing files currently in
// use, for exclusion from the orphan sweep.
func (r *Registry) ActiveFiles() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := make(map[string]struct{}, len(r.queues))
	for _, q := range r.queues {
		files[filepath.Base(q.Path())] = struct{}{}
	}
	return files
}
