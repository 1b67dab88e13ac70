// Package registry owns the set of in-flight deployments. It hands out
// identifiers, fans out cancellation and removes everything a deployment
// left behind.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/process"
)

// Registry is safe for concurrent use. The map never leaves the registry;
// callers only see deployments and summaries.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Deployment

	grace time.Duration
	log   *slog.Logger
}

// New creates an empty registry. grace bounds how long Cancel waits for a
// pipeline to stop before killing its processes and cleaning up itself.
func New(logger *slog.Logger, grace time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = process.DefaultGrace
	}
	return &Registry{
		entries: make(map[string]*Deployment),
		grace:   grace,
		log:     logger,
	}
}

// Create allocates a deployment. An empty suggestedID gets a random UUID;
// a suggested ID already in use is rejected with domain.ErrAlreadyExists.
func (r *Registry) Create(family domain.Family, targetDir string, sink domain.ProgressSink, suggestedID string) (*Deployment, error) {
	id := suggestedID
	if id == "" {
		id = uuid.NewString()
	}
	if sink == nil {
		sink = domain.Discard
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("deployment %q: %w", id, domain.ErrAlreadyExists)
	}
	d := &Deployment{
		id:        id,
		family:    family,
		targetDir: targetDir,
		startTime: time.Now(),
		token:     cancel.New(context.Background()),
		sink:      sink,
		done:      make(chan struct{}),
	}
	r.entries[id] = d
	r.log.Debug("deployment created", "deployment", id, "family", string(family), "target", targetDir)
	return d, nil
}

// Get returns the deployment with id.
func (r *Registry) Get(id string) (*Deployment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.entries[id]
	return d, ok
}

// Cancel cancels the deployment's token. If the pipeline has not returned
// within the grace window its processes are killed and it is cleaned up.
// Unknown ids return false and change nothing.
func (r *Registry) Cancel(id string) bool {
	d, ok := r.Get(id)
	if !ok {
		return false
	}
	r.log.Info("cancelling deployment", "deployment", id)
	d.token.Cancel()
	go r.escalate(d)
	return true
}

func (r *Registry) escalate(d *Deployment) {
	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	select {
	case <-d.Done():
		return
	case <-timer.C:
	}
	r.log.Warn("deployment did not stop within grace window, forcing cleanup",
		"deployment", d.id, "grace", r.grace)
	r.cleanup(d)
}

// CancelAll cancels every deployment and returns how many were cancelled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.Cancel(id) {
			n++
		}
	}
	return n
}

// List returns summaries ordered by start time.
func (r *Registry) List() []domain.Summary {
	r.mu.Lock()
	out := make([]domain.Summary, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d.Summary())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Len returns the number of deployments in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Finalize kills the deployment's live processes, removes its temp dirs and
// drops it from the registry. It runs at most once per deployment and never
// touches a later deployment that reuses the same ID.
func (r *Registry) Finalize(d *Deployment) {
	r.cleanup(d)
}

func (r *Registry) cleanup(d *Deployment) {
	d.cleanupOnce.Do(func() {
		for _, h := range d.Processes() {
			if !h.Exited() {
				r.log.Warn("killing leftover process", "deployment", d.id, "pid", h.Pid())
				process.Terminate(h, 0)
			}
		}

		dirs := d.TempDirs()
		for i := len(dirs) - 1; i >= 0; i-- {
			if err := os.RemoveAll(dirs[i]); err != nil {
				r.log.Error("removing temp dir failed", "deployment", d.id, "dir", dirs[i], "error", err)
			}
		}

		r.mu.Lock()
		if r.entries[d.id] == d {
			delete(r.entries, d.id)
		}
		r.mu.Unlock()
		r.log.Debug("deployment cleaned up", "deployment", d.id, "temp_dirs", len(dirs))
	})
}
