// Package status exposes the daemon's health and last-run state over HTTP.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/syncer"
)

const (
	StateIdle    = "idle"
	StateSyncing = "syncing"
)

// Tracker holds the daemon's current state and the outcome of the most
// recent sync run.
type Tracker struct {
	mu        sync.RWMutex
	state     string
	lastRun   *syncer.Summary
	lastRunAt time.Time
	lastError string
	nextRunAt time.Time
}

func NewTracker() *Tracker {
	return &Tracker{state: StateIdle}
}

// SetSyncing marks a run as in flight.
func (t *Tracker) SetSyncing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateSyncing
}

// SetResult records a finished run. err covers pre-fan-out failures only;
// per-server failures live inside the summary.
func (t *Tracker) SetResult(summary *syncer.Summary, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateIdle
	t.lastRun = summary
	t.lastRunAt = time.Now().UTC()
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
}

// SetNextRun records when the next scheduled run fires.
func (t *Tracker) SetNextRun(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextRunAt = at.UTC()
}

type statusResponse struct {
	State     string          `json:"state"`
	LastRun   *syncer.Summary `json:"last_run,omitempty"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	NextRunAt *time.Time      `json:"next_run_at,omitempty"`
}

func (t *Tracker) snapshot() statusResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()

	resp := statusResponse{
		State:     t.state,
		LastRun:   t.lastRun,
		LastError: t.lastError,
	}
	if !t.lastRunAt.IsZero() {
		at := t.lastRunAt
		resp.LastRunAt = &at
	}
	if !t.nextRunAt.IsZero() {
		at := t.nextRunAt
		resp.NextRunAt = &at
	}
	return resp
}

// NewRouter builds the daemon's HTTP surface.
func NewRouter(tracker *Tracker, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tracker.snapshot()); err != nil {
			logger.Warn("encoding status response", zap.Error(err))
		}
	})

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}
