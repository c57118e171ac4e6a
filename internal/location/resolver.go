// Package location tracks per-session coordinates. A session's coordinates
// are set at most once (one snapshot, never refreshed); absence is a valid,
// queryable state that consumers must surface rather than default away.
package location

import (
	"errors"
	"log/slog"
	"sync"

	"airbot/internal/domain"
)

// ErrUnavailable carries the exact text shown to the user when a chat turn
// runs without coordinates.
var ErrUnavailable = errors.New("Location unavailable.")

// ErrNotFinite is returned for NaN or infinite coordinate reports.
var ErrNotFinite = errors.New("location: coordinates must be finite")

// Resolver holds the one-shot coordinates for every session.
type Resolver struct {
	mu       sync.RWMutex
	coords   map[string]domain.Coordinates
	fallback *domain.Coordinates
	logger   *slog.Logger
}

// New creates a Resolver. fallback, when non-nil, answers for sessions that
// never reported their own position.
func New(fallback *domain.Coordinates, logger *slog.Logger) *Resolver {
	return &Resolver{
		coords:   make(map[string]domain.Coordinates),
		fallback: fallback,
		logger:   logger,
	}
}

// Set records the session's coordinates. The first finite report wins;
// later reports are ignored so the session keeps a single stable snapshot.
func (r *Resolver) Set(sessionKey string, c domain.Coordinates) error {
	if !c.Finite() {
		return ErrNotFinite
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.coords[sessionKey]; ok {
		r.logger.Debug("coordinates already set for session, ignoring report",
			"session", sessionKey, "lat", prev.Latitude, "lon", prev.Longitude)
		return nil
	}

	r.coords[sessionKey] = c
	r.logger.Info("coordinates set", "session", sessionKey, "lat", c.Latitude, "lon", c.Longitude)
	return nil
}

// Get returns the session's coordinates, falling back to the configured
// default when the session never reported. The second return is false when
// no position is known at all.
func (r *Resolver) Get(sessionKey string) (domain.Coordinates, bool) {
	r.mu.RLock()
	c, ok := r.coords[sessionKey]
	r.mu.RUnlock()
	if ok {
		return c, true
	}
	if r.fallback != nil {
		return *r.fallback, true
	}
	return domain.Coordinates{}, false
}

// Has reports whether the session itself reported coordinates.
func (r *Resolver) Has(sessionKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.coords[sessionKey]
	return ok
}
