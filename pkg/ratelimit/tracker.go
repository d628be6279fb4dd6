// Package ratelimit tracks per-executable rate-limit state and resolves
// fallback executables when the preferred agent is limited.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agentops/ao/pkg/config"
)

// Entry records one executable's rate-limit state.
type Entry struct {
	Executable    string    `json:"executable"`
	RateLimitedAt time.Time `json:"rate_limited_at"`
	ResetAt       time.Time `json:"reset_at"`
	Reason        string    `json:"reason"`
}

// Tracker keeps rate-limit entries per executable. ResetAt is floored to
// now + MinResetFloor on record, regardless of what the agent reported, so
// false "retry in 30s" claims cannot thrash the fleet.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Entry

	minResetFloor      time.Duration
	rapidExitThreshold time.Duration
	fallbackChains     map[string][]string

	// now is swappable for tests.
	now func() time.Time
}

// NewTracker creates a tracker from the rate-limit configuration.
func NewTracker(cfg *config.RateLimitConfig) *Tracker {
	return &Tracker{
		entries:            make(map[string]*Entry),
		minResetFloor:      cfg.MinResetFloor,
		rapidExitThreshold: cfg.RapidExitThreshold,
		fallbackChains:     cfg.FallbackChains,
		now:                time.Now,
	}
}

// RecordRateLimit marks an executable rate limited until resetAt, floored
// to now + MinResetFloor.
func (t *Tracker) RecordRateLimit(executable string, resetAt time.Time, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	floor := now.Add(t.minResetFloor)
	if resetAt.Before(floor) {
		resetAt = floor
	}

	t.entries[executable] = &Entry{
		Executable:    executable,
		RateLimitedAt: now,
		ResetAt:       resetAt,
		Reason:        reason,
	}
	slog.Warn("Executable rate limited",
		"executable", executable, "reset_at", resetAt, "reason", reason)
}

// IsRateLimited reports whether an executable is currently limited.
// Entries whose resetAt has passed are lazily deleted.
func (t *Tracker) IsRateLimited(executable string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRateLimitedLocked(executable)
}

// GetEntry returns the current entry for an executable, or nil. Expired
// entries are removed and reported as nil.
func (t *Tracker) GetEntry(executable string) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isRateLimitedLocked(executable) {
		return nil
	}
	entry := *t.entries[executable]
	return &entry
}

// GetAvailableExecutable returns preferred if it is not limited; otherwise
// it walks the configured fallback chain and returns the first unlimited
// executable. When the whole chain is limited, preferred is returned and
// the caller decides what to do.
func (t *Tracker) GetAvailableExecutable(preferred string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isRateLimitedLocked(preferred) {
		return preferred
	}
	for _, fallback := range t.fallbackChains[preferred] {
		if !t.isRateLimitedLocked(fallback) {
			slog.Info("Resolved fallback executable",
				"preferred", preferred, "fallback", fallback)
			return fallback
		}
	}
	return preferred
}

// Clear drops all entries.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*Entry)
}

func (t *Tracker) isRateLimitedLocked(executable string) bool {
	entry, ok := t.entries[executable]
	if !ok {
		return false
	}
	if !entry.ResetAt.After(t.now()) {
		delete(t.entries, executable)
		return false
	}
	return true
}
