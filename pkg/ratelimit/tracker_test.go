package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/ao/pkg/config"
)

// newTestTracker returns a tracker with a controllable clock.
func newTestTracker(t *testing.T, chains map[string][]string) (*Tracker, *time.Time) {
	t.Helper()
	cfg := config.DefaultRateLimitConfig()
	cfg.FallbackChains = chains
	tracker := NewTracker(cfg)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestResetFloorApplied(t *testing.T) {
	tracker, now := newTestTracker(t, nil)

	// Agent claims a 5-second reset; the floor wins.
	tracker.RecordRateLimit("codex", now.Add(5*time.Second), "429")

	entry := tracker.GetEntry("codex")
	require.NotNil(t, entry)
	assert.False(t, entry.ResetAt.Before(now.Add(15*time.Minute)),
		"resetAt must be at least now + floor")
	assert.Equal(t, "429", entry.Reason)
	assert.True(t, tracker.IsRateLimited("codex"))
}

func TestHonestResetBeyondFloorKept(t *testing.T) {
	tracker, now := newTestTracker(t, nil)

	resetAt := now.Add(2 * time.Hour)
	tracker.RecordRateLimit("codex", resetAt, "quota")

	entry := tracker.GetEntry("codex")
	require.NotNil(t, entry)
	assert.Equal(t, resetAt, entry.ResetAt)
}

func TestExpiryLazilyDeletes(t *testing.T) {
	tracker, now := newTestTracker(t, nil)
	tracker.RecordRateLimit("codex", time.Time{}, "429")

	assert.True(t, tracker.IsRateLimited("codex"))

	*now = now.Add(16 * time.Minute)
	assert.False(t, tracker.IsRateLimited("codex"))
	assert.Nil(t, tracker.GetEntry("codex"), "entry gone after expiry")
}

func TestFallbackChainResolution(t *testing.T) {
	tracker, _ := newTestTracker(t, map[string][]string{
		"codex": {"claude", "aider"},
	})

	assert.Equal(t, "codex", tracker.GetAvailableExecutable("codex"))

	tracker.RecordRateLimit("codex", time.Time{}, "429")
	assert.Equal(t, "claude", tracker.GetAvailableExecutable("codex"))

	tracker.RecordRateLimit("claude", time.Time{}, "429")
	assert.Equal(t, "aider", tracker.GetAvailableExecutable("codex"))

	// Whole chain limited: preferred comes back, caller decides.
	tracker.RecordRateLimit("aider", time.Time{}, "429")
	assert.Equal(t, "codex", tracker.GetAvailableExecutable("codex"))
}

func TestClear(t *testing.T) {
	tracker, _ := newTestTracker(t, nil)
	tracker.RecordRateLimit("codex", time.Time{}, "429")
	tracker.Clear()
	assert.False(t, tracker.IsRateLimited("codex"))
}

func TestDetectFromOutputIndicators(t *testing.T) {
	tracker, _ := newTestTracker(t, nil)

	tests := []struct {
		name     string
		output   string
		detected bool
	}{
		{"rate limit", "Error: rate limit exceeded for model", true},
		{"rate-limit", "upstream rate-limit hit", true},
		{"rate_limit", "RATE_LIMIT error from API", true},
		{"too many requests", "HTTP error: Too Many Requests", true},
		{"429", "server responded with 429", true},
		{"quota", "Quota exceeded for project", true},
		{"throttled", "request was throttled by upstream", true},
		{"clean output", "compiled successfully in 3.2s", false},
		{"429 inside a word", "id-4290 created", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detection := tracker.DetectFromOutput(tt.output)
			assert.Equal(t, tt.detected, detection.Detected)
			if tt.detected {
				assert.NotEmpty(t, detection.Reason)
			}
		})
	}
}

func TestDetectFromOutputRelativeReset(t *testing.T) {
	tracker, now := newTestTracker(t, nil)

	tests := []struct {
		output string
		want   time.Duration
	}{
		{"rate limit: try again in 5 minutes", 5 * time.Minute},
		{"429 too many requests, retry after 30 seconds", 30 * time.Second},
		{"throttled, please wait 2 hours", 2 * time.Hour},
		{"quota exceeded; resets in 90s", 90 * time.Second},
		{"rate limited, try again in 1 min", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			detection := tracker.DetectFromOutput(tt.output)
			require.True(t, detection.Detected)
			require.NotNil(t, detection.ResetAt)
			assert.WithinDuration(t, now.Add(tt.want), *detection.ResetAt, time.Second)
		})
	}
}

func TestDetectFromOutputAbsoluteReset(t *testing.T) {
	tracker, _ := newTestTracker(t, nil)

	detection := tracker.DetectFromOutput("quota exceeded, resets at 2026-03-14T15:30:00")
	require.True(t, detection.Detected)
	require.NotNil(t, detection.ResetAt)
	want := time.Date(2026, 3, 14, 15, 30, 0, 0, time.Local)
	assert.Equal(t, want, *detection.ResetAt)

	// Seconds are optional.
	detection = tracker.DetectFromOutput("rate limit, resets at 2026-03-14T15:30")
	require.True(t, detection.Detected)
	require.NotNil(t, detection.ResetAt)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 30, 0, 0, time.Local), *detection.ResetAt)
}

func TestDetectFromOutputWithoutResetHint(t *testing.T) {
	tracker, _ := newTestTracker(t, nil)

	detection := tracker.DetectFromOutput("failed: too many requests")
	assert.True(t, detection.Detected)
	assert.Nil(t, detection.ResetAt)
}

func TestDetectRapidExit(t *testing.T) {
	tracker, now := newTestTracker(t, nil)
	start := *now

	assert.True(t, tracker.DetectRapidExit(start, start.Add(3*time.Second)))
	assert.True(t, tracker.DetectRapidExit(start, start))
	assert.False(t, tracker.DetectRapidExit(start, start.Add(10*time.Second)),
		"threshold is exclusive")
	assert.False(t, tracker.DetectRapidExit(start, start.Add(-time.Second)),
		"negative lifetime is not a rapid exit")
}
