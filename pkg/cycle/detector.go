// Package cycle detects repeating status patterns in session histories:
// same-status loops and k-state cycles, with a rule-based judge that
// decides whether the repetition is productive or stuck.
package cycle

import (
	"sync"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/models"
)

// Loop describes a trailing run of identical statuses.
type Loop struct {
	Status models.Status `json:"status"`
	Count  int           `json:"count"`
}

// Cycle describes a repeating status pattern at the tail of the history.
type Cycle struct {
	Pattern     []models.Status `json:"pattern"`
	Repetitions int             `json:"repetitions"`
}

// Detector keeps a bounded status history per session.
type Detector struct {
	mu        sync.Mutex
	histories map[string][]models.Status

	historySize         int
	maxConsecutiveSame  int
	maxCycleRepetitions int
}

// NewDetector creates a detector from the cycle configuration.
func NewDetector(cfg *config.CycleConfig) *Detector {
	return &Detector{
		histories:           make(map[string][]models.Status),
		historySize:         cfg.HistorySize,
		maxConsecutiveSame:  cfg.MaxConsecutiveSameStatus,
		maxCycleRepetitions: cfg.MaxCycleRepetitions,
	}
}

// Record appends a status to a session's history ring.
func (d *Detector) Record(sessionID string, status models.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.histories[sessionID]
	if len(history) >= d.historySize {
		history = history[1:]
	}
	d.histories[sessionID] = append(history, status)
}

// History returns a copy of a session's recorded statuses, oldest first.
func (d *Detector) History(sessionID string) []models.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Status(nil), d.histories[sessionID]...)
}

// Forget drops a session's history (terminal sessions).
func (d *Detector) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.histories, sessionID)
}

// DetectLoop reports a trailing run of at least maxConsecutiveSameStatus
// identical statuses, or nil.
func (d *Detector) DetectLoop(sessionID string) *Loop {
	history := d.History(sessionID)
	if len(history) == 0 {
		return nil
	}

	last := history[len(history)-1]
	count := 0
	for i := len(history) - 1; i >= 0 && history[i] == last; i-- {
		count++
	}
	if count < d.maxConsecutiveSame {
		return nil
	}
	return &Loop{Status: last, Count: count}
}

// DetectCycle finds the shortest repeating tail pattern of length 2..len/2
// whose entries are not all equal and that repeats at least
// maxCycleRepetitions times. Repetitions counts the maximal run.
func (d *Detector) DetectCycle(sessionID string) *Cycle {
	history := d.History(sessionID)

	for patternLen := 2; patternLen <= len(history)/2; patternLen++ {
		pattern := history[len(history)-patternLen:]
		if allEqual(pattern) {
			continue
		}

		repetitions := tailRepetitions(history, pattern)
		if repetitions >= d.maxCycleRepetitions {
			return &Cycle{
				Pattern:     append([]models.Status(nil), pattern...),
				Repetitions: repetitions,
			}
		}
	}
	return nil
}

// tailRepetitions counts how many times pattern repeats back-to-back at
// the end of history.
func tailRepetitions(history, pattern []models.Status) int {
	repetitions := 0
	for end := len(history); end >= len(pattern); end -= len(pattern) {
		if !equalStatuses(history[end-len(pattern):end], pattern) {
			break
		}
		repetitions++
	}
	return repetitions
}

func allEqual(statuses []models.Status) bool {
	for _, s := range statuses[1:] {
		if s != statuses[0] {
			return false
		}
	}
	return true
}

func equalStatuses(a, b []models.Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
