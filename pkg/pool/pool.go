// Package pool implements the in-memory concurrency accountant enforcing
// global and per-project active-session caps.
package pool

import (
	"fmt"
	"sync"

	"github.com/agentops/ao/pkg/models"
)

// Limit identifies which cap refused an admission.
type Limit string

// Limits reported by CanSpawn.
const (
	LimitGlobal  Limit = "global"
	LimitProject Limit = "project"
)

// Admission is the result of an admission check.
type Admission struct {
	CanSpawn bool `json:"can_spawn"`

	// LimitHit is set when CanSpawn is false.
	LimitHit Limit  `json:"limit_hit,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// SlotsRemaining is how many further sessions could be admitted after
	// a hypothetical admission now. Never negative.
	SlotsRemaining int `json:"slots_remaining"`
}

// ProjectCount reports active vs. maximum sessions for one project.
type ProjectCount struct {
	Active int `json:"active"`
	Max    int `json:"max"`
}

// Status is a snapshot of the pool's accounting.
type Status struct {
	GlobalActive  int                     `json:"global_active"`
	GlobalMax     int                     `json:"global_max"`
	ProjectCounts map[string]ProjectCount `json:"project_counts"`
}

// Pool tracks active sessions per project. All operations are synchronous
// and in-memory; the internal mutex makes CanSpawn + RecordSpawn (via
// Admit) one atomic step so concurrent spawns cannot overbook.
type Pool struct {
	mu sync.Mutex

	globalMax         int
	projectMaxDefault int
	projectMax        map[string]int // per-project overrides

	activeByProject map[string]map[string]bool
}

// New creates a pool with the given caps. projectOverrides may be nil.
func New(globalMax, projectMaxDefault int, projectOverrides map[string]int) *Pool {
	overrides := make(map[string]int, len(projectOverrides))
	for project, max := range projectOverrides {
		if max > 0 {
			overrides[project] = max
		}
	}
	return &Pool{
		globalMax:         globalMax,
		projectMaxDefault: projectMaxDefault,
		projectMax:        overrides,
		activeByProject:   make(map[string]map[string]bool),
	}
}

// CanSpawn checks whether one more session fits projectID's and the global
// budget. The global check precedes the project check, so an exhausted
// global budget always reports LimitGlobal even if a project override
// would allow more.
func (p *Pool) CanSpawn(projectID string) Admission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canSpawnLocked(projectID)
}

// RecordSpawn marks a session active. Idempotent for the same session ID.
func (p *Pool) RecordSpawn(projectID, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordSpawnLocked(projectID, sessionID)
}

// RecordExit removes a session from the accounting. Idempotent; unknown
// sessions are a no-op and counts never go negative.
func (p *Pool) RecordExit(projectID, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sessions, ok := p.activeByProject[projectID]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(p.activeByProject, projectID)
	}
}

// Admit performs CanSpawn and, when admitted, RecordSpawn in one atomic
// step. The returned Admission reflects the state before recording.
func (p *Pool) Admit(projectID, sessionID string) Admission {
	p.mu.Lock()
	defer p.mu.Unlock()
	admission := p.canSpawnLocked(projectID)
	if admission.CanSpawn {
		p.recordSpawnLocked(projectID, sessionID)
	}
	return admission
}

// SyncFromSessions rebuilds the accounting from a session list. Sessions
// in terminal or errored statuses are excluded. Previous state is wholly
// replaced.
func (p *Pool) SyncFromSessions(sessions []*models.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.activeByProject = make(map[string]map[string]bool)
	for _, session := range sessions {
		if !session.Status.CountsAgainstCaps() {
			continue
		}
		p.recordSpawnLocked(session.ProjectID, session.ID)
	}
}

// GetStatus returns a snapshot of the accounting. Projects with configured
// overrides are always listed, even at zero active sessions.
func (p *Pool) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[string]ProjectCount, len(p.activeByProject)+len(p.projectMax))
	for project := range p.projectMax {
		counts[project] = ProjectCount{Active: 0, Max: p.maxFor(project)}
	}
	global := 0
	for project, sessions := range p.activeByProject {
		global += len(sessions)
		counts[project] = ProjectCount{Active: len(sessions), Max: p.maxFor(project)}
	}
	return Status{
		GlobalActive:  global,
		GlobalMax:     p.globalMax,
		ProjectCounts: counts,
	}
}

// Clear drops all accounting state.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeByProject = make(map[string]map[string]bool)
}

// --- internal, caller holds p.mu ---

func (p *Pool) canSpawnLocked(projectID string) Admission {
	globalActive := 0
	for _, sessions := range p.activeByProject {
		globalActive += len(sessions)
	}
	projectActive := len(p.activeByProject[projectID])
	projectMax := p.maxFor(projectID)

	globalRemaining := p.globalMax - globalActive - 1
	projectRemaining := projectMax - projectActive - 1

	slots := min(globalRemaining, projectRemaining)
	if slots < 0 {
		slots = 0
	}

	// Global before project: see package doc.
	if globalRemaining < 0 {
		return Admission{
			LimitHit:       LimitGlobal,
			Reason:         fmt.Sprintf("global limit reached (%d/%d active)", globalActive, p.globalMax),
			SlotsRemaining: slots,
		}
	}
	if projectRemaining < 0 {
		return Admission{
			LimitHit:       LimitProject,
			Reason:         fmt.Sprintf("project %q limit reached (%d/%d active)", projectID, projectActive, projectMax),
			SlotsRemaining: slots,
		}
	}
	return Admission{CanSpawn: true, SlotsRemaining: slots}
}

func (p *Pool) recordSpawnLocked(projectID, sessionID string) {
	sessions, ok := p.activeByProject[projectID]
	if !ok {
		sessions = make(map[string]bool)
		p.activeByProject[projectID] = sessions
	}
	sessions[sessionID] = true
}

func (p *Pool) maxFor(projectID string) int {
	if max, ok := p.projectMax[projectID]; ok {
		return max
	}
	return p.projectMaxDefault
}
