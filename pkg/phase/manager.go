package phase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/metadata"
	"github.com/agentops/ao/pkg/models"
)

// ReviewerSpawner spawns and lists reviewer sub-sessions. The session
// manager implements it; phase logic only needs this slice of it.
type ReviewerSpawner interface {
	SpawnReviewer(ctx context.Context, parent *models.Session, role models.ReviewRole, phase models.Phase, round int) (*models.Session, error)
	ListSubSessions(ctx context.Context, parentSessionID string) ([]*models.Session, error)
}

// Manager advances one session at a time through the phased workflow and
// persists phase and reviewRound to the metadata store.
//
// Round bookkeeping: entering a review phase bumps reviewRound to at
// least 1, a changes_requested regression increments it, and approval
// out of plan_review clears it so code_review numbering restarts at 1.
type Manager struct {
	store   *metadata.Store
	spawner ReviewerSpawner
	bus     *events.Bus

	maxSpawnAttempts int

	mu            sync.Mutex
	spawnFailures map[string]int
	escalated     map[string]bool

	logger *slog.Logger
}

// NewManager creates a phase manager.
func NewManager(store *metadata.Store, spawner ReviewerSpawner, bus *events.Bus, workflow *config.WorkflowConfig) *Manager {
	attempts := workflow.MaxReviewerSpawnAttempts
	if attempts <= 0 {
		attempts = config.DefaultWorkflowConfig().MaxReviewerSpawnAttempts
	}
	return &Manager{
		store:            store,
		spawner:          spawner,
		bus:              bus,
		maxSpawnAttempts: attempts,
		spawnFailures:    make(map[string]int),
		escalated:        make(map[string]bool),
		logger:           slog.With("component", "phase"),
	}
}

// Check evaluates the session against its workspace artifacts and returns
// the (possibly advanced) phase. Sub-sessions and simple-mode projects
// pass through untouched.
func (m *Manager) Check(ctx context.Context, session *models.Session, project *config.ProjectConfig) (models.Phase, error) {
	if session.IsSubSession() {
		return session.Phase, nil
	}
	if project.Workflow == nil || project.Workflow.Mode == config.WorkflowSimple {
		return session.Phase, nil
	}

	round := currentRound(session)

	switch session.Phase {
	case models.PhasePlanning:
		if !artifactPresent(PlanPath(session.WorkspacePath)) {
			return models.PhasePlanning, nil
		}
		return m.transition(session, models.PhasePlanReview, atLeastOne(round))

	case models.PhasePlanReview:
		return m.checkReviewPhase(ctx, session, round,
			models.PhaseImplementing, models.PhasePlanning)

	case models.PhaseImplementing:
		if project.Workflow.AutoCodeReview && artifactPresent(CodePath(session.WorkspacePath)) {
			return m.transition(session, models.PhaseCodeReview, atLeastOne(round))
		}
		return models.PhaseImplementing, nil

	case models.PhaseCodeReview:
		return m.checkReviewPhase(ctx, session, round,
			models.PhaseDone, models.PhaseImplementing)

	default:
		return session.Phase, nil
	}
}

// checkReviewPhase decides a review phase: regression on any
// changes_requested, advance when all roles approved, otherwise spawn the
// reviewers still missing for the current round.
func (m *Manager) checkReviewPhase(ctx context.Context, session *models.Session, round int, onApproved, onChanges models.Phase) (models.Phase, error) {
	reviews, err := collectReviews(session.WorkspacePath, session.Phase, round)
	if err != nil {
		return session.Phase, err
	}

	for _, review := range reviews {
		if review.Decision == models.DecisionChangesRequested {
			m.bus.Publish(events.New(events.TypeReviewCompleted, events.PriorityAction,
				session.ProjectID, session.ID,
				fmt.Sprintf("%s requested changes in %s round %d", review.Role, session.Phase, round)).
				WithData(map[string]any{"role": string(review.Role), "round": round}))
			return m.transition(session, onChanges, round+1)
		}
	}

	if len(reviews) == len(models.AllReviewRoles) {
		m.bus.Publish(events.New(events.TypeReviewCompleted, events.PriorityInfo,
			session.ProjectID, session.ID,
			fmt.Sprintf("all reviewers approved %s round %d", session.Phase, round)))
		nextRound := round
		if onApproved == models.PhaseImplementing {
			// Clear so code_review numbering restarts at 1.
			nextRound = 0
		}
		return m.transition(session, onApproved, nextRound)
	}

	if err := m.spawnMissingReviewers(ctx, session, round, reviews); err != nil {
		return session.Phase, err
	}
	return session.Phase, nil
}

// spawnMissingReviewers spawns a sub-session for every role that has
// neither a review artifact nor a live reviewer for the current round.
// Spawning is idempotent per (session, phase, round, role).
func (m *Manager) spawnMissingReviewers(ctx context.Context, session *models.Session, round int, reviews map[models.ReviewRole]*Review) error {
	live, err := m.spawner.ListSubSessions(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("list sub-sessions: %w", err)
	}

	liveRoles := make(map[models.ReviewRole]bool)
	for _, sub := range live {
		info := sub.SubSessionInfo
		if info == nil || sub.Status.IsTerminal() || sub.Status == models.StatusErrored {
			continue
		}
		if info.Phase == session.Phase && info.Round == round {
			liveRoles[info.Role] = true
		}
	}

	for _, role := range models.AllReviewRoles {
		if reviews[role] != nil || liveRoles[role] {
			continue
		}
		if !m.recordSpawnAttempt(session.ID, session.Phase, round, role) {
			continue
		}

		if _, err := m.spawner.SpawnReviewer(ctx, session, role, session.Phase, round); err != nil {
			m.logger.Warn("Reviewer spawn failed",
				"session_id", session.ID, "role", role,
				"phase", session.Phase, "round", round, "error", err)
			m.recordSpawnFailure(session, round, role)
			continue
		}
		m.bus.Publish(events.New(events.TypeReviewRequested, events.PriorityInfo,
			session.ProjectID, session.ID,
			fmt.Sprintf("spawned %s reviewer for %s round %d", role, session.Phase, round)).
			WithData(map[string]any{"role": string(role), "round": round}))
	}
	return nil
}

// transition persists the new phase and round and publishes the
// phase.transitioned event.
func (m *Manager) transition(session *models.Session, to models.Phase, round int) (models.Phase, error) {
	from := session.Phase
	update := map[string]string{
		metadata.KeyPhase:       string(to),
		metadata.KeyReviewRound: strconv.Itoa(round),
	}
	if round == 0 {
		update[metadata.KeyReviewRound] = ""
	}
	if err := m.store.Update(session.ID, update); err != nil {
		return from, fmt.Errorf("persist phase transition: %w", err)
	}

	session.Phase = to
	if session.Metadata == nil {
		session.Metadata = make(map[string]string)
	}
	session.Metadata[metadata.KeyPhase] = string(to)
	session.Metadata[metadata.KeyReviewRound] = update[metadata.KeyReviewRound]

	m.logger.Info("Phase transitioned",
		"session_id", session.ID, "from", from, "to", to, "round", round)
	m.bus.Publish(events.New(events.TypePhaseTransitioned, events.PriorityInfo,
		session.ProjectID, session.ID,
		fmt.Sprintf("phase %s -> %s", from, to)).
		WithData(map[string]any{"from": string(from), "to": string(to), "round": round}))
	return to, nil
}

// recordSpawnAttempt reports whether another spawn may be attempted for
// this (session, phase, round, role). Crossing the attempt cap emits one
// escalation.required and permanently skips the role for the round.
func (m *Manager) recordSpawnAttempt(sessionID string, phase models.Phase, round int, role models.ReviewRole) bool {
	key := spawnKey(sessionID, phase, round, role)

	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.escalated[key] && m.spawnFailures[key] < m.maxSpawnAttempts
}

func (m *Manager) recordSpawnFailure(session *models.Session, round int, role models.ReviewRole) {
	key := spawnKey(session.ID, session.Phase, round, role)

	m.mu.Lock()
	m.spawnFailures[key]++
	escalate := m.spawnFailures[key] >= m.maxSpawnAttempts && !m.escalated[key]
	if escalate {
		m.escalated[key] = true
	}
	m.mu.Unlock()

	if escalate {
		m.bus.Publish(events.New(events.TypeEscalationRequired, events.PriorityUrgent,
			session.ProjectID, session.ID,
			fmt.Sprintf("giving up spawning %s reviewer for %s round %d after %d attempts",
				role, session.Phase, round, m.maxSpawnAttempts)).
			WithData(map[string]any{"role": string(role), "round": round}))
	}
}

// Forget drops spawn bookkeeping for a finished session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := sessionID + "|"
	for key := range m.spawnFailures {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.spawnFailures, key)
		}
	}
	for key := range m.escalated {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.escalated, key)
		}
	}
}

func spawnKey(sessionID string, phase models.Phase, round int, role models.ReviewRole) string {
	return fmt.Sprintf("%s|%s|%d|%s", sessionID, phase, round, role)
}

// currentRound reads reviewRound from session metadata; absent or
// malformed values count as round 0.
func currentRound(session *models.Session) int {
	raw := session.Metadata[metadata.KeyReviewRound]
	round, err := strconv.Atoi(raw)
	if err != nil || round < 0 {
		return 0
	}
	return round
}

func atLeastOne(round int) int {
	if round < 1 {
		return 1
	}
	return round
}
