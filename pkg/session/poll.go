package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/agentops/ao/pkg/cycle"
	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/metadata"
	"github.com/agentops/ao/pkg/models"
)

// List returns the non-terminal sessions of a project (or all projects
// when projectID is empty), enriched with live activity and PR data.
func (m *Manager) List(ctx context.Context, projectID string) ([]*models.Session, error) {
	return m.list(ctx, projectID, false)
}

// ListAll is List including terminal sessions. Terminal sessions
// short-circuit enrichment and are returned as recorded.
func (m *Manager) ListAll(ctx context.Context, projectID string) ([]*models.Session, error) {
	return m.list(ctx, projectID, true)
}

func (m *Manager) list(ctx context.Context, projectID string, includeTerminal bool) ([]*models.Session, error) {
	var out []*models.Session
	for _, ps := range m.projectsFor(projectID) {
		sessions, err := m.loadProjectSessions(ps)
		if err != nil {
			return nil, err
		}
		var live []*models.Session
		for _, session := range sessions {
			if session.Status.IsTerminal() {
				if includeTerminal {
					out = append(out, session)
				}
				continue
			}
			live = append(live, session)
		}
		m.enrichSessions(ctx, ps, live, false)
		out = append(out, live...)
	}
	return out, nil
}

// Run drives the reconciliation loop until ctx is cancelled. Each tick
// is jittered so several orchestrators on one host do not align their
// SCM bursts.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("Reconciliation loop started",
		"interval", m.cfg.Orchestrator.PollInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Reconciliation loop stopped")
			return
		case <-time.After(m.tickInterval()):
			if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Poll tick failed", "error", err)
			}
		}
	}
}

func (m *Manager) tickInterval() time.Duration {
	interval := m.cfg.Orchestrator.PollInterval
	jitter := m.cfg.Orchestrator.PollIntervalJitter
	if jitter > 0 {
		interval += time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	}
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

// Poll runs one reconciliation tick: reload sessions from disk, sync the
// pool, then reconcile each live session in parallel.
func (m *Manager) Poll(ctx context.Context) error {
	start := m.now()

	var all []*models.Session
	perProject := make(map[string][]*models.Session)
	for _, ps := range m.sortedProjects() {
		sessions, err := m.loadProjectSessions(ps)
		if err != nil {
			return err
		}
		all = append(all, sessions...)
		perProject[ps.id] = sessions
	}

	m.pool.SyncFromSessions(all)

	for _, ps := range m.sortedProjects() {
		var live []*models.Session
		active := 0
		for _, session := range perProject[ps.id] {
			if session.Status.CountsAgainstCaps() {
				active++
			}
			if !session.Status.IsTerminal() {
				live = append(live, session)
			}
		}
		m.metrics.SetActiveSessions(ps.id, active)
		m.enrichSessions(ctx, ps, live, true)
	}

	m.metrics.ObservePoll(m.now().Sub(start))
	return nil
}

// enrichSessions reconciles sessions in parallel, bounded by the
// enrichment semaphore. A panicking plugin is contained to its session;
// reconcile=false limits the pass to read-only enrichment for List.
func (m *Manager) enrichSessions(ctx context.Context, ps *projectState, sessions []*models.Session, reconcile bool) {
	var wg sync.WaitGroup
	for _, session := range sessions {
		if err := m.enrichSem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(session *models.Session) {
			defer wg.Done()
			defer m.enrichSem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					m.metrics.RecordEnrichmentError("panic")
					m.logger.Error("Session reconcile panicked",
						"session_id", session.ID, "panic", r)
				}
			}()
			m.reconcileSession(ctx, ps, session, reconcile)
		}(session)
	}
	wg.Wait()
}

// reconcileSession runs the per-session steps of a tick: liveness,
// activity, PR enrichment, status derivation, cycle judgment, phase
// advancement.
func (m *Manager) reconcileSession(ctx context.Context, ps *projectState, session *models.Session, reconcile bool) {
	m.checkLiveness(ctx, ps, session, reconcile)
	m.refreshActivity(ctx, ps, session)
	m.enrichPR(ctx, ps, session)

	if !reconcile {
		return
	}

	m.touchActivity(ps, session)
	m.deriveAndPersistStatus(ps, session)

	if _, err := ps.phase.Check(ctx, session, ps.cfg); err != nil {
		m.logger.Warn("Phase check failed",
			"session_id", session.ID, "error", err)
	}
}

// checkLiveness marks sessions whose runtime died and feeds suspicious
// rapid exits into the rate-limit tracker.
func (m *Manager) checkLiveness(ctx context.Context, ps *projectState, session *models.Session, reconcile bool) {
	if session.RuntimeHandle == nil || session.Activity == models.ActivityExited {
		return
	}
	runtimePlugin, err := m.runtimeFor(ps)
	if err != nil {
		return
	}
	if runtimePlugin.IsAlive(ctx, session.RuntimeHandle) {
		return
	}

	exitedAt := m.now()
	output, _ := runtimePlugin.Output(ctx, session.RuntimeHandle, 200)
	session.Activity = models.ActivityExited
	session.LastActivityAt = exitedAt

	if !reconcile {
		return
	}
	if err := m.persist(ps, session); err != nil {
		return
	}

	m.publish(events.New(events.TypeSessionExited, events.PriorityWarning,
		ps.id, session.ID, "agent process exited").
		WithData(map[string]any{"activity": string(models.ActivityExited)}))

	executable := session.Metadata[keyAgent]
	if executable == "" {
		executable = ps.cfg.Agent
	}
	detection := m.tracker.DetectFromOutput(output)
	rapid := m.tracker.DetectRapidExit(session.CreatedAt, exitedAt)
	if !detection.Detected && !rapid {
		return
	}

	resetAt := time.Time{}
	reason := "rapid exit"
	if detection.Detected {
		reason = detection.Reason
		if detection.ResetAt != nil {
			resetAt = *detection.ResetAt
		}
	}
	m.tracker.RecordRateLimit(executable, resetAt, reason)
	m.metrics.RecordRateLimit(executable)
	m.publish(events.New(events.TypeSessionRateLimited, events.PriorityWarning,
		ps.id, session.ID,
		fmt.Sprintf("executable %s appears rate limited (%s)", executable, reason)).
		WithData(map[string]any{"executable": executable, "reason": reason}))
}

// refreshActivity folds the agent plugin's activity reading into the
// session.
func (m *Manager) refreshActivity(ctx context.Context, ps *projectState, session *models.Session) {
	if session.Activity == models.ActivityExited {
		return
	}
	executable := session.Metadata[keyAgent]
	if executable == "" {
		executable = ps.cfg.Agent
	}
	agentPlugin, err := m.agentFor(ps, executable)
	if err != nil {
		return
	}
	reading, err := agentPlugin.ActivityState(ctx, session, m.cfg.Orchestrator.EnrichmentTimeout)
	if err != nil {
		m.metrics.RecordEnrichmentError("activity")
		return
	}
	if reading.State != "" {
		session.Activity = reading.State
	}
	if !reading.Timestamp.IsZero() {
		session.LastActivityAt = reading.Timestamp
	}
}

// enrichPR attaches PR, CI, and review data from the SCM plugin.
// Best-effort with a hard deadline: on failure the session is reported
// without PR data, never dropped.
func (m *Manager) enrichPR(ctx context.Context, ps *projectState, session *models.Session) {
	if session.Branch == "" {
		return
	}
	scmPlugin, err := m.scmFor(ps)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Orchestrator.EnrichmentTimeout)
	defer cancel()

	cacheKey := ps.id + "|" + session.ID
	pr, cached := m.prCache.Get(cacheKey)
	if !cached {
		pr, err = scmPlugin.DetectPR(ctx, session, ps.cfg)
		if err != nil {
			m.metrics.RecordEnrichmentError("scm")
			m.logger.Debug("PR detection failed",
				"session_id", session.ID, "error", err)
			return
		}
		if pr == nil {
			return
		}
		m.prCache.Add(cacheKey, pr)
	}

	// Refresh the volatile parts of the cached PR each tick.
	fresh := *pr
	if state, err := scmPlugin.PRState(ctx, pr); err == nil {
		fresh.State = state
	}
	if ci, err := scmPlugin.CISummary(ctx, pr); err == nil {
		fresh.CIStatus = ci
	}
	if decision, err := scmPlugin.ReviewDecision(ctx, pr); err == nil {
		fresh.ReviewDecision = decision
	}
	if mergeable, err := scmPlugin.Mergeability(ctx, pr); err == nil {
		fresh.Mergeable = mergeable
	}
	if pending, err := scmPlugin.PendingComments(ctx, pr); err == nil {
		fresh.UnresolvedComments = pending
	}
	session.PR = &fresh

	if fresh.State == models.PRStateMerged || fresh.State == models.PRStateClosed {
		m.prCache.Remove(cacheKey)
	}
}

// deriveAndPersistStatus applies the status table, persists changes, and
// feeds transitions into the cycle detector.
func (m *Manager) deriveAndPersistStatus(ps *projectState, session *models.Session) {
	previous := session.Status
	next := DeriveStatus(previous, session.Activity, session.PR)
	if next == previous {
		return
	}

	session.Status = next
	if err := m.persist(ps, session); err != nil {
		return
	}
	m.publishStatusEvent(ps, session, previous, next)

	// The detector sees transitions, not per-tick samples, so a session
	// that stays working for an hour is not mistaken for a loop.
	m.detector.Record(session.ID, next)
	judgment := m.detector.Judge(session.ID)
	if judgment.Recommendation == cycle.RecommendContinue {
		return
	}

	m.metrics.RecordCycle()
	priority := events.PriorityWarning
	if judgment.Recommendation == cycle.RecommendEscalate {
		priority = events.PriorityUrgent
	}
	m.publish(events.New(events.TypeSessionCycle, priority,
		ps.id, session.ID, judgment.Reason).
		WithData(map[string]any{
			"status":           string(next),
			"verdict":          string(judgment.Verdict),
			"recommendation":   string(judgment.Recommendation),
			"suggested_action": judgment.SuggestedAction,
		}))
}

// publishStatusEvent maps status transitions onto the PR event taxonomy.
func (m *Manager) publishStatusEvent(ps *projectState, session *models.Session, from, to models.Status) {
	data := map[string]any{"status": string(to), "from": string(from)}
	if session.PR != nil {
		data["pr_url"] = session.PR.URL
	}

	var evt events.Event
	switch to {
	case models.StatusPROpen, models.StatusReviewPending:
		if from != models.StatusSpawning && from != models.StatusWorking && from != models.StatusNeedsInput {
			return
		}
		evt = events.New(events.TypePROpened, events.PriorityInfo,
			ps.id, session.ID, "pull request opened")
	case models.StatusCIFailed:
		evt = events.New(events.TypePRCIFailed, events.PriorityAction,
			ps.id, session.ID, "CI failed on pull request")
	case models.StatusChangesRequested:
		evt = events.New(events.TypePRChangesRequested, events.PriorityAction,
			ps.id, session.ID, "changes requested on pull request")
	case models.StatusMergeable:
		evt = events.New(events.TypePRMergeable, events.PriorityAction,
			ps.id, session.ID, "pull request approved and mergeable")
	case models.StatusMerged:
		evt = events.New(events.TypePRMerged, events.PriorityInfo,
			ps.id, session.ID, "pull request merged")
	default:
		return
	}
	m.publish(evt.WithData(data))
}

// touchActivity persists only the activity fields; used where a full
// record write would race concurrent updates.
func (m *Manager) touchActivity(ps *projectState, session *models.Session) {
	_ = ps.store.Update(session.ID, map[string]string{
		metadata.KeyActivity:       string(session.Activity),
		metadata.KeyLastActivityAt: session.LastActivityAt.UTC().Format(time.RFC3339),
	})
}
