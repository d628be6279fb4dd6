// Package session implements the Session Manager: spawning, messaging,
// killing, restoring, and reconciling the fleet of agent sessions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/cycle"
	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/metadata"
	"github.com/agentops/ao/pkg/metrics"
	"github.com/agentops/ao/pkg/models"
	"github.com/agentops/ao/pkg/paths"
	"github.com/agentops/ao/pkg/phase"
	"github.com/agentops/ao/pkg/plugin"
	"github.com/agentops/ao/pkg/pool"
	"github.com/agentops/ao/pkg/ratelimit"
)

// Builtin fallbacks used when a project leaves a plugin slot empty.
const (
	defaultRuntimeName = "process"
)

// prCacheSize bounds the PR discovery cache across all sessions.
const prCacheSize = 512

// SpawnRequest carries everything Spawn needs beyond the project config.
type SpawnRequest struct {
	ProjectID string
	IssueID   string
	// Agent overrides the project's preferred executable.
	Agent  string
	Prompt string
	// Phase seeds the workflow phase; empty selects the project default.
	Phase          models.Phase
	SubSessionInfo *models.SubSessionInfo
	// WorkspacePath reuses an existing workspace instead of creating one
	// (reviewer sub-sessions work inside their parent's workspace).
	WorkspacePath string
	Metadata      map[string]string
}

// projectState bundles the per-project collaborators.
type projectState struct {
	id          string
	cfg         *config.ProjectConfig
	store       *metadata.Store
	worktreeDir string
	phase       *phase.Manager
}

// Manager is the nucleus: it owns session lifecycle and the
// reconciliation loop, and it is the only writer of session metadata.
type Manager struct {
	cfg      *config.Config
	registry *plugin.Registry
	pool     *pool.Pool
	tracker  *ratelimit.Tracker
	detector *cycle.Detector
	bus      *events.Bus
	metrics  *metrics.Metrics

	projects map[string]*projectState

	enrichSem *semaphore.Weighted
	prCache   *lru.Cache[string, *models.PRInfo]

	mu          sync.Mutex
	sendCancels map[string]context.CancelFunc
	handles     map[string]*models.RuntimeHandle
	lastSeq     map[string]int

	logger *slog.Logger
	now    func() time.Time
}

// NewManager wires the session manager from configuration. The metrics
// handle may be nil.
func NewManager(cfg *config.Config, registry *plugin.Registry, bus *events.Bus, m *metrics.Metrics) (*Manager, error) {
	overrides := make(map[string]int)
	for id, project := range cfg.Projects {
		if project.MaxSessions > 0 {
			overrides[id] = project.MaxSessions
		}
	}

	parallelism := cfg.Orchestrator.EnrichmentParallelism
	if parallelism <= 0 {
		parallelism = cfg.Pool.GlobalMax * 2
	}

	prCache, err := lru.New[string, *models.PRInfo](prCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create pr cache: %w", err)
	}

	mgr := &Manager{
		cfg:         cfg,
		registry:    registry,
		pool:        pool.New(cfg.Pool.GlobalMax, cfg.Pool.ProjectMaxDefault, overrides),
		tracker:     ratelimit.NewTracker(cfg.RateLimit),
		detector:    cycle.NewDetector(cfg.Cycle),
		bus:         bus,
		metrics:     m,
		projects:    make(map[string]*projectState),
		enrichSem:   semaphore.NewWeighted(int64(parallelism)),
		prCache:     prCache,
		sendCancels: make(map[string]context.CancelFunc),
		handles:     make(map[string]*models.RuntimeHandle),
		lastSeq:     make(map[string]int),
		logger:      slog.With("component", "session"),
		now:         time.Now,
	}

	resolver := paths.NewResolver(cfg.DataDir)
	for id, project := range cfg.Projects {
		sessionsDir, worktreeDir, err := resolver.EnsureProjectDirs(cfg.ConfigPath, project.Path)
		if err != nil {
			return nil, fmt.Errorf("prepare project %s: %w", id, err)
		}
		store, err := metadata.NewStore(sessionsDir)
		if err != nil {
			return nil, fmt.Errorf("open metadata store for %s: %w", id, err)
		}
		workflow := project.Workflow
		if workflow == nil {
			workflow = config.DefaultWorkflowConfig()
		}
		mgr.projects[id] = &projectState{
			id:          id,
			cfg:         project,
			store:       store,
			worktreeDir: worktreeDir,
			phase:       phase.NewManager(store, mgr, bus, workflow),
		}
	}
	return mgr, nil
}

// Pool exposes the worker pool for status surfaces.
func (m *Manager) Pool() *pool.Pool { return m.pool }

// Tracker exposes the rate-limit tracker for status surfaces.
func (m *Manager) Tracker() *ratelimit.Tracker { return m.tracker }

// Spawn allocates and launches a new session.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*models.Session, error) {
	ps, ok := m.projects[req.ProjectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrProjectNotFound, req.ProjectID)
	}

	id, err := m.nextSessionID(ps)
	if err != nil {
		return nil, err
	}

	admission := m.pool.Admit(req.ProjectID, id)
	if !admission.CanSpawn {
		m.metrics.RecordSpawnDenied(string(admission.LimitHit))
		return nil, &SpawnDeniedError{Admission: admission}
	}
	admitted := true
	defer func() {
		if !admitted {
			m.pool.RecordExit(req.ProjectID, id)
		}
	}()

	preferred := req.Agent
	if preferred == "" {
		preferred = ps.cfg.Agent
	}
	executable := m.tracker.GetAvailableExecutable(preferred)
	if m.tracker.IsRateLimited(executable) {
		admitted = false
		entry := m.tracker.GetEntry(executable)
		resetAt := m.now().Add(m.cfg.RateLimit.MinResetFloor)
		if entry != nil {
			resetAt = entry.ResetAt
		}
		return nil, &RateLimitedError{Executable: executable, ResetAt: resetAt}
	}

	agentPlugin, err := m.agentFor(ps, executable)
	if err != nil {
		admitted = false
		return nil, err
	}
	runtimePlugin, err := m.runtimeFor(ps)
	if err != nil {
		admitted = false
		return nil, err
	}

	branch, prompt, err := m.resolveIssue(ctx, ps, id, req)
	if err != nil {
		admitted = false
		return nil, err
	}

	workspacePath := req.WorkspacePath
	if workspacePath == "" {
		workspacePath, err = m.createWorkspace(ctx, ps, id, branch)
		if err != nil {
			admitted = false
			return nil, err
		}
	}

	session := &models.Session{
		ID:            id,
		ProjectID:     req.ProjectID,
		Branch:        branch,
		IssueID:       req.IssueID,
		WorkspacePath: workspacePath,
		Status:        models.StatusSpawning,
		Activity:      models.ActivityStarting,
		Phase:         m.initialPhase(ps, req),
		SubSessionInfo: req.SubSessionInfo,
		Metadata:      map[string]string{keyAgent: executable},
		CreatedAt:     m.now(),
		LastActivityAt: m.now(),
	}
	for k, v := range req.Metadata {
		session.Metadata[k] = v
	}

	// Persist before launching so a crash mid-spawn leaves a recoverable
	// record instead of an orphaned workspace.
	if err := m.persist(ps, session); err != nil {
		admitted = false
		return nil, err
	}

	if hooker, ok := agentPlugin.(plugin.WorkspaceHooker); ok {
		if err := hooker.SetupWorkspaceHooks(workspacePath, ps.cfg); err != nil {
			m.logger.Warn("Workspace hook setup failed",
				"session_id", id, "error", err)
		}
	}

	command, err := agentPlugin.LaunchCommand(ps.cfg)
	if err != nil {
		admitted = false
		m.markErrored(ps, session)
		return nil, fmt.Errorf("resolve launch command: %w", err)
	}

	handle, err := runtimePlugin.Create(ctx, plugin.RuntimeConfig{
		SessionID:     id,
		WorkspacePath: workspacePath,
		Command:       command,
		Env:           agentPlugin.Environment(ps.cfg),
	})
	if err != nil {
		admitted = false
		m.markErrored(ps, session)
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	session.RuntimeHandle = handle
	session.Status = models.StatusWorking
	session.Activity = models.ActivityStarting
	if err := m.persist(ps, session); err != nil {
		admitted = false
		_ = runtimePlugin.Destroy(ctx, handle)
		return nil, err
	}
	m.rememberHandle(id, handle)

	if launcher, ok := agentPlugin.(plugin.PostLauncher); ok {
		if err := launcher.PostLaunchSetup(ctx, session); err != nil {
			m.logger.Warn("Post-launch setup failed", "session_id", id, "error", err)
		}
	}

	if prompt != "" {
		if err := runtimePlugin.SendMessage(ctx, handle, prompt); err != nil {
			m.logger.Warn("Initial prompt delivery failed",
				"session_id", id, "error", err)
		}
	}

	m.metrics.RecordSpawn(req.ProjectID)
	m.publish(events.New(events.TypeSessionSpawned, events.PriorityInfo,
		req.ProjectID, id,
		fmt.Sprintf("spawned session %s on branch %s", id, branch)).
		WithData(map[string]any{"agent": executable, "branch": branch}))
	m.logger.Info("Session spawned",
		"session_id", id, "project", req.ProjectID,
		"agent", executable, "branch", branch)
	return session, nil
}

// Send delivers a message to a session's agent. A concurrent Kill of the
// same session cancels the delivery.
func (m *Manager) Send(ctx context.Context, sessionID, message string) error {
	ps, session, err := m.getSession(sessionID)
	if err != nil {
		return err
	}
	if session.RuntimeHandle == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrRuntimeDead)
	}
	runtimePlugin, err := m.runtimeFor(ps)
	if err != nil {
		return err
	}
	if !runtimePlugin.IsAlive(ctx, session.RuntimeHandle) {
		m.markExited(ps, session)
		return fmt.Errorf("session %s: %w", sessionID, ErrRuntimeDead)
	}

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.sendCancels[sessionID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.sendCancels, sessionID)
		m.mu.Unlock()
	}()

	if err := runtimePlugin.SendMessage(sendCtx, session.RuntimeHandle, message); err != nil {
		return fmt.Errorf("send to %s: %w", sessionID, err)
	}

	_ = ps.store.Update(sessionID, map[string]string{
		metadata.KeyLastActivityAt: m.now().UTC().Format(time.RFC3339),
	})
	m.publish(events.New(events.TypeSessionMessageSent, events.PriorityInfo,
		ps.id, sessionID, "message sent to agent"))
	return nil
}

// Kill destroys a session's runtime and marks it killed. Killing a
// session that is already terminal is a no-op.
func (m *Manager) Kill(ctx context.Context, sessionID, reason string) error {
	ps, session, err := m.getSession(sessionID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return nil
	}

	// Cancel any in-flight send targeting this session.
	m.mu.Lock()
	if cancel, ok := m.sendCancels[sessionID]; ok {
		cancel()
	}
	m.mu.Unlock()

	if session.RuntimeHandle != nil {
		runtimePlugin, err := m.runtimeFor(ps)
		if err == nil {
			if err := runtimePlugin.Destroy(ctx, session.RuntimeHandle); err != nil {
				m.logger.Warn("Runtime destroy failed",
					"session_id", sessionID, "error", err)
			}
		}
	}

	session.Status = models.StatusKilled
	session.Activity = models.ActivityExited
	session.RuntimeHandle = nil
	if err := m.persist(ps, session); err != nil {
		return err
	}
	m.forgetHandle(sessionID)
	m.pool.RecordExit(ps.id, sessionID)
	m.detector.Forget(sessionID)
	ps.phase.Forget(sessionID)

	m.metrics.RecordKill(ps.id)
	message := "session killed"
	if reason != "" {
		message = "session killed: " + reason
	}
	m.publish(events.New(events.TypeSessionKilled, events.PriorityInfo,
		ps.id, sessionID, message).
		WithData(map[string]any{"reason": reason, "status": string(models.StatusKilled)}))
	m.logger.Info("Session killed", "session_id", sessionID, "reason", reason)
	return nil
}

// Restore re-creates a runtime around an exited session's workspace.
func (m *Manager) Restore(ctx context.Context, sessionID string) (*models.Session, error) {
	ps, session, err := m.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, ErrNotRestorable)
	}
	if session.Activity != models.ActivityExited && session.RuntimeHandle != nil {
		return nil, fmt.Errorf("session %s is still running: %w", sessionID, ErrNotRestorable)
	}

	executable := session.Metadata[keyAgent]
	if executable == "" {
		executable = ps.cfg.Agent
	}
	agentPlugin, err := m.agentFor(ps, executable)
	if err != nil {
		return nil, err
	}
	runtimePlugin, err := m.runtimeFor(ps)
	if err != nil {
		return nil, err
	}

	command := ""
	if restorer, ok := agentPlugin.(plugin.Restorable); ok {
		if cmd, ok := restorer.RestoreCommand(session, ps.cfg); ok {
			command = cmd
		}
	}
	if command == "" {
		if command, err = agentPlugin.LaunchCommand(ps.cfg); err != nil {
			return nil, fmt.Errorf("resolve launch command: %w", err)
		}
	}

	handle, err := runtimePlugin.Create(ctx, plugin.RuntimeConfig{
		SessionID:     sessionID,
		WorkspacePath: session.WorkspacePath,
		Command:       command,
		Env:           agentPlugin.Environment(ps.cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("restore runtime: %w", err)
	}

	session.RuntimeHandle = handle
	session.Status = models.StatusWorking
	session.Activity = models.ActivityStarting
	session.LastActivityAt = m.now()
	if err := m.persist(ps, session); err != nil {
		_ = runtimePlugin.Destroy(ctx, handle)
		return nil, err
	}
	m.rememberHandle(sessionID, handle)
	m.pool.RecordSpawn(ps.id, sessionID)

	m.logger.Info("Session restored", "session_id", sessionID)
	return session, nil
}

// Cleanup kills and removes workspaces of sessions whose PR merged or
// whose issue closed. Projects are swept in parallel; sessions still
// spawning are left alone.
func (m *Manager) Cleanup(ctx context.Context, projectID string) (int, error) {
	var (
		mu      sync.Mutex
		cleaned int
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, ps := range m.projectsFor(projectID) {
		ps := ps
		g.Go(func() error {
			n, err := m.cleanupProject(ctx, ps)
			mu.Lock()
			cleaned += n
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return cleaned, err
}

func (m *Manager) cleanupProject(ctx context.Context, ps *projectState) (int, error) {
	sessions, err := m.loadProjectSessions(ps)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, session := range sessions {
		if session.Status == models.StatusSpawning || session.Status == models.StatusCleanup {
			continue
		}
		done, err := m.workComplete(ctx, ps, session)
		if err != nil {
			m.logger.Warn("Cleanup check failed",
				"session_id", session.ID, "error", err)
			continue
		}
		if !done {
			continue
		}

		if !session.Status.IsTerminal() {
			if err := m.Kill(ctx, session.ID, "work complete"); err != nil {
				m.logger.Warn("Cleanup kill failed",
					"session_id", session.ID, "error", err)
				continue
			}
		}
		if workspacePlugin, err := m.workspaceFor(ps); err == nil && session.WorkspacePath != "" {
			if err := workspacePlugin.Destroy(ctx, session.WorkspacePath); err != nil {
				m.logger.Warn("Workspace destroy failed",
					"session_id", session.ID, "error", err)
			}
		}
		_ = ps.store.Update(session.ID, map[string]string{
			metadata.KeyStatus: string(models.StatusCleanup),
		})
		cleaned++
	}
	return cleaned, nil
}

// SpawnReviewer spawns a reviewer sub-session inside the parent's
// workspace. Implements phase.ReviewerSpawner.
func (m *Manager) SpawnReviewer(ctx context.Context, parent *models.Session, role models.ReviewRole, reviewPhase models.Phase, round int) (*models.Session, error) {
	prompt := reviewerPrompt(role, reviewPhase, round)
	return m.Spawn(ctx, SpawnRequest{
		ProjectID: parent.ProjectID,
		Prompt:    prompt,
		Phase:     reviewPhase,
		SubSessionInfo: &models.SubSessionInfo{
			ParentSessionID: parent.ID,
			Role:            role,
			Phase:           reviewPhase,
			Round:           round,
		},
		WorkspacePath: parent.WorkspacePath,
	})
}

// ListSubSessions returns the live reviewer sub-sessions of a parent.
// Implements phase.ReviewerSpawner.
func (m *Manager) ListSubSessions(ctx context.Context, parentSessionID string) ([]*models.Session, error) {
	_, parent, err := m.getSession(parentSessionID)
	if err != nil {
		return nil, err
	}
	ps := m.projects[parent.ProjectID]
	sessions, err := m.loadProjectSessions(ps)
	if err != nil {
		return nil, err
	}

	var subs []*models.Session
	for _, session := range sessions {
		if session.SubSessionInfo != nil &&
			session.SubSessionInfo.ParentSessionID == parentSessionID {
			subs = append(subs, session)
		}
	}
	return subs, nil
}

// Get returns one session by id.
func (m *Manager) Get(sessionID string) (*models.Session, error) {
	_, session, err := m.getSession(sessionID)
	return session, err
}

// --- internals ---

func (m *Manager) resolveIssue(ctx context.Context, ps *projectState, sessionID string, req SpawnRequest) (branch, prompt string, err error) {
	prompt = req.Prompt
	if req.SubSessionInfo == nil {
		branch = "ao/" + sessionID
	}
	// Sub-sessions work inside the parent's workspace on the parent's
	// branch; without a branch of their own, PR enrichment skips them.

	if req.IssueID == "" {
		return branch, prompt, nil
	}
	trackerPlugin, err := m.trackerFor(ps)
	if err != nil {
		return "", "", err
	}
	if name := trackerPlugin.BranchName(req.IssueID, ps.cfg); name != "" {
		branch = name
	}
	if prompt == "" {
		if prompt, err = trackerPlugin.GeneratePrompt(ctx, req.IssueID, ps.cfg); err != nil {
			return "", "", fmt.Errorf("generate prompt for issue %s: %w", req.IssueID, err)
		}
	}
	return branch, prompt, nil
}

func (m *Manager) createWorkspace(ctx context.Context, ps *projectState, sessionID, branch string) (string, error) {
	workspacePlugin, err := m.workspaceFor(ps)
	if err != nil {
		return "", err
	}
	cfg := plugin.WorkspaceConfig{
		ProjectPath: ps.cfg.Path,
		ProjectID:   ps.id,
		SessionID:   sessionID,
		Branch:      branch,
		BaseDir:     ps.worktreeDir,
	}
	if workspacePlugin.Exists(filepath.Join(ps.worktreeDir, sessionID)) {
		return "", fmt.Errorf("workspace for %s: %w", sessionID, ErrWorkspaceExists)
	}
	info, err := workspacePlugin.Create(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	if creator, ok := workspacePlugin.(plugin.PostCreator); ok {
		if err := creator.PostCreate(ctx, info, ps.cfg); err != nil {
			m.logger.Warn("Workspace post-create failed",
				"session_id", sessionID, "error", err)
		}
	}
	return info.Path, nil
}

// workComplete reports whether a session's PR merged or its issue closed.
func (m *Manager) workComplete(ctx context.Context, ps *projectState, session *models.Session) (bool, error) {
	if session.Status == models.StatusMerged {
		return true, nil
	}
	if scmPlugin, err := m.scmFor(ps); err == nil && session.PR != nil {
		state, err := scmPlugin.PRState(ctx, session.PR)
		if err == nil && state == models.PRStateMerged {
			return true, nil
		}
	}
	if session.IssueID != "" {
		if trackerPlugin, err := m.trackerFor(ps); err == nil {
			return trackerPlugin.IsCompleted(ctx, session.IssueID, ps.cfg)
		}
	}
	return false, nil
}

// nextSessionID allocates <prefix>-<n> above every id already on disk.
func (m *Manager) nextSessionID(ps *projectState) (string, error) {
	ids, err := ps.store.List()
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	prefix := ps.cfg.SessionPrefix + "-"

	m.mu.Lock()
	defer m.mu.Unlock()
	max := m.lastSeq[ps.id]
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if n, err := strconv.Atoi(id[len(prefix):]); err == nil && n > max {
			max = n
		}
	}
	m.lastSeq[ps.id] = max + 1
	return fmt.Sprintf("%s%d", prefix, max+1), nil
}

func (m *Manager) initialPhase(ps *projectState, req SpawnRequest) models.Phase {
	if req.Phase != "" {
		return req.Phase
	}
	if req.SubSessionInfo != nil {
		return req.SubSessionInfo.Phase
	}
	if ps.cfg.Workflow != nil && ps.cfg.Workflow.Mode == config.WorkflowPhased {
		return models.PhasePlanning
	}
	return ""
}

// getSession loads a session from disk, searching every project.
func (m *Manager) getSession(sessionID string) (*projectState, *models.Session, error) {
	for _, ps := range m.sortedProjects() {
		record, err := ps.store.ReadRaw(sessionID)
		if err != nil {
			return nil, nil, err
		}
		if record == nil {
			continue
		}
		session := recordToSession(sessionID, record)
		if session.ProjectID == "" {
			session.ProjectID = ps.id
		}
		m.attachHandle(session)
		return ps, session, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

func (m *Manager) loadProjectSessions(ps *projectState) ([]*models.Session, error) {
	ids, err := ps.store.List()
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", ps.id, err)
	}
	sessions := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		record, err := ps.store.ReadRaw(id)
		if err != nil || record == nil {
			// Corrupt records are logged by the store and skipped.
			continue
		}
		session := recordToSession(id, record)
		if session.ProjectID == "" {
			session.ProjectID = ps.id
		}
		m.attachHandle(session)
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// attachHandle overlays the live runtime handle kept in memory, which
// carries plugin-private data the flat record cannot.
func (m *Manager) attachHandle(session *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handle, ok := m.handles[session.ID]; ok {
		session.RuntimeHandle = handle
	}
}

func (m *Manager) rememberHandle(sessionID string, handle *models.RuntimeHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[sessionID] = handle
}

func (m *Manager) forgetHandle(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, sessionID)
}

func (m *Manager) persist(ps *projectState, session *models.Session) error {
	if err := ps.store.Write(session.ID, sessionToRecord(session)); err != nil {
		return fmt.Errorf("persist session %s: %w", session.ID, err)
	}
	return nil
}

func (m *Manager) markErrored(ps *projectState, session *models.Session) {
	session.Status = models.StatusErrored
	session.Activity = models.ActivityExited
	if err := m.persist(ps, session); err != nil {
		m.logger.Error("Failed to persist errored session",
			"session_id", session.ID, "error", err)
	}
}

func (m *Manager) markExited(ps *projectState, session *models.Session) {
	session.Activity = models.ActivityExited
	session.LastActivityAt = m.now()
	if err := m.persist(ps, session); err != nil {
		m.logger.Error("Failed to persist exited session",
			"session_id", session.ID, "error", err)
	}
}

func (m *Manager) publish(evt events.Event) {
	m.metrics.RecordEvent(string(evt.Type))
	if evt.Type == events.TypeEscalationRequired {
		m.metrics.RecordEscalation()
	}
	m.bus.Publish(evt)
}

func (m *Manager) projectsFor(projectID string) []*projectState {
	if projectID != "" {
		if ps, ok := m.projects[projectID]; ok {
			return []*projectState{ps}
		}
		return nil
	}
	return m.sortedProjects()
}

func (m *Manager) sortedProjects() []*projectState {
	out := make([]*projectState, 0, len(m.projects))
	for _, ps := range m.projects {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Plugin resolution. Runtime and workspace slots are required; tracker,
// scm, notifier, and terminal are optional for most operations.

func (m *Manager) runtimeFor(ps *projectState) (plugin.Runtime, error) {
	name := ps.cfg.Plugins.Runtime
	if name == "" {
		name = defaultRuntimeName
	}
	if p := m.registry.Runtime(name); p != nil {
		return p, nil
	}
	return nil, &PluginMissingError{Slot: plugin.SlotRuntime, Name: name}
}

func (m *Manager) agentFor(ps *projectState, executable string) (plugin.Agent, error) {
	name := ps.cfg.Plugins.Agent
	if name == "" {
		name = executable
	}
	if p := m.registry.Agent(name); p != nil {
		return p, nil
	}
	return nil, &PluginMissingError{Slot: plugin.SlotAgent, Name: name}
}

func (m *Manager) workspaceFor(ps *projectState) (plugin.Workspace, error) {
	name := ps.cfg.Plugins.Workspace
	if name == "" {
		name = "worktree"
	}
	if p := m.registry.Workspace(name); p != nil {
		return p, nil
	}
	return nil, &PluginMissingError{Slot: plugin.SlotWorkspace, Name: name}
}

func (m *Manager) trackerFor(ps *projectState) (plugin.Tracker, error) {
	name := ps.cfg.Plugins.Tracker
	if name == "" {
		return nil, &PluginMissingError{Slot: plugin.SlotTracker, Name: "(unset)"}
	}
	if p := m.registry.Tracker(name); p != nil {
		return p, nil
	}
	return nil, &PluginMissingError{Slot: plugin.SlotTracker, Name: name}
}

func (m *Manager) scmFor(ps *projectState) (plugin.SCM, error) {
	name := ps.cfg.Plugins.SCM
	if name == "" {
		return nil, &PluginMissingError{Slot: plugin.SlotSCM, Name: "(unset)"}
	}
	if p := m.registry.SCM(name); p != nil {
		return p, nil
	}
	return nil, &PluginMissingError{Slot: plugin.SlotSCM, Name: name}
}

// reviewerPrompt is the canned instruction reviewer sub-sessions start
// with.
func reviewerPrompt(role models.ReviewRole, reviewPhase models.Phase, round int) string {
	subject := "the plan in .ao/plan.md"
	if reviewPhase == models.PhaseCodeReview {
		subject = "the implementation summarized in .ao/implementation.md and the diff on this branch"
	}
	return fmt.Sprintf(
		"You are the %s reviewer for round %d. Review %s from the %s perspective. "+
			"Write your review to .ao/reviews/%s-%d-%s.md, starting with a line "+
			"\"Decision: approved\" or \"Decision: changes_requested\".",
		role, round, subject, role, reviewPhase, round, role)
}
