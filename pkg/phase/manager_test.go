package phase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/metadata"
	"github.com/agentops/ao/pkg/models"
)

// fakeSpawner records reviewer spawns and serves the live sub-session list.
type fakeSpawner struct {
	mu      sync.Mutex
	spawned []models.SubSessionInfo
	live    []*models.Session
	fail    bool
}

func (f *fakeSpawner) SpawnReviewer(ctx context.Context, parent *models.Session, role models.ReviewRole, phase models.Phase, round int) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("spawn denied")
	}
	info := models.SubSessionInfo{
		ParentSessionID: parent.ID, Role: role, Phase: phase, Round: round,
	}
	f.spawned = append(f.spawned, info)
	sub := &models.Session{
		ID:             fmt.Sprintf("%s-%s-%d", parent.ID, role, round),
		ProjectID:      parent.ProjectID,
		Status:         models.StatusWorking,
		SubSessionInfo: &info,
	}
	f.live = append(f.live, sub)
	return sub, nil
}

func (f *fakeSpawner) ListSubSessions(ctx context.Context, parentSessionID string) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, s := range f.live {
		if s.SubSessionInfo.ParentSessionID == parentSessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSpawner) spawnedRoles() []models.ReviewRole {
	f.mu.Lock()
	defer f.mu.Unlock()
	var roles []models.ReviewRole
	for _, info := range f.spawned {
		roles = append(roles, info.Role)
	}
	return roles
}

type fixture struct {
	manager *Manager
	spawner *fakeSpawner
	store   *metadata.Store
	bus     *events.Bus
	session *models.Session
	project *config.ProjectConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := metadata.NewStore(t.TempDir())
	require.NoError(t, err)

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	spawner := &fakeSpawner{}
	workflow := config.DefaultWorkflowConfig()
	manager := NewManager(store, spawner, bus, workflow)

	workspace := t.TempDir()
	session := &models.Session{
		ID:            "sess-1",
		ProjectID:     "proj",
		WorkspacePath: workspace,
		Status:        models.StatusWorking,
		Phase:         models.PhasePlanning,
		Metadata:      map[string]string{},
	}
	require.NoError(t, store.Write(session.ID, map[string]string{
		metadata.KeyPhase: string(models.PhasePlanning),
	}))

	return &fixture{
		manager: manager,
		spawner: spawner,
		store:   store,
		bus:     bus,
		session: session,
		project: &config.ProjectConfig{Path: workspace, Workflow: workflow},
	}
}

func (fx *fixture) writePlan(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(PlanPath(fx.session.WorkspacePath)), 0o755))
	require.NoError(t, os.WriteFile(PlanPath(fx.session.WorkspacePath),
		[]byte("# Plan\n1. do the thing\n"), 0o644))
}

func (fx *fixture) writeCode(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(CodePath(fx.session.WorkspacePath)), 0o755))
	require.NoError(t, os.WriteFile(CodePath(fx.session.WorkspacePath),
		[]byte("# Implementation\ndone\n"), 0o644))
}

func (fx *fixture) writeReview(t *testing.T, phase models.Phase, round int, role models.ReviewRole, decision models.ReviewDecision) {
	t.Helper()
	path := ReviewPath(fx.session.WorkspacePath, phase, round, role)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := fmt.Sprintf("Decision: %s\n\nNotes.\n", decision)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (fx *fixture) setPhase(t *testing.T, phase models.Phase, round int) {
	t.Helper()
	fx.session.Phase = phase
	fx.session.Metadata[metadata.KeyReviewRound] = fmt.Sprintf("%d", round)
	require.NoError(t, fx.store.Update(fx.session.ID, map[string]string{
		metadata.KeyPhase:       string(phase),
		metadata.KeyReviewRound: fmt.Sprintf("%d", round),
	}))
}

func (fx *fixture) storedMeta(t *testing.T) map[string]string {
	t.Helper()
	record, err := fx.store.ReadRaw(fx.session.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	return record
}

func TestPlanningWaitsForPlan(t *testing.T) {
	fx := newFixture(t)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, got)
	assert.Empty(t, fx.spawner.spawnedRoles())
}

func TestPlanningAdvancesOnPlanArtifact(t *testing.T) {
	fx := newFixture(t)
	fx.writePlan(t)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanReview, got)

	meta := fx.storedMeta(t)
	assert.Equal(t, string(models.PhasePlanReview), meta[metadata.KeyPhase])
	assert.Equal(t, "1", meta[metadata.KeyReviewRound])
}

func TestPlanReviewSpawnsMissingReviewers(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhasePlanReview, 1)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanReview, got)
	assert.ElementsMatch(t, models.AllReviewRoles, fx.spawner.spawnedRoles())

	// Re-checking with reviewers alive spawns nothing more.
	_, err = fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Len(t, fx.spawner.spawnedRoles(), 3)
}

func TestPlanReviewSpawnsOnlyMissingRole(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhasePlanReview, 1)
	fx.writeReview(t, models.PhasePlanReview, 1, models.RoleArchitect, models.DecisionApproved)

	_, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]models.ReviewRole{models.RoleDeveloper, models.RoleProduct},
		fx.spawner.spawnedRoles())
}

func TestPlanReviewAllApprovedAdvances(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhasePlanReview, 1)
	for _, role := range models.AllReviewRoles {
		fx.writeReview(t, models.PhasePlanReview, 1, role, models.DecisionApproved)
	}

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseImplementing, got)
	assert.Equal(t, string(models.PhaseImplementing), fx.storedMeta(t)[metadata.KeyPhase])
	assert.Empty(t, fx.spawner.spawnedRoles())
}

func TestPlanReviewChangesRequestedRegresses(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhasePlanReview, 2)
	fx.writeReview(t, models.PhasePlanReview, 2, models.RoleArchitect, models.DecisionChangesRequested)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, got)

	meta := fx.storedMeta(t)
	assert.Equal(t, string(models.PhasePlanning), meta[metadata.KeyPhase])
	assert.Equal(t, "3", meta[metadata.KeyReviewRound])
}

func TestStaleRoundArtifactsIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhasePlanReview, 2)
	// Round 1 approvals must not satisfy round 2.
	for _, role := range models.AllReviewRoles {
		fx.writeReview(t, models.PhasePlanReview, 1, role, models.DecisionApproved)
	}

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanReview, got)
	assert.Len(t, fx.spawner.spawnedRoles(), 3)
}

func TestRegressionKeepsRoundOnReentry(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhasePlanReview, 1)
	fx.writePlan(t)
	fx.writeReview(t, models.PhasePlanReview, 1, models.RoleDeveloper, models.DecisionChangesRequested)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	require.Equal(t, models.PhasePlanning, got)
	fx.session.Metadata[metadata.KeyReviewRound] = fx.storedMeta(t)[metadata.KeyReviewRound]

	// Plan still present: back into review at round 2, not round 1.
	got, err = fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanReview, got)
	assert.Equal(t, "2", fx.storedMeta(t)[metadata.KeyReviewRound])
}

func TestImplementingWaitsWithoutCodeArtifact(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhaseImplementing, 0)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseImplementing, got)
}

func TestImplementingAdvancesToCodeReview(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhaseImplementing, 0)
	fx.writeCode(t)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCodeReview, got)
	assert.Equal(t, "1", fx.storedMeta(t)[metadata.KeyReviewRound])
}

func TestImplementingRespectsAutoReviewDisabled(t *testing.T) {
	fx := newFixture(t)
	fx.project.Workflow = &config.WorkflowConfig{Mode: config.WorkflowPhased, AutoCodeReview: false}
	fx.setPhase(t, models.PhaseImplementing, 0)
	fx.writeCode(t)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseImplementing, got)
}

func TestCodeReviewCompletes(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhaseCodeReview, 1)
	for _, role := range models.AllReviewRoles {
		fx.writeReview(t, models.PhaseCodeReview, 1, role, models.DecisionApproved)
	}

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDone, got)
}

func TestHappyPathNeverSkipsPhases(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	advance := func(want models.Phase) {
		t.Helper()
		got, err := fx.manager.Check(ctx, fx.session, fx.project)
		require.NoError(t, err)
		require.Equal(t, want, got)
		fx.session.Phase = got
		fx.session.Metadata[metadata.KeyReviewRound] = fx.storedMeta(t)[metadata.KeyReviewRound]
	}

	fx.writePlan(t)
	advance(models.PhasePlanReview)

	for _, role := range models.AllReviewRoles {
		fx.writeReview(t, models.PhasePlanReview, 1, role, models.DecisionApproved)
	}
	advance(models.PhaseImplementing)

	fx.writeCode(t)
	advance(models.PhaseCodeReview)

	for _, role := range models.AllReviewRoles {
		fx.writeReview(t, models.PhaseCodeReview, 1, role, models.DecisionApproved)
	}
	advance(models.PhaseDone)
}

func TestSimpleModeSkipsStateMachine(t *testing.T) {
	fx := newFixture(t)
	fx.project.Workflow = &config.WorkflowConfig{Mode: config.WorkflowSimple}
	fx.writePlan(t)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, got)
	assert.Empty(t, fx.spawner.spawnedRoles())
}

func TestSubSessionsPassThrough(t *testing.T) {
	fx := newFixture(t)
	fx.session.SubSessionInfo = &models.SubSessionInfo{
		ParentSessionID: "parent", Role: models.RoleArchitect,
		Phase: models.PhasePlanReview, Round: 1,
	}
	fx.writePlan(t)

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, got)
}

func TestSpawnFailureEscalatesAfterAttempts(t *testing.T) {
	fx := newFixture(t)
	fx.spawner.fail = true
	fx.setPhase(t, models.PhasePlanReview, 1)

	var mu sync.Mutex
	escalations := 0
	sub := fx.bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.TypeEscalationRequired {
			mu.Lock()
			escalations++
			mu.Unlock()
		}
	})
	defer fx.bus.Unsubscribe(sub)

	attempts := config.DefaultWorkflowConfig().MaxReviewerSpawnAttempts
	for i := 0; i < attempts+2; i++ {
		_, err := fx.manager.Check(context.Background(), fx.session, fx.project)
		require.NoError(t, err)
	}

	// One escalation per role, then the roles stay parked for the round.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return escalations == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReviewWithoutDecisionLineIsPending(t *testing.T) {
	fx := newFixture(t)
	fx.setPhase(t, models.PhasePlanReview, 1)
	path := ReviewPath(fx.session.WorkspacePath, models.PhasePlanReview, 1, models.RoleArchitect)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("still thinking\n"), 0o644))

	got, err := fx.manager.Check(context.Background(), fx.session, fx.project)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanReview, got)
	// The architect artifact has no decision yet, so the role counts as
	// missing and is spawned along with the others.
	assert.Len(t, fx.spawner.spawnedRoles(), 3)
}
