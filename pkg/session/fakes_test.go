package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/models"
	"github.com/agentops/ao/pkg/plugin"
)

// fakeRuntime keeps handles in memory and records every interaction.
type fakeRuntime struct {
	mu       sync.Mutex
	nextID   int
	alive    map[string]bool
	output   map[string]string
	messages map[string][]string
	failNext error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		alive:    make(map[string]bool),
		output:   make(map[string]string),
		messages: make(map[string][]string),
	}
}

func (f *fakeRuntime) Manifest() plugin.Manifest {
	return plugin.Manifest{Name: "fakert", Slot: plugin.SlotRuntime, Version: "0"}
}

func (f *fakeRuntime) Create(ctx context.Context, cfg plugin.RuntimeConfig) (*models.RuntimeHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("rt-%d", f.nextID)
	f.alive[id] = true
	return &models.RuntimeHandle{ID: id, RuntimeName: "fakert"}, nil
}

func (f *fakeRuntime) Destroy(ctx context.Context, handle *models.RuntimeHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, handle.ID)
	return nil
}

func (f *fakeRuntime) SendMessage(ctx context.Context, handle *models.RuntimeHandle, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[handle.ID] {
		return errors.New("runtime gone")
	}
	f.messages[handle.ID] = append(f.messages[handle.ID], msg)
	return nil
}

func (f *fakeRuntime) Output(ctx context.Context, handle *models.RuntimeHandle, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.output[handle.ID], nil
}

func (f *fakeRuntime) IsAlive(ctx context.Context, handle *models.RuntimeHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[handle.ID]
}

func (f *fakeRuntime) killAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.alive {
		f.alive[id] = false
	}
}

func (f *fakeRuntime) setOutput(handleID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output[handleID] = text
}

func (f *fakeRuntime) sentTo(handleID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[handleID]...)
}

// fakeAgent reports a fixed activity reading.
type fakeAgent struct {
	name     string
	mu       sync.Mutex
	activity models.Activity
}

func newFakeAgent(name string) *fakeAgent {
	return &fakeAgent{name: name, activity: models.ActivityActive}
}

func (f *fakeAgent) Manifest() plugin.Manifest {
	return plugin.Manifest{Name: f.name, Slot: plugin.SlotAgent, Version: "0"}
}

func (f *fakeAgent) ProcessName() string { return f.name }

func (f *fakeAgent) LaunchCommand(*config.ProjectConfig) (string, error) {
	return f.name + " --autonomous", nil
}

func (f *fakeAgent) Environment(*config.ProjectConfig) map[string]string {
	return map[string]string{"AGENT": f.name}
}

func (f *fakeAgent) DetectActivity(string) models.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activity
}

func (f *fakeAgent) IsProcessRunning(context.Context, *models.RuntimeHandle) bool { return true }

func (f *fakeAgent) ActivityState(ctx context.Context, s *models.Session, _ time.Duration) (plugin.ActivityReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return plugin.ActivityReading{State: f.activity, Timestamp: time.Now()}, nil
}

func (f *fakeAgent) SessionInfo(context.Context, *models.Session) (*plugin.AgentSessionInfo, error) {
	return nil, nil
}

func (f *fakeAgent) setActivity(a models.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = a
}

// fakeWorkspace creates real directories under the configured base dir.
type fakeWorkspace struct{}

func (fakeWorkspace) Manifest() plugin.Manifest {
	return plugin.Manifest{Name: "fakews", Slot: plugin.SlotWorkspace, Version: "0"}
}

func (fakeWorkspace) Create(ctx context.Context, cfg plugin.WorkspaceConfig) (*plugin.WorkspaceInfo, error) {
	path := filepath.Join(cfg.BaseDir, cfg.SessionID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return &plugin.WorkspaceInfo{Path: path, Branch: cfg.Branch, SessionID: cfg.SessionID}, nil
}

func (fakeWorkspace) Destroy(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

func (fakeWorkspace) List(context.Context, string) ([]plugin.WorkspaceInfo, error) {
	return nil, nil
}

func (fakeWorkspace) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fakeTracker serves canned issues.
type fakeTracker struct {
	mu        sync.Mutex
	completed map[string]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{completed: make(map[string]bool)}
}

func (f *fakeTracker) Manifest() plugin.Manifest {
	return plugin.Manifest{Name: "faketracker", Slot: plugin.SlotTracker, Version: "0"}
}

func (f *fakeTracker) Issue(ctx context.Context, id string, _ *config.ProjectConfig) (*models.Issue, error) {
	return &models.Issue{ID: id, Title: "issue " + id, State: models.IssueOpen}, nil
}

func (f *fakeTracker) IsCompleted(ctx context.Context, id string, _ *config.ProjectConfig) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[id], nil
}

func (f *fakeTracker) IssueURL(id string, _ *config.ProjectConfig) string {
	return "https://tracker.example/" + id
}

func (f *fakeTracker) IssueLabel(url string, _ *config.ProjectConfig) string { return url }

func (f *fakeTracker) BranchName(id string, _ *config.ProjectConfig) string {
	return "issue-" + id
}

func (f *fakeTracker) GeneratePrompt(ctx context.Context, id string, _ *config.ProjectConfig) (string, error) {
	return "Work on issue " + id, nil
}

func (f *fakeTracker) markCompleted(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
}

// fakeSCM serves one PRInfo per session and can be told to panic.
type fakeSCM struct {
	mu        sync.Mutex
	prs       map[string]*models.PRInfo // session id -> pr
	panicFor  map[string]bool
	detection int
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{
		prs:      make(map[string]*models.PRInfo),
		panicFor: make(map[string]bool),
	}
}

func (f *fakeSCM) Manifest() plugin.Manifest {
	return plugin.Manifest{Name: "fakescm", Slot: plugin.SlotSCM, Version: "0"}
}

func (f *fakeSCM) setPR(sessionID string, pr *models.PRInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs[sessionID] = pr
}

func (f *fakeSCM) DetectPR(ctx context.Context, s *models.Session, _ *config.ProjectConfig) (*models.PRInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detection++
	if f.panicFor[s.ID] {
		panic("scm exploded")
	}
	pr, ok := f.prs[s.ID]
	if !ok {
		return nil, nil
	}
	clone := *pr
	return &clone, nil
}

func (f *fakeSCM) lookup(pr *models.PRInfo) *models.PRInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, candidate := range f.prs {
		if candidate.Number == pr.Number {
			return candidate
		}
	}
	return pr
}

func (f *fakeSCM) PRState(ctx context.Context, pr *models.PRInfo) (models.PRState, error) {
	return f.lookup(pr).State, nil
}

func (f *fakeSCM) PRSummary(context.Context, *models.PRInfo) (string, error) { return "", nil }

func (f *fakeSCM) MergePR(context.Context, *models.PRInfo, string) error { return nil }

func (f *fakeSCM) ClosePR(context.Context, *models.PRInfo) error { return nil }

func (f *fakeSCM) CIChecks(context.Context, *models.PRInfo) ([]models.CICheck, error) {
	return nil, nil
}

func (f *fakeSCM) CISummary(ctx context.Context, pr *models.PRInfo) (models.CIStatus, error) {
	return f.lookup(pr).CIStatus, nil
}

func (f *fakeSCM) ReviewDecision(ctx context.Context, pr *models.PRInfo) (models.ReviewDecisionState, error) {
	return f.lookup(pr).ReviewDecision, nil
}

func (f *fakeSCM) Reviews(context.Context, *models.PRInfo) ([]models.PRReview, error) {
	return nil, nil
}

func (f *fakeSCM) PendingComments(ctx context.Context, pr *models.PRInfo) (int, error) {
	return f.lookup(pr).UnresolvedComments, nil
}

func (f *fakeSCM) AutomatedComments(context.Context, *models.PRInfo) ([]string, error) {
	return nil, nil
}

func (f *fakeSCM) Mergeability(ctx context.Context, pr *models.PRInfo) (bool, error) {
	return f.lookup(pr).Mergeable, nil
}
