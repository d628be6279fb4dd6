package plugin

import (
	"context"
	"time"

	"github.com/agentops/ao/pkg/config"
	"github.com/agentops/ao/pkg/events"
	"github.com/agentops/ao/pkg/models"
)

// RuntimeConfig is what a runtime plugin needs to create a session runtime.
type RuntimeConfig struct {
	SessionID     string
	WorkspacePath string
	Command       string
	Env           map[string]string
}

// Runtime manages the process or pane an agent runs in.
type Runtime interface {
	Plugin
	Create(ctx context.Context, cfg RuntimeConfig) (*models.RuntimeHandle, error)
	Destroy(ctx context.Context, handle *models.RuntimeHandle) error
	SendMessage(ctx context.Context, handle *models.RuntimeHandle, msg string) error
	// Output returns up to lines of recent terminal output; lines <= 0
	// means everything available.
	Output(ctx context.Context, handle *models.RuntimeHandle, lines int) (string, error)
	IsAlive(ctx context.Context, handle *models.RuntimeHandle) bool
}

// RuntimeMetricsProvider is optionally implemented by runtimes that can
// report resource usage.
type RuntimeMetricsProvider interface {
	Metrics(ctx context.Context, handle *models.RuntimeHandle) (*models.RuntimeMetrics, error)
}

// Attachable is optionally implemented by runtimes a human can attach to.
type Attachable interface {
	AttachInfo(handle *models.RuntimeHandle) (*models.AttachmentInfo, error)
}

// AgentSessionInfo is agent-reported introspection data.
type AgentSessionInfo struct {
	AgentSessionID string
	Summary        string
	CostUSD        float64
	InputTokens    int64
	OutputTokens   int64
}

// ActivityReading is an activity state with the time it was observed.
type ActivityReading struct {
	State     models.Activity
	Timestamp time.Time
}

// Agent knows how to launch and observe one kind of coding agent.
type Agent interface {
	Plugin
	// ProcessName is what the agent shows up as in the process table.
	ProcessName() string
	LaunchCommand(project *config.ProjectConfig) (string, error)
	Environment(project *config.ProjectConfig) map[string]string
	// DetectActivity classifies terminal output into an activity state.
	DetectActivity(terminalOutput string) models.Activity
	IsProcessRunning(ctx context.Context, handle *models.RuntimeHandle) bool
	ActivityState(ctx context.Context, session *models.Session, threshold time.Duration) (ActivityReading, error)
	SessionInfo(ctx context.Context, session *models.Session) (*AgentSessionInfo, error)
}

// Restorable is optionally implemented by agents that can resume a
// previous conversation instead of starting fresh.
type Restorable interface {
	RestoreCommand(session *models.Session, project *config.ProjectConfig) (string, bool)
}

// WorkspaceHooker is optionally implemented by agents that install hooks
// into a freshly created workspace.
type WorkspaceHooker interface {
	SetupWorkspaceHooks(path string, project *config.ProjectConfig) error
}

// PostLauncher is optionally implemented by agents that need a step after
// the runtime is up.
type PostLauncher interface {
	PostLaunchSetup(ctx context.Context, session *models.Session) error
}

// WorkspaceConfig is what a workspace plugin needs to create an isolated
// working copy.
type WorkspaceConfig struct {
	ProjectPath string
	ProjectID   string
	SessionID   string
	Branch      string
	BaseDir     string
}

// WorkspaceInfo describes a created workspace.
type WorkspaceInfo struct {
	Path      string
	Branch    string
	SessionID string
}

// Workspace creates and destroys isolated working copies (worktrees,
// clones, volumes).
type Workspace interface {
	Plugin
	Create(ctx context.Context, cfg WorkspaceConfig) (*WorkspaceInfo, error)
	Destroy(ctx context.Context, path string) error
	List(ctx context.Context, projectID string) ([]WorkspaceInfo, error)
	Exists(path string) bool
}

// PostCreator is optionally implemented by workspaces with a setup step
// after creation.
type PostCreator interface {
	PostCreate(ctx context.Context, info *WorkspaceInfo, project *config.ProjectConfig) error
}

// WorkspaceRestorer is optionally implemented by workspaces that can
// re-adopt an existing path.
type WorkspaceRestorer interface {
	Restore(ctx context.Context, cfg WorkspaceConfig, path string) (*WorkspaceInfo, error)
}

// Tracker is the issue tracker a project works against.
type Tracker interface {
	Plugin
	Issue(ctx context.Context, id string, project *config.ProjectConfig) (*models.Issue, error)
	IsCompleted(ctx context.Context, id string, project *config.ProjectConfig) (bool, error)
	IssueURL(id string, project *config.ProjectConfig) string
	IssueLabel(url string, project *config.ProjectConfig) string
	BranchName(id string, project *config.ProjectConfig) string
	GeneratePrompt(ctx context.Context, id string, project *config.ProjectConfig) (string, error)
}

// IssueWriter is optionally implemented by trackers that can mutate issues.
type IssueWriter interface {
	ListIssues(ctx context.Context, project *config.ProjectConfig) ([]models.Issue, error)
	UpdateIssue(ctx context.Context, issue *models.Issue, project *config.ProjectConfig) error
	CreateIssue(ctx context.Context, issue *models.Issue, project *config.ProjectConfig) (*models.Issue, error)
}

// SCM integrates with the source-control host for PR state.
type SCM interface {
	Plugin
	DetectPR(ctx context.Context, session *models.Session, project *config.ProjectConfig) (*models.PRInfo, error)
	PRState(ctx context.Context, pr *models.PRInfo) (models.PRState, error)
	PRSummary(ctx context.Context, pr *models.PRInfo) (string, error)
	MergePR(ctx context.Context, pr *models.PRInfo, method string) error
	ClosePR(ctx context.Context, pr *models.PRInfo) error
	CIChecks(ctx context.Context, pr *models.PRInfo) ([]models.CICheck, error)
	CISummary(ctx context.Context, pr *models.PRInfo) (models.CIStatus, error)
	ReviewDecision(ctx context.Context, pr *models.PRInfo) (models.ReviewDecisionState, error)
	Reviews(ctx context.Context, pr *models.PRInfo) ([]models.PRReview, error)
	// PendingComments counts unresolved human review threads.
	PendingComments(ctx context.Context, pr *models.PRInfo) (int, error)
	// AutomatedComments returns bot review comments (linters, CI annotations).
	AutomatedComments(ctx context.Context, pr *models.PRInfo) ([]string, error)
	Mergeability(ctx context.Context, pr *models.PRInfo) (bool, error)
}

// Action is a button attached to an actionable notification.
type Action struct {
	Label   string `json:"label"`
	Command string `json:"command"`
}

// Notifier delivers events to humans.
type Notifier interface {
	Plugin
	Notify(ctx context.Context, event events.Event) error
	NotifyWithActions(ctx context.Context, event events.Event, actions []Action) error
	// Post sends a free-form message and returns a message id when the
	// backend supports threading.
	Post(ctx context.Context, message string, context map[string]string) (string, error)
}

// Terminal opens interactive views onto running sessions.
type Terminal interface {
	Plugin
	OpenSession(ctx context.Context, session *models.Session) error
	OpenAll(ctx context.Context, sessions []*models.Session) error
	IsSessionOpen(session *models.Session) bool
}
