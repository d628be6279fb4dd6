package models

// Status is the instantaneous operational state of a session.
// Set by the Session Manager and the Reaction Engine; never by plugins.
type Status string

// Session status values.
const (
	StatusSpawning         Status = "spawning"
	StatusWorking          Status = "working"
	StatusPROpen           Status = "pr_open"
	StatusCIFailed         Status = "ci_failed"
	StatusReviewPending    Status = "review_pending"
	StatusChangesRequested Status = "changes_requested"
	StatusApproved         Status = "approved"
	StatusMergeable        Status = "mergeable"
	StatusMerged           Status = "merged"
	StatusCleanup          Status = "cleanup"
	StatusNeedsInput       Status = "needs_input"
	StatusStuck            Status = "stuck"
	StatusErrored          Status = "errored"
	StatusKilled           Status = "killed"
	StatusTerminated       Status = "terminated"
	StatusDone             Status = "done"
)

// terminalStatuses forbid further state changes once reached.
var terminalStatuses = map[Status]bool{
	StatusMerged:     true,
	StatusKilled:     true,
	StatusCleanup:    true,
	StatusDone:       true,
	StatusTerminated: true,
}

// IsTerminal reports whether the status forbids further state changes.
// Errored is deliberately NOT terminal: an errored session may be restored.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// CountsAgainstCaps reports whether a session in this status occupies a
// worker pool slot. Terminal and errored sessions do not.
func (s Status) CountsAgainstCaps() bool {
	return !s.IsTerminal() && s != StatusErrored
}

// Activity is the runtime-observed live process/terminal state of a session.
type Activity string

// Activity values.
const (
	ActivityStarting     Activity = "starting"
	ActivityThinking     Activity = "thinking"
	ActivityActive       Activity = "active"
	ActivityWaitingInput Activity = "waiting_input"
	ActivityBlocked      Activity = "blocked"
	ActivityIdle         Activity = "idle"
	ActivityExited       Activity = "exited"
)

// NormalizeActivity maps the "working" alias to the canonical "active" value.
func NormalizeActivity(a Activity) Activity {
	if a == "working" {
		return ActivityActive
	}
	return a
}

// Phase is the high-level workflow stage of a session. Advanced only by
// the Phase Manager. Distinct from Status, which is the instantaneous
// operational state.
type Phase string

// Phase values, in workflow order.
const (
	PhasePlanning     Phase = "planning"
	PhasePlanReview   Phase = "plan_review"
	PhaseImplementing Phase = "implementing"
	PhaseCodeReview   Phase = "code_review"
	PhaseDone         Phase = "done"
)

// ReviewRole identifies a reviewer sub-session's perspective.
type ReviewRole string

// Reviewer roles spawned for each review round.
const (
	RoleArchitect ReviewRole = "architect"
	RoleDeveloper ReviewRole = "developer"
	RoleProduct   ReviewRole = "product"
)

// AllReviewRoles lists the reviewer roles required for a complete round.
var AllReviewRoles = []ReviewRole{RoleArchitect, RoleDeveloper, RoleProduct}

// ReviewDecision is a reviewer's verdict for one round.
type ReviewDecision string

// Review decisions.
const (
	DecisionApproved         ReviewDecision = "approved"
	DecisionChangesRequested ReviewDecision = "changes_requested"
)
