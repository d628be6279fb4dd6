package models

import "time"

// PRState is the lifecycle state of a pull request.
type PRState string

// PR states.
const (
	PRStateOpen   PRState = "open"
	PRStateMerged PRState = "merged"
	PRStateClosed PRState = "closed"
)

// CIStatus summarizes the combined CI check state of a PR.
type CIStatus string

// CI statuses.
const (
	CIPending CIStatus = "pending"
	CIPassing CIStatus = "passing"
	CIFailing CIStatus = "failing"
	CIUnknown CIStatus = "unknown"
)

// ReviewDecisionState is the SCM-reported aggregate review decision.
type ReviewDecisionState string

// Review decision states.
const (
	ReviewNone             ReviewDecisionState = ""
	ReviewApproved         ReviewDecisionState = "approved"
	ReviewChangesRequested ReviewDecisionState = "changes_requested"
	ReviewRequired         ReviewDecisionState = "review_required"
)

// CICheck is a single CI check run attached to a PR.
type CICheck struct {
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, cancelled, skipped, ...
	URL        string `json:"url,omitempty"`
}

// PRReview is a single submitted review on a PR.
type PRReview struct {
	Author      string              `json:"author"`
	State       ReviewDecisionState `json:"state"`
	Body        string              `json:"body,omitempty"`
	SubmittedAt time.Time           `json:"submitted_at"`
}

// PRInfo is an SCM-agnostic pull request descriptor attached to a session
// during enrichment.
type PRInfo struct {
	Number             int                 `json:"number"`
	URL                string              `json:"url"`
	Owner              string              `json:"owner"`
	Repo               string              `json:"repo"`
	Title              string              `json:"title,omitempty"`
	HeadBranch         string              `json:"head_branch"`
	BaseBranch         string              `json:"base_branch"`
	Draft              bool                `json:"draft"`
	Additions          int                 `json:"additions"`
	Deletions          int                 `json:"deletions"`
	State              PRState             `json:"state"`
	CIStatus           CIStatus            `json:"ci_status"`
	Checks             []CICheck           `json:"checks,omitempty"`
	ReviewDecision     ReviewDecisionState `json:"review_decision"`
	Mergeable          bool                `json:"mergeable"`
	UnresolvedComments int                 `json:"unresolved_comments"`
}
