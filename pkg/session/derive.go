package session

import "github.com/agentops/ao/pkg/models"

// DeriveStatus maps the enrichment observations onto a session status.
// The mapping is deterministic; precedence is
// terminal > exited > PR-derived > activity-derived:
//
//	current terminal                          -> current (sticky)
//	PR merged                                 -> merged
//	activity exited                           -> errored
//	PR open, CI failing                       -> ci_failed
//	PR open, changes requested                -> changes_requested
//	PR open, approved and mergeable           -> mergeable
//	PR open, approved                         -> approved
//	PR open, CI green, review outstanding     -> review_pending
//	PR open otherwise                         -> pr_open
//	no PR, activity starting                  -> spawning
//	no PR, activity thinking/active           -> working
//	no PR, activity waiting_input or idle     -> needs_input
//	no PR, activity blocked                   -> stuck
//	anything else                             -> working
func DeriveStatus(current models.Status, activity models.Activity, pr *models.PRInfo) models.Status {
	if current.IsTerminal() {
		return current
	}
	if pr != nil && pr.State == models.PRStateMerged {
		return models.StatusMerged
	}
	if activity == models.ActivityExited {
		return models.StatusErrored
	}

	if pr != nil && pr.State == models.PRStateOpen {
		switch {
		case pr.CIStatus == models.CIFailing:
			return models.StatusCIFailed
		case pr.ReviewDecision == models.ReviewChangesRequested:
			return models.StatusChangesRequested
		case pr.ReviewDecision == models.ReviewApproved && pr.Mergeable:
			return models.StatusMergeable
		case pr.ReviewDecision == models.ReviewApproved:
			return models.StatusApproved
		case pr.CIStatus == models.CIPassing:
			return models.StatusReviewPending
		default:
			return models.StatusPROpen
		}
	}

	switch activity {
	case models.ActivityStarting:
		return models.StatusSpawning
	case models.ActivityThinking, models.ActivityActive:
		return models.StatusWorking
	case models.ActivityWaitingInput, models.ActivityIdle:
		return models.StatusNeedsInput
	case models.ActivityBlocked:
		return models.StatusStuck
	default:
		return models.StatusWorking
	}
}
