package cycle

import (
	"fmt"

	"github.com/agentops/ao/pkg/models"
)

// Verdict classifies a detected repetition.
type Verdict string

// Verdicts.
const (
	VerdictProductive Verdict = "productive"
	VerdictStuck      Verdict = "stuck"
	VerdictUncertain  Verdict = "uncertain"
)

// Recommendation is what the caller should do about a repetition.
type Recommendation string

// Recommendations.
const (
	RecommendContinue Recommendation = "continue"
	RecommendBreak    Recommendation = "break"
	RecommendEscalate Recommendation = "escalate"
)

// Judgment is the rule-based verdict on a session's status history.
type Judgment struct {
	Verdict         Verdict        `json:"verdict"`
	Recommendation  Recommendation `json:"recommendation"`
	Reason          string         `json:"reason"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
}

// Judge evaluates a session's history: loops first (always stuck), then
// detected cycles through the pair rules. With no repetition the session
// is judged productive.
func (d *Detector) Judge(sessionID string) Judgment {
	if loop := d.DetectLoop(sessionID); loop != nil {
		return Judgment{
			Verdict:        VerdictStuck,
			Recommendation: RecommendBreak,
			Reason: fmt.Sprintf("status %q repeated %d times in a row",
				loop.Status, loop.Count),
			SuggestedAction: "Inspect the session output and send corrective instructions.",
		}
	}

	if cyc := d.DetectCycle(sessionID); cyc != nil {
		return d.JudgeCycle(cyc)
	}

	return Judgment{
		Verdict:        VerdictProductive,
		Recommendation: RecommendContinue,
		Reason:         "no repetition detected",
	}
}

// JudgeCycle applies the pair rules to a detected cycle.
func (d *Detector) JudgeCycle(cyc *Cycle) Judgment {
	reason := fmt.Sprintf("pattern %v repeated %d times", cyc.Pattern, cyc.Repetitions)

	switch {
	case isPair(cyc.Pattern, models.StatusSpawning, models.StatusKilled):
		return Judgment{
			Verdict:         VerdictStuck,
			Recommendation:  RecommendBreak,
			Reason:          reason + ": session is failing to start",
			SuggestedAction: "Check the agent executable and workspace setup, then respawn.",
		}

	case isPair(cyc.Pattern, models.StatusWorking, models.StatusCIFailed):
		if cyc.Repetitions < d.maxCycleRepetitions {
			return Judgment{
				Verdict:        VerdictProductive,
				Recommendation: RecommendContinue,
				Reason:         reason + ": agent is iterating on CI failures",
			}
		}
		return Judgment{
			Verdict:         VerdictStuck,
			Recommendation:  RecommendBreak,
			Reason:          reason + ": CI keeps failing",
			SuggestedAction: "Review CI logs manually; the agent is not converging on a fix.",
		}

	case isPair(cyc.Pattern, models.StatusWorking, models.StatusChangesRequested):
		if cyc.Repetitions < d.maxCycleRepetitions {
			return Judgment{
				Verdict:        VerdictProductive,
				Recommendation: RecommendContinue,
				Reason:         reason + ": agent is addressing review feedback",
			}
		}
		return Judgment{
			Verdict:         VerdictStuck,
			Recommendation:  RecommendBreak,
			Reason:          reason + ": review feedback keeps recurring",
			SuggestedAction: "Read the unresolved review threads; the agent may be missing context.",
		}
	}

	return Judgment{
		Verdict:        VerdictUncertain,
		Recommendation: RecommendEscalate,
		Reason:         reason,
	}
}

// isPair reports whether pattern is exactly the two statuses a and b in
// either order.
func isPair(pattern []models.Status, a, b models.Status) bool {
	if len(pattern) != 2 {
		return false
	}
	return (pattern[0] == a && pattern[1] == b) || (pattern[0] == b && pattern[1] == a)
}
