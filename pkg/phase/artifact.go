// Package phase advances sessions through the phased workflow
// (planning, plan_review, implementing, code_review, done) based on
// artifacts the agent writes into its workspace.
package phase

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agentops/ao/pkg/models"
)

// Workspace artifact locations, relative to the workspace root.
const (
	artifactDir       = ".ao"
	planArtifact      = "plan.md"
	codeArtifact      = "implementation.md"
	reviewArtifactDir = "reviews"
)

// Review is a parsed review artifact for one (phase, round, role).
type Review struct {
	Role     models.ReviewRole
	Phase    models.Phase
	Round    int
	Decision models.ReviewDecision
	Path     string
}

// PlanPath returns the plan artifact location for a workspace.
func PlanPath(workspacePath string) string {
	return filepath.Join(workspacePath, artifactDir, planArtifact)
}

// CodePath returns the implementation summary artifact location.
func CodePath(workspacePath string) string {
	return filepath.Join(workspacePath, artifactDir, codeArtifact)
}

// ReviewPath returns the review artifact location for one reviewer in one
// round of one phase.
func ReviewPath(workspacePath string, phase models.Phase, round int, role models.ReviewRole) string {
	return filepath.Join(workspacePath, artifactDir, reviewArtifactDir,
		fmt.Sprintf("%s-%d-%s.md", phase, round, role))
}

// artifactPresent reports whether a non-empty regular file exists.
func artifactPresent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// decisionLine matches the verdict line reviewers write near the top of
// their artifact, e.g. "Decision: approved".
var decisionLine = regexp.MustCompile(`(?i)^\s*decision:\s*(approved|changes[_ -]requested)\s*$`)

// readReview parses the artifact for (phase, round, role). A missing file
// returns nil; a file without a recognizable decision line also returns
// nil, since the reviewer is still writing.
func readReview(workspacePath string, phase models.Phase, round int, role models.ReviewRole) (*Review, error) {
	path := ReviewPath(workspacePath, phase, round, role)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read review artifact: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		groups := decisionLine.FindStringSubmatch(scanner.Text())
		if groups == nil {
			continue
		}
		decision := models.DecisionApproved
		if !strings.EqualFold(groups[1], string(models.DecisionApproved)) {
			decision = models.DecisionChangesRequested
		}
		return &Review{
			Role:     role,
			Phase:    phase,
			Round:    round,
			Decision: decision,
			Path:     path,
		}, nil
	}
	return nil, scanner.Err()
}

// collectReviews reads the review artifacts of every role for one
// (phase, round). Artifacts from other rounds never appear in the result.
func collectReviews(workspacePath string, phase models.Phase, round int) (map[models.ReviewRole]*Review, error) {
	reviews := make(map[models.ReviewRole]*Review)
	for _, role := range models.AllReviewRoles {
		review, err := readReview(workspacePath, phase, round, role)
		if err != nil {
			return nil, err
		}
		if review != nil {
			reviews[role] = review
		}
	}
	return reviews, nil
}
