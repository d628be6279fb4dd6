package session

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/agentops/ao/pkg/metadata"
	"github.com/agentops/ao/pkg/models"
)

// Runtime handle keys persisted next to the reserved metadata set.
const (
	keyRuntimeName = "runtime.name"
	keyRuntimeID   = "runtime.id"
	keyRuntimeData = "runtime.data"
	keyAgent       = "agent"
)

// sessionToRecord flattens a session into the metadata key set. Unknown
// keys already present in session.Metadata are carried through untouched.
func sessionToRecord(s *models.Session) map[string]string {
	record := make(map[string]string, len(s.Metadata)+12)
	for k, v := range s.Metadata {
		record[k] = v
	}

	record[metadata.KeyProject] = s.ProjectID
	record[metadata.KeyStatus] = string(s.Status)
	record[metadata.KeyActivity] = string(s.Activity)
	setOrDelete(record, metadata.KeyBranch, s.Branch)
	setOrDelete(record, metadata.KeyIssue, s.IssueID)
	setOrDelete(record, metadata.KeyWorktree, s.WorkspacePath)
	setOrDelete(record, metadata.KeyPhase, string(s.Phase))

	if s.RuntimeHandle != nil {
		record[keyRuntimeName] = s.RuntimeHandle.RuntimeName
		record[keyRuntimeID] = s.RuntimeHandle.ID
		delete(record, keyRuntimeData)
		if len(s.RuntimeHandle.Data) > 0 {
			if data, err := json.Marshal(s.RuntimeHandle.Data); err == nil {
				record[keyRuntimeData] = string(data)
			}
		}
	} else {
		delete(record, keyRuntimeName)
		delete(record, keyRuntimeID)
		delete(record, keyRuntimeData)
	}

	if s.SubSessionInfo != nil {
		record[metadata.KeySubParent] = s.SubSessionInfo.ParentSessionID
		record[metadata.KeySubRole] = string(s.SubSessionInfo.Role)
		record[metadata.KeySubRound] = strconv.Itoa(s.SubSessionInfo.Round)
	}

	if info := s.AgentInfo; info != nil {
		setOrDelete(record, metadata.KeyAgentSessionID, info.AgentSessionID)
		if info.InputTokens > 0 {
			record[metadata.KeyCostInputTokens] = strconv.FormatInt(info.InputTokens, 10)
		}
		if info.OutputTokens > 0 {
			record[metadata.KeyCostOutputTokens] = strconv.FormatInt(info.OutputTokens, 10)
		}
		if info.CostUSD > 0 {
			record[metadata.KeyCostUSD] = strconv.FormatFloat(info.CostUSD, 'f', 4, 64)
		}
	}

	if !s.CreatedAt.IsZero() {
		record[metadata.KeyCreatedAt] = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !s.LastActivityAt.IsZero() {
		record[metadata.KeyLastActivityAt] = s.LastActivityAt.UTC().Format(time.RFC3339)
	}
	return record
}

// recordToSession rebuilds a session from its on-disk record. Unknown or
// malformed fields degrade to zero values rather than failing the load.
func recordToSession(id string, record map[string]string) *models.Session {
	s := &models.Session{
		ID:            id,
		ProjectID:     record[metadata.KeyProject],
		Branch:        record[metadata.KeyBranch],
		IssueID:       record[metadata.KeyIssue],
		WorkspacePath: record[metadata.KeyWorktree],
		Status:        models.Status(record[metadata.KeyStatus]),
		Activity:      models.NormalizeActivity(models.Activity(record[metadata.KeyActivity])),
		Phase:         models.Phase(record[metadata.KeyPhase]),
		Metadata:      record,
	}

	if name, ok := record[keyRuntimeName]; ok && record[keyRuntimeID] != "" {
		s.RuntimeHandle = &models.RuntimeHandle{
			ID:          record[keyRuntimeID],
			RuntimeName: name,
		}
		if raw := record[keyRuntimeData]; raw != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(raw), &data); err == nil {
				s.RuntimeHandle.Data = data
			}
		}
	}

	if parent := record[metadata.KeySubParent]; parent != "" {
		round, _ := strconv.Atoi(record[metadata.KeySubRound])
		s.SubSessionInfo = &models.SubSessionInfo{
			ParentSessionID: parent,
			Role:            models.ReviewRole(record[metadata.KeySubRole]),
			Phase:           s.Phase,
			Round:           round,
		}
	}

	if record[metadata.KeyAgentSessionID] != "" ||
		record[metadata.KeyCostUSD] != "" ||
		record[metadata.KeyCostInputTokens] != "" {
		info := &models.AgentInfo{AgentSessionID: record[metadata.KeyAgentSessionID]}
		info.InputTokens, _ = strconv.ParseInt(record[metadata.KeyCostInputTokens], 10, 64)
		info.OutputTokens, _ = strconv.ParseInt(record[metadata.KeyCostOutputTokens], 10, 64)
		info.CostUSD, _ = strconv.ParseFloat(record[metadata.KeyCostUSD], 64)
		s.AgentInfo = info
	}

	if ts, err := time.Parse(time.RFC3339, record[metadata.KeyCreatedAt]); err == nil {
		s.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, record[metadata.KeyLastActivityAt]); err == nil {
		s.LastActivityAt = ts
	}
	return s
}

func setOrDelete(record map[string]string, key, value string) {
	if value == "" {
		delete(record, key)
		return
	}
	record[key] = value
}
