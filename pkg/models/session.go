// Package models contains the value types shared across the orchestrator
// core: sessions, pull requests, issues, and their enumerations.
package models

import "time"

// RuntimeHandle identifies a live runtime (tmux pane, subprocess, container).
// Data is opaque to the core; only the owning runtime plugin interprets it.
type RuntimeHandle struct {
	ID          string         `json:"id"`
	RuntimeName string         `json:"runtime_name"`
	Data        map[string]any `json:"data,omitempty"`
}

// AgentInfo holds optional agent-reported introspection data.
type AgentInfo struct {
	Summary           string  `json:"summary,omitempty"`
	SummaryIsFallback bool    `json:"summary_is_fallback,omitempty"`
	AgentSessionID    string  `json:"agent_session_id,omitempty"`
	CostUSD           float64 `json:"cost_usd,omitempty"`
	InputTokens       int64   `json:"input_tokens,omitempty"`
	OutputTokens      int64   `json:"output_tokens,omitempty"`
}

// SubSessionInfo marks a session as a reviewer sub-session spawned by the
// Phase Manager on behalf of a parent session.
type SubSessionInfo struct {
	ParentSessionID string     `json:"parent_session_id"`
	Role            ReviewRole `json:"role"`
	Phase           Phase      `json:"phase"`
	Round           int        `json:"round"`
}

// Session is the central entity: one agent working one issue inside one
// isolated workspace.
//
// Ownership: Status is set by the Session Manager and Reaction Engine;
// Phase is advanced only by the Phase Manager. Metadata is the on-disk
// source of truth for branch, pr, status, phase, reviewRound and issue —
// on reload the on-disk value wins over any in-memory divergence.
type Session struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	Branch        string `json:"branch,omitempty"`
	IssueID       string `json:"issue_id,omitempty"`
	WorkspacePath string `json:"workspace_path,omitempty"`

	Status   Status   `json:"status"`
	Activity Activity `json:"activity"`
	Phase    Phase    `json:"phase"`

	// RuntimeHandle is nil when the runtime is dead; Activity must then
	// be ActivityExited.
	RuntimeHandle  *RuntimeHandle  `json:"runtime_handle,omitempty"`
	AgentInfo      *AgentInfo      `json:"agent_info,omitempty"`
	SubSessionInfo *SubSessionInfo `json:"sub_session_info,omitempty"`

	// PR holds enrichment data attached during poll; never persisted.
	PR *PRInfo `json:"pr,omitempty"`

	// Metadata is the flat string map persisted to the metadata store.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IsSubSession reports whether this session is a reviewer sub-session.
func (s *Session) IsSubSession() bool {
	return s.SubSessionInfo != nil
}

// Clone returns a deep copy safe for concurrent enrichment.
func (s *Session) Clone() *Session {
	c := *s
	if s.RuntimeHandle != nil {
		h := *s.RuntimeHandle
		if s.RuntimeHandle.Data != nil {
			h.Data = make(map[string]any, len(s.RuntimeHandle.Data))
			for k, v := range s.RuntimeHandle.Data {
				h.Data[k] = v
			}
		}
		c.RuntimeHandle = &h
	}
	if s.AgentInfo != nil {
		a := *s.AgentInfo
		c.AgentInfo = &a
	}
	if s.SubSessionInfo != nil {
		sub := *s.SubSessionInfo
		c.SubSessionInfo = &sub
	}
	if s.PR != nil {
		pr := *s.PR
		pr.Checks = append([]CICheck(nil), s.PR.Checks...)
		c.PR = &pr
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// AttachmentType identifies how a human can attach to a running session.
type AttachmentType string

// Attachment types.
const (
	AttachTmux    AttachmentType = "tmux"
	AttachSSH     AttachmentType = "ssh"
	AttachDocker  AttachmentType = "docker"
	AttachLXC     AttachmentType = "lxc"
	AttachProcess AttachmentType = "process"
)

// AttachmentInfo describes how to attach to a session's runtime.
type AttachmentInfo struct {
	Type    AttachmentType `json:"type"`
	Target  string         `json:"target"`
	Command string         `json:"command"`
}

// RuntimeMetrics holds optional resource usage reported by a runtime plugin.
type RuntimeMetrics struct {
	Uptime     time.Duration `json:"uptime"`
	MemoryMB   float64       `json:"memory_mb,omitempty"`
	CPUPercent float64       `json:"cpu_percent,omitempty"`
}
