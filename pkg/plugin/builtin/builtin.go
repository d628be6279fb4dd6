package builtin

import (
	"time"

	"github.com/agentops/ao/pkg/plugin"
)

// Table enumerates the plugins compiled into the binary. commandTimeout
// bounds the subprocess invocations the builtins make.
func Table(commandTimeout time.Duration) []plugin.Builtin {
	return []plugin.Builtin{
		{
			Slot: plugin.SlotRuntime,
			Name: "process",
			New:  func() (plugin.Plugin, error) { return NewProcessRuntime(), nil },
		},
		{
			Slot: plugin.SlotWorkspace,
			Name: "worktree",
			New:  func() (plugin.Plugin, error) { return NewWorktreeWorkspace(commandTimeout), nil },
		},
		{
			Slot: plugin.SlotNotifier,
			Name: "log",
			New:  func() (plugin.Plugin, error) { return NewLogNotifier(), nil },
		},
	}
}
