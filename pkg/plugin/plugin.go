// Package plugin defines the seven extension slots the orchestrator core
// consumes (runtime, agent, workspace, tracker, scm, notifier, terminal)
// and the registry that resolves plugin instances by slot and name.
package plugin

import (
	"fmt"
	"strings"
)

// Slot is a plugin extension point.
type Slot string

// Slots.
const (
	SlotRuntime   Slot = "runtime"
	SlotAgent     Slot = "agent"
	SlotWorkspace Slot = "workspace"
	SlotTracker   Slot = "tracker"
	SlotSCM       Slot = "scm"
	SlotNotifier  Slot = "notifier"
	SlotTerminal  Slot = "terminal"
)

// AllSlots lists every slot in registration order.
var AllSlots = []Slot{
	SlotRuntime, SlotAgent, SlotWorkspace, SlotTracker,
	SlotSCM, SlotNotifier, SlotTerminal,
}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotRuntime, SlotAgent, SlotWorkspace, SlotTracker,
		SlotSCM, SlotNotifier, SlotTerminal:
		return true
	}
	return false
}

// Manifest identifies a plugin.
type Manifest struct {
	Name        string `json:"name" yaml:"name"`
	Slot        Slot   `json:"slot" yaml:"slot"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Plugin is implemented by every plugin instance regardless of slot.
type Plugin interface {
	Manifest() Manifest
}

// packagePrefix is the naming convention for distributable plugins.
const packagePrefix = "ao-plugin-"

// NormalizeName maps a config reference to a canonical package name.
// Bare names become ao-plugin-<slot>-<name>; references that already
// carry the prefix, or that look like filesystem paths, pass through.
func NormalizeName(slot Slot, ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, packagePrefix) || strings.ContainsAny(ref, "/\\.") {
		return ref
	}
	return fmt.Sprintf("%s%s-%s", packagePrefix, slot, ref)
}

// ShortName strips the package prefix back to the bare plugin name.
func ShortName(slot Slot, ref string) string {
	prefix := fmt.Sprintf("%s%s-", packagePrefix, slot)
	return strings.TrimPrefix(ref, prefix)
}
