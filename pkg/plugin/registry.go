package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry errors.
var (
	ErrInvalidManifest = errors.New("plugin: invalid manifest")
	ErrDuplicatePlugin = errors.New("plugin: already registered")
)

// Builtin is one row of the built-in plugin table. New returning an error
// skips the plugin without failing startup.
type Builtin struct {
	Slot Slot
	Name string
	New  func() (Plugin, error)
}

// Registry resolves plugin instances by (slot, name).
type Registry struct {
	mu      sync.RWMutex
	plugins map[Slot]map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[Slot]map[string]Plugin)}
}

// Register adds a plugin instance under its manifest's (slot, name).
func (r *Registry) Register(p Plugin) error {
	m := p.Manifest()
	if m.Name == "" || !m.Slot.Valid() {
		return fmt.Errorf("%w: slot=%q name=%q", ErrInvalidManifest, m.Slot, m.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plugins[m.Slot] == nil {
		r.plugins[m.Slot] = make(map[string]Plugin)
	}
	if _, exists := r.plugins[m.Slot][m.Name]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicatePlugin, m.Slot, m.Name)
	}
	r.plugins[m.Slot][m.Name] = p
	slog.Debug("Plugin registered", "slot", m.Slot, "name", m.Name, "version", m.Version)
	return nil
}

// Get returns the plugin registered under (slot, name), or nil. Package
// references are normalized first, so "github" and "ao-plugin-scm-github"
// resolve identically.
func (r *Registry) Get(slot Slot, name string) Plugin {
	short := ShortName(slot, NormalizeName(slot, name))

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[slot][short]
}

// List returns the manifests registered for a slot, sorted by name.
func (r *Registry) List(slot Slot) []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifests := make([]Manifest, 0, len(r.plugins[slot]))
	for _, p := range r.plugins[slot] {
		manifests = append(manifests, p.Manifest())
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Name < manifests[j].Name
	})
	return manifests
}

// LoadBuiltins instantiates and registers the built-in table. A builtin
// whose constructor fails is logged and skipped; one broken plugin never
// blocks startup.
func (r *Registry) LoadBuiltins(builtins []Builtin) {
	for _, b := range builtins {
		p, err := b.New()
		if err != nil {
			slog.Warn("Skipping builtin plugin",
				"slot", b.Slot, "name", b.Name, "error", err)
			continue
		}
		if err := r.Register(p); err != nil {
			slog.Warn("Skipping builtin plugin",
				"slot", b.Slot, "name", b.Name, "error", err)
		}
	}
}

// Typed getters. Each returns nil when the slot/name has no registered
// plugin or the instance has the wrong type for the slot.

func (r *Registry) Runtime(name string) Runtime {
	p, _ := r.Get(SlotRuntime, name).(Runtime)
	return p
}

func (r *Registry) Agent(name string) Agent {
	p, _ := r.Get(SlotAgent, name).(Agent)
	return p
}

func (r *Registry) Workspace(name string) Workspace {
	p, _ := r.Get(SlotWorkspace, name).(Workspace)
	return p
}

func (r *Registry) Tracker(name string) Tracker {
	p, _ := r.Get(SlotTracker, name).(Tracker)
	return p
}

func (r *Registry) SCM(name string) SCM {
	p, _ := r.Get(SlotSCM, name).(SCM)
	return p
}

func (r *Registry) Notifier(name string) Notifier {
	p, _ := r.Get(SlotNotifier, name).(Notifier)
	return p
}

func (r *Registry) Terminal(name string) Terminal {
	p, _ := r.Get(SlotTerminal, name).(Terminal)
	return p
}
