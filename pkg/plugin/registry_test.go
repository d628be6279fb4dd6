package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPlugin implements only the base Plugin interface.
type stubPlugin struct {
	manifest Manifest
}

func (s *stubPlugin) Manifest() Manifest { return s.manifest }

func newStub(slot Slot, name string) *stubPlugin {
	return &stubPlugin{manifest: Manifest{Name: name, Slot: slot, Version: "0.1.0"}}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := newStub(SlotSCM, "github")
	require.NoError(t, r.Register(p))

	assert.Same(t, p, r.Get(SlotSCM, "github"))
	assert.Nil(t, r.Get(SlotSCM, "gitlab"))
	assert.Nil(t, r.Get(SlotTracker, "github"), "same name in another slot is distinct")
}

func TestGetNormalizesPackageReferences(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub(SlotSCM, "github")))

	assert.NotNil(t, r.Get(SlotSCM, "ao-plugin-scm-github"))
	assert.NotNil(t, r.Get(SlotSCM, "github"))
}

func TestRegisterRejectsInvalidManifest(t *testing.T) {
	r := NewRegistry()

	err := r.Register(newStub(SlotSCM, ""))
	assert.ErrorIs(t, err, ErrInvalidManifest)

	err = r.Register(newStub(Slot("widget"), "x"))
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub(SlotAgent, "claude")))

	err := r.Register(newStub(SlotAgent, "claude"))
	assert.ErrorIs(t, err, ErrDuplicatePlugin)
}

func TestListSortedByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub(SlotNotifier, "slack")))
	require.NoError(t, r.Register(newStub(SlotNotifier, "log")))

	manifests := r.List(SlotNotifier)
	require.Len(t, manifests, 2)
	assert.Equal(t, "log", manifests[0].Name)
	assert.Equal(t, "slack", manifests[1].Name)

	assert.Empty(t, r.List(SlotTerminal))
}

func TestLoadBuiltinsSkipsBroken(t *testing.T) {
	r := NewRegistry()
	r.LoadBuiltins([]Builtin{
		{
			Slot: SlotNotifier,
			Name: "broken",
			New:  func() (Plugin, error) { return nil, errors.New("no backend") },
		},
		{
			Slot: SlotNotifier,
			Name: "ok",
			New:  func() (Plugin, error) { return newStub(SlotNotifier, "ok"), nil },
		},
	})

	assert.Nil(t, r.Get(SlotNotifier, "broken"))
	assert.NotNil(t, r.Get(SlotNotifier, "ok"))
}

func TestTypedGetterRejectsWrongType(t *testing.T) {
	r := NewRegistry()
	// A bare stub registered under the runtime slot does not satisfy the
	// Runtime interface.
	require.NoError(t, r.Register(newStub(SlotRuntime, "stub")))

	assert.NotNil(t, r.Get(SlotRuntime, "stub"))
	assert.Nil(t, r.Runtime("stub"))
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		slot Slot
		ref  string
		want string
	}{
		{SlotSCM, "github", "ao-plugin-scm-github"},
		{SlotSCM, "ao-plugin-scm-github", "ao-plugin-scm-github"},
		{SlotAgent, "./plugins/custom", "./plugins/custom"},
		{SlotAgent, "example.com/x/y", "example.com/x/y"},
		{SlotAgent, "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.slot, tt.ref), "ref %q", tt.ref)
	}
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "github", ShortName(SlotSCM, "ao-plugin-scm-github"))
	assert.Equal(t, "github", ShortName(SlotSCM, "github"))
}
