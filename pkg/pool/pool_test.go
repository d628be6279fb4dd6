package pool

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentops/ao/pkg/models"
)

func TestAdmissionScenario(t *testing.T) {
	// globalMax=3, projectMax=5: the global budget runs out first.
	p := New(3, 5, nil)

	p.RecordSpawn("A", "a1")
	p.RecordSpawn("A", "a2")

	// 2/3 active: one admission left, nothing after it.
	adm := p.CanSpawn("A")
	assert.True(t, adm.CanSpawn)
	assert.Equal(t, 0, adm.SlotsRemaining)

	p.RecordSpawn("B", "b1")

	// 3/3 active: denied for every project, global cap named.
	adm = p.CanSpawn("B")
	assert.False(t, adm.CanSpawn)
	assert.Equal(t, LimitGlobal, adm.LimitHit)
	assert.Equal(t, 0, adm.SlotsRemaining)
	assert.NotEmpty(t, adm.Reason)

	adm = p.CanSpawn("A")
	assert.False(t, adm.CanSpawn, "project headroom cannot override the global cap")
	assert.Equal(t, LimitGlobal, adm.LimitHit)
}

func TestGlobalCheckPrecedesProject(t *testing.T) {
	// Project A is itself full AND the global budget is full: global wins.
	p := New(2, 1, nil)
	p.RecordSpawn("A", "a1")
	p.RecordSpawn("B", "b1")

	adm := p.CanSpawn("A")
	require.False(t, adm.CanSpawn)
	assert.Equal(t, LimitGlobal, adm.LimitHit)
}

func TestProjectLimit(t *testing.T) {
	p := New(10, 2, nil)
	p.RecordSpawn("A", "a1")
	p.RecordSpawn("A", "a2")

	adm := p.CanSpawn("A")
	require.False(t, adm.CanSpawn)
	assert.Equal(t, LimitProject, adm.LimitHit)

	// Other projects are unaffected.
	assert.True(t, p.CanSpawn("B").CanSpawn)
}

func TestProjectOverrides(t *testing.T) {
	p := New(10, 2, map[string]int{"big": 5})

	for i := 0; i < 5; i++ {
		require.True(t, p.CanSpawn("big").CanSpawn, "spawn %d", i)
		p.RecordSpawn("big", fmt.Sprintf("s-%d", i))
	}
	adm := p.CanSpawn("big")
	assert.False(t, adm.CanSpawn)
	assert.Equal(t, LimitProject, adm.LimitHit)
}

func TestRecordkeepingIdempotence(t *testing.T) {
	p := New(10, 5, nil)

	p.RecordSpawn("A", "a1")
	p.RecordSpawn("A", "a1") // double spawn counts once
	assert.Equal(t, 1, p.GetStatus().GlobalActive)

	p.RecordExit("A", "a1")
	p.RecordExit("A", "a1") // double exit leaves count unchanged
	p.RecordExit("A", "ghost")
	p.RecordExit("nowhere", "ghost")
	assert.Equal(t, 0, p.GetStatus().GlobalActive)
}

func TestRecordExitRemovesEmptyProjectEntry(t *testing.T) {
	p := New(10, 5, nil)
	p.RecordSpawn("A", "a1")
	p.RecordExit("A", "a1")

	status := p.GetStatus()
	_, listed := status.ProjectCounts["A"]
	assert.False(t, listed, "project without overrides and zero active should vanish")
}

func TestSyncFromSessionsReplacesState(t *testing.T) {
	p := New(10, 5, nil)
	p.RecordSpawn("old", "gone")

	sessions := []*models.Session{
		{ID: "a1", ProjectID: "A", Status: models.StatusWorking},
		{ID: "a2", ProjectID: "A", Status: models.StatusPROpen},
		{ID: "a3", ProjectID: "A", Status: models.StatusMerged},     // terminal
		{ID: "b1", ProjectID: "B", Status: models.StatusErrored},    // excluded
		{ID: "b2", ProjectID: "B", Status: models.StatusKilled},     // terminal
		{ID: "b3", ProjectID: "B", Status: models.StatusNeedsInput}, // active
	}
	p.SyncFromSessions(sessions)

	status := p.GetStatus()
	assert.Equal(t, 3, status.GlobalActive)
	assert.Equal(t, 2, status.ProjectCounts["A"].Active)
	assert.Equal(t, 1, status.ProjectCounts["B"].Active)
	_, oldListed := status.ProjectCounts["old"]
	assert.False(t, oldListed, "previous state wholly replaced")
}

func TestGetStatusListsConfiguredOverridesAtZero(t *testing.T) {
	p := New(10, 5, map[string]int{"quiet": 3})

	status := p.GetStatus()
	count, ok := status.ProjectCounts["quiet"]
	require.True(t, ok)
	assert.Equal(t, 0, count.Active)
	assert.Equal(t, 3, count.Max)
}

func TestClear(t *testing.T) {
	p := New(10, 5, nil)
	p.RecordSpawn("A", "a1")
	p.Clear()
	assert.Equal(t, 0, p.GetStatus().GlobalActive)
}

// Admission soundness under concurrent Admit: the cap is never exceeded.
func TestAdmitNeverOverbooks(t *testing.T) {
	const globalMax = 8
	p := New(globalMax, globalMax, nil)

	var wg sync.WaitGroup
	admitted := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", n)
			if p.Admit("A", id).CanSpawn {
				admitted <- id
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	assert.Equal(t, globalMax, count)
	assert.Equal(t, globalMax, p.GetStatus().GlobalActive)
}

func TestSlotsRemainingInvariant(t *testing.T) {
	p := New(4, 2, nil)

	// Empty pool: min(4-0, 2-0) - 1 = 1.
	assert.Equal(t, 1, p.CanSpawn("A").SlotsRemaining)

	p.RecordSpawn("A", "a1")
	// min(4-1, 2-1) - 1 = 0.
	assert.Equal(t, 0, p.CanSpawn("A").SlotsRemaining)

	p.RecordSpawn("A", "a2")
	// Project full: clamped to 0.
	adm := p.CanSpawn("A")
	assert.False(t, adm.CanSpawn)
	assert.Equal(t, 0, adm.SlotsRemaining)
}
