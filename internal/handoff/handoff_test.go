package handoff

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/store"
	"github.com/foreman-hq/fleet/internal/supervisor"
)

type fakeDriver struct {
	sessions map[string]bool
	captures map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{sessions: map[string]bool{}, captures: map[string]string{}}
}

func (f *fakeDriver) Create(id, cwd, cmd string) error { f.sessions[id] = true; return nil }
func (f *fakeDriver) Exists(id string) bool            { return f.sessions[id] }
func (f *fakeDriver) Send(id, text string) error       { return nil }
func (f *fakeDriver) Capture(id string, lines int) (string, error) {
	return f.captures[id], nil
}
func (f *fakeDriver) Kill(id string) error    { delete(f.sessions, id); return nil }
func (f *fakeDriver) List() ([]string, error) { return nil, nil }

func newTestManager(t *testing.T) (*Manager, string, *fakeDriver, *supervisor.Manager) {
	t.Helper()
	root := t.TempDir()
	driver := newFakeDriver()
	hooks := hook.New(root)
	sup := supervisor.New(root, driver, hooks, nil)
	spec := specialist.New(root, driver, hooks)
	return New(root, driver, sup, spec, nil), root, driver, sup
}

func TestHandoffKillAndSpawnRespawnsWithNewModel(t *testing.T) {
	m, root, driver, sup := newTestManager(t)
	ws := t.TempDir()

	_, err := sup.Spawn(supervisor.Options{IssueID: "MIN-1", Workspace: ws, Runtime: "claude", Model: "old-model", Prompt: "work"})
	require.NoError(t, err)
	id, err := ids.WorkAgentID("MIN-1")
	require.NoError(t, err)
	require.True(t, driver.Exists(id))
	driver.captures[id] = "doing something\n"

	ctx, err := m.Handoff(Request{AgentID: id, TargetModel: "new-model", Reason: "upgrade"})
	require.NoError(t, err)
	assert.Equal(t, "MIN-1", ctx.IssueID)

	state, err := store.LoadState(root, id)
	require.NoError(t, err)
	assert.Equal(t, "new-model", state.Model)
	assert.Equal(t, 1, state.HandoffCount)
	assert.Equal(t, store.StatusRunning, state.Status)
	assert.True(t, driver.Exists(id))

	entries, err := os.ReadDir(store.HandoffsDir(root, id))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHandoffAutoDetectsSpecialistWakeMode(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	require.NoError(t, m.specialists.Initialize(ids.RoleReview, "/ws", "claude"))

	id, err := ids.SpecialistID(ids.RoleReview)
	require.NoError(t, err)

	ctx, err := m.Handoff(Request{AgentID: id, TargetModel: "new-model", Reason: "upgrade"})
	require.NoError(t, err)
	assert.Equal(t, "new-model", ctx.TargetModel)

	wakes, err := m.specialists.RecentWakes(ids.RoleReview, 1)
	require.NoError(t, err)
	require.Len(t, wakes, 1)
	assert.False(t, wakes[0].Queued)
}

func TestHandoffSpecialistWakeFallsBackToKillAndSpawnOnFailure(t *testing.T) {
	m, root, driver, _ := newTestManager(t)
	require.NoError(t, m.specialists.Initialize(ids.RoleMerge, "/ws", "claude"))
	id, err := ids.SpecialistID(ids.RoleMerge)
	require.NoError(t, err)
	// Kill the underlying session without telling the specialist manager,
	// so WakeSpecialist fails and the handoff must fall back.
	require.NoError(t, driver.Kill(id))

	_, err = m.Handoff(Request{AgentID: id, TargetModel: "new-model", Reason: "session died"})
	require.NoError(t, err)

	state, err := store.LoadState(root, id)
	require.NoError(t, err)
	assert.Equal(t, "new-model", state.Model)
	assert.Equal(t, 1, state.HandoffCount)
}
