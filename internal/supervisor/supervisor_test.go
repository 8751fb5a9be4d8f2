package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/store"
)

// fakeDriver is an in-memory stand-in for the Session Driver, letting
// Supervisor tests run without a real tmux server.
type fakeDriver struct {
	sessions map[string]string // id -> cmd
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{sessions: map[string]string{}}
}

func (f *fakeDriver) Create(id, cwd, cmd string) error {
	if _, ok := f.sessions[id]; ok {
		return assert.AnError
	}
	f.sessions[id] = cmd
	return nil
}

func (f *fakeDriver) Exists(id string) bool {
	_, ok := f.sessions[id]
	return ok
}

func (f *fakeDriver) Send(id, text string) error {
	if !f.Exists(id) {
		return assert.AnError
	}
	return nil
}

func (f *fakeDriver) Capture(id string, lines int) (string, error) {
	return "", nil
}

func (f *fakeDriver) Kill(id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeDriver) List() ([]string, error) {
	var names []string
	for id := range f.sessions {
		names = append(names, id)
	}
	return names, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeDriver, string) {
	t.Helper()
	root := t.TempDir()
	driver := newFakeDriver()
	hooks := hook.New(root)
	return New(root, driver, hooks, nil), driver, root
}

func TestSpawnCreatesRunningAgent(t *testing.T) {
	m, driver, root := newTestManager(t)

	state, err := m.Spawn(Options{IssueID: "MIN-42", Workspace: "/w", Runtime: "claude", Model: "sonnet", Prompt: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, "agent-min-42", state.ID)
	assert.Equal(t, store.StatusRunning, state.Status)
	assert.True(t, driver.Exists("agent-min-42"))

	reloaded, err := store.LoadState(root, "agent-min-42")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, reloaded.Status)
}

func TestSpawnAlreadyRunning(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Spawn(Options{IssueID: "MIN-42", Workspace: "/w", Runtime: "claude"})
	require.NoError(t, err)

	_, err = m.Spawn(Options{IssueID: "MIN-42", Workspace: "/w", Runtime: "claude"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSpawnPrependsStartupPromptWhenHookNonEmpty(t *testing.T) {
	m, driver, _ := newTestManager(t)

	hooks := m.hooks
	require.NoError(t, hooks.InitHook("agent-min-42"))
	_, err := hooks.Push("agent-min-42", store.HookItem{Type: store.HookItemTask, Priority: store.PriorityNormal, Source: "cli", Payload: map[string]any{"issueId": "MIN-42"}})
	require.NoError(t, err)

	_, err = m.Spawn(Options{IssueID: "MIN-42", Workspace: "/w", Runtime: "claude", Prompt: "continue"})
	require.NoError(t, err)
	assert.Contains(t, driver.sessions["agent-min-42"], "Pending Work Items")
}

func TestMessageRequiresLiveSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Message("agent-min-42", "hello")
	assert.ErrorIs(t, err, ErrNoSuchSession)
}

func TestStopIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.NoError(t, m.Stop("agent-nonexistent"))

	_, err := m.Spawn(Options{IssueID: "MIN-42", Workspace: "/w", Runtime: "claude"})
	require.NoError(t, err)
	require.NoError(t, m.Stop("agent-min-42"))
	require.NoError(t, m.Stop("agent-min-42"))
}

func TestDetectCrashed(t *testing.T) {
	m, driver, _ := newTestManager(t)
	_, err := m.Spawn(Options{IssueID: "MIN-42", Workspace: "/w", Runtime: "claude"})
	require.NoError(t, err)

	delete(driver.sessions, "agent-min-42") // simulate an external crash

	crashed, err := m.DetectCrashed()
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-min-42"}, crashed)
}

func TestRecoverPreservesHookAndIncrementsRecoveryCount(t *testing.T) {
	m, driver, root := newTestManager(t)
	_, err := m.Spawn(Options{IssueID: "MIN-42", Workspace: "/w", Runtime: "claude"})
	require.NoError(t, err)
	_, err = m.hooks.Push("agent-min-42", store.HookItem{Type: store.HookItemTask, Priority: store.PriorityNormal, Source: "cli"})
	require.NoError(t, err)

	delete(driver.sessions, "agent-min-42")

	state, err := m.Recover("agent-min-42")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, state.Status)
	assert.True(t, driver.Exists("agent-min-42"))

	health, err := store.LoadHealth(root, "agent-min-42")
	require.NoError(t, err)
	assert.Equal(t, 1, health.RecoveryCount)

	check, err := m.hooks.Check("agent-min-42")
	require.NoError(t, err)
	assert.True(t, check.HasWork, "hook survives a crash/recover cycle")
}

func TestAutoRecoverAll(t *testing.T) {
	m, driver, _ := newTestManager(t)
	_, err := m.Spawn(Options{IssueID: "MIN-1", Workspace: "/w", Runtime: "claude"})
	require.NoError(t, err)
	_, err = m.Spawn(Options{IssueID: "MIN-2", Workspace: "/w", Runtime: "claude"})
	require.NoError(t, err)

	delete(driver.sessions, "agent-min-1")
	delete(driver.sessions, "agent-min-2")

	results := m.AutoRecoverAll()
	assert.Len(t, results, 2)
	assert.NoError(t, results["agent-min-1"])
	assert.NoError(t, results["agent-min-2"])
}
