package specialist

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/store"
)

type fakeDriver struct {
	sessions map[string]string
	captures map[string]string
	sent     map[string][]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{sessions: map[string]string{}, captures: map[string]string{}, sent: map[string][]string{}}
}

func (f *fakeDriver) Create(id, cwd, cmd string) error {
	f.sessions[id] = cmd
	return nil
}
func (f *fakeDriver) Exists(id string) bool { _, ok := f.sessions[id]; return ok }
func (f *fakeDriver) Send(id, text string) error {
	if !f.Exists(id) {
		return ErrNotRunning
	}
	f.sent[id] = append(f.sent[id], text)
	return nil
}
func (f *fakeDriver) Capture(id string, lines int) (string, error) { return f.captures[id], nil }
func (f *fakeDriver) Kill(id string) error                         { delete(f.sessions, id); return nil }

func TestInitializeThenAlreadyInitialized(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))

	require.NoError(t, m.Initialize(ids.RoleReview, "/ws", "claude"))
	assert.True(t, driver.Exists("specialist-review-agent"))

	err := m.Initialize(ids.RoleReview, "/ws", "claude")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestStateUninitializedThenIdleThenDead(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))

	state, err := m.State(ids.RoleTest)
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, state)

	require.NoError(t, m.Initialize(ids.RoleTest, "/ws", "claude"))
	state, err = m.State(ids.RoleTest)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)

	require.NoError(t, driver.Kill("specialist-test-agent"))
	state, err = m.State(ids.RoleTest)
	require.NoError(t, err)
	assert.Equal(t, StateDead, state)
}

func TestCaptureSessionID(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleMerge, "/ws", "claude"))
	driver.captures["specialist-merge-agent"] = "starting up\nSession ID: abc123def456\nready"

	sid, err := m.CaptureSessionID(ids.RoleMerge)
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", sid)
}

func TestCaptureSessionIDMissing(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RolePlanning, "/ws", "claude"))
	driver.captures["specialist-planning-agent"] = "no session info here"

	_, err := m.CaptureSessionID(ids.RolePlanning)
	assert.ErrorIs(t, err, ErrNoSessionID)
}

func TestWakeSpecialistRequiresRunning(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))

	err := m.WakeSpecialist(ids.RoleReview, Task{Prompt: "review PR"}, "supervisor")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestWakeSpecialistOrQueueWakesWhenIdle(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleReview, "/ws", "claude"))

	queued, err := m.WakeSpecialistOrQueue(ids.RoleReview, Task{IssueID: "MIN-1", Priority: store.PriorityNormal, Prompt: "review MIN-1"}, "supervisor")
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, []string{"review MIN-1"}, driver.sent["specialist-review-agent"])
}

func TestWakeSpecialistOrQueueQueuesWhenActive(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleReview, "/ws", "claude"))
	require.NoError(t, store.SaveRuntimeState(root, "specialist-review-agent", store.AgentRuntimeState{State: store.RuntimeActive}))

	queued, err := m.WakeSpecialistOrQueue(ids.RoleReview, Task{IssueID: "MIN-2", Priority: store.PriorityNormal, Prompt: "review MIN-2"}, "supervisor")
	require.NoError(t, err)
	assert.True(t, queued)

	stats, err := m.QueueStats(ids.RoleReview)
	require.NoError(t, err)
	assert.True(t, stats.HasWork)
	assert.Equal(t, 1, stats.Depth)
}

func TestUrgentTaskJumpsQueueButNotActiveSpecialist(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleTest, "/ws", "claude"))
	require.NoError(t, store.SaveRuntimeState(root, "specialist-test-agent", store.AgentRuntimeState{State: store.RuntimeActive}))

	_, err := m.WakeSpecialistOrQueue(ids.RoleTest, Task{IssueID: "MIN-1", Priority: store.PriorityNormal, Prompt: "run tests MIN-1"}, "supervisor")
	require.NoError(t, err)
	_, err = m.WakeSpecialistOrQueue(ids.RoleTest, Task{IssueID: "MIN-2", Priority: store.PriorityLow, Prompt: "run tests MIN-2"}, "supervisor")
	require.NoError(t, err)
	_, err = m.WakeSpecialistOrQueue(ids.RoleTest, Task{IssueID: "MIN-3", Priority: store.PriorityUrgent, Prompt: "run tests MIN-3"}, "supervisor")
	require.NoError(t, err)

	next, err := m.NextTask(ids.RoleTest)
	require.NoError(t, err)
	assert.Equal(t, "MIN-3", next.IssueID, "urgent task jumps ahead of lower-priority queued items")

	// The specialist remains active; it was never sent anything directly.
	assert.Empty(t, driver.sent["specialist-test-agent"])
}

func TestCompleteTaskRequiresHead(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleMerge, "/ws", "claude"))
	require.NoError(t, store.SaveRuntimeState(root, "specialist-merge-agent", store.AgentRuntimeState{State: store.RuntimeActive}))

	_, err := m.WakeSpecialistOrQueue(ids.RoleMerge, Task{IssueID: "MIN-1", Priority: store.PriorityNormal, Prompt: "merge MIN-1"}, "supervisor")
	require.NoError(t, err)
	_, err = m.WakeSpecialistOrQueue(ids.RoleMerge, Task{IssueID: "MIN-2", Priority: store.PriorityNormal, Prompt: "merge MIN-2"}, "supervisor")
	require.NoError(t, err)

	head, err := m.NextTask(ids.RoleMerge)
	require.NoError(t, err)

	tasks, err := m.loadQueue(ids.RoleMerge)
	require.NoError(t, err)
	err = m.CompleteTask(ids.RoleMerge, tasks[1].ID, "merged", "", nil)
	assert.ErrorIs(t, err, ErrTaskNotHead)

	require.NoError(t, m.CompleteTask(ids.RoleMerge, head.ID, "merged", "", nil))
	stats, err := m.QueueStats(ids.RoleMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Depth)
}

func TestRecentWakesReturnsTail(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleReview, "/ws", "claude"))

	for i := 0; i < 5; i++ {
		require.NoError(t, m.WakeSpecialist(ids.RoleReview, Task{IssueID: "MIN-1", Prompt: "review"}, "supervisor"))
	}

	wakes, err := m.RecentWakes(ids.RoleReview, 2)
	require.NoError(t, err)
	assert.Len(t, wakes, 2)
}

func TestQueueStatsOldestAge(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RolePlanning, "/ws", "claude"))
	require.NoError(t, store.SaveRuntimeState(root, "specialist-planning-agent", store.AgentRuntimeState{State: store.RuntimeActive}))

	_, err := m.WakeSpecialistOrQueue(ids.RolePlanning, Task{IssueID: "MIN-9", Priority: store.PriorityNormal, Prompt: "plan MIN-9"}, "supervisor")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	stats, err := m.QueueStats(ids.RolePlanning)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.OldestAgeMs, int64(0))
}

func TestHandleResultApprovedCompletesTask(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleReview, "/ws", "claude"))

	_, err := m.WakeSpecialistOrQueue(ids.RoleReview, Task{IssueID: "MIN-42", Priority: store.PriorityNormal, Prompt: "review MIN-42"}, "supervisor")
	require.NoError(t, err)
	driver.captures["specialist-review-agent"] = "REVIEW_RESULT: APPROVED\nFILES_REVIEWED: main.go\nNOTES: looks good"

	handled, err := m.HandleResult(ids.RoleReview)
	require.NoError(t, err)
	assert.True(t, handled)

	stats, err := m.QueueStats(ids.RoleReview)
	require.NoError(t, err)
	assert.False(t, stats.HasWork)

	history, err := fsatomic.ReadJSONLines[HistoryEntry](store.SpecialistHistoryFile(root, string(ids.RoleReview)))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "APPROVED", history[0].Result)
}

func TestHandleResultChangesRequestedNotifiesWorkAgent(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	hooks := hook.New(root)
	m := New(root, driver, hooks)
	require.NoError(t, hooks.InitHook("agent-min-42"))
	require.NoError(t, m.Initialize(ids.RoleReview, "/ws", "claude"))

	_, err := m.WakeSpecialistOrQueue(ids.RoleReview, Task{IssueID: "MIN-42", Priority: store.PriorityNormal, Prompt: "review MIN-42"}, "supervisor")
	require.NoError(t, err)
	driver.captures["specialist-review-agent"] = "REVIEW_RESULT: CHANGES_REQUESTED\nSECURITY_ISSUES: unsanitized input\nNOTES: fix before merge"

	handled, err := m.HandleResult(ids.RoleReview)
	require.NoError(t, err)
	assert.True(t, handled)

	check, err := hooks.Check("agent-min-42")
	require.NoError(t, err)
	require.True(t, check.HasWork)
	assert.Equal(t, store.HookItemMessage, check.Items[0].Type)
	assert.Contains(t, check.Items[0].Payload["message"], "MIN-42")
}

func TestHandleResultNoMarkerYetIsNotHandled(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleReview, "/ws", "claude"))

	_, err := m.WakeSpecialistOrQueue(ids.RoleReview, Task{IssueID: "MIN-1", Priority: store.PriorityNormal, Prompt: "review MIN-1"}, "supervisor")
	require.NoError(t, err)
	driver.captures["specialist-review-agent"] = "still looking at the diff"

	handled, err := m.HandleResult(ids.RoleReview)
	require.NoError(t, err)
	assert.False(t, handled)

	stats, err := m.QueueStats(ids.RoleReview)
	require.NoError(t, err)
	assert.True(t, stats.HasWork)
}

func TestHandleResultTestFailedRecordsError(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleTest, "/ws", "claude"))

	_, err := m.WakeSpecialistOrQueue(ids.RoleTest, Task{IssueID: "MIN-1", Priority: store.PriorityNormal, Prompt: "run tests MIN-1"}, "supervisor")
	require.NoError(t, err)
	driver.captures["specialist-test-agent"] = "TEST_RESULT: FAILED\nNOTES: 2 failures"

	handled, err := m.HandleResult(ids.RoleTest)
	require.NoError(t, err)
	assert.True(t, handled)

	history, err := fsatomic.ReadJSONLines[HistoryEntry](store.SpecialistHistoryFile(root, string(ids.RoleTest)))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "FAILED", history[0].Result)
	assert.NotEmpty(t, history[0].Error)
}

// gitRepo creates a real git repository in a temp directory, mirroring
// mergeflow's own testRepo helper.
func gitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644))
	run("add", "README.md")
	run("commit", "-m", "initial commit")
	return dir
}

func TestWakeSpecialistOrQueueQueuesMergeTaskWithUnreachableBranch(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	m := New(root, driver, hook.New(root))
	require.NoError(t, m.Initialize(ids.RoleMerge, "/ws", "claude"))
	workspace := gitRepo(t)

	queued, err := m.WakeSpecialistOrQueue(ids.RoleMerge, Task{
		IssueID: "MIN-1", Priority: store.PriorityNormal, Prompt: "merge MIN-1",
		Workspace: workspace, Branch: "feature-never-pushed",
	}, "supervisor")
	require.NoError(t, err)
	assert.True(t, queued, "a merge task whose source branch is not reachable on the remote is held, not sent")
	assert.Empty(t, driver.sent["specialist-merge-agent"])
}
