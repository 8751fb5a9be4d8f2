// Package specialist implements the Specialist Coordinator: the lifecycle,
// queueing, and wake/complete protocol for the fixed set of long-lived
// singleton sessions (review-agent, test-agent, merge-agent,
// planning-agent) that the fleet keeps warm rather than spawning fresh per
// task.
package specialist

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist/markers"
	"github.com/foreman-hq/fleet/internal/specialist/mergeflow"
	"github.com/foreman-hq/fleet/internal/store"
)

// SessionDriver is the capability surface the coordinator needs from the
// Session Driver. Declared independently of supervisor.SessionDriver so
// this package has no dependency on the Agent Supervisor.
type SessionDriver interface {
	Create(id, cwd, cmd string) error
	Exists(id string) bool
	Send(id, text string) error
	Capture(id string, lines int) (string, error)
	Kill(id string) error
}

// LifecycleState is a specialist's coarse-grained state, derived from the
// Session Driver and the agent's own runtime.json rather than stored
// separately (spec.md §4.4's state machine has no persisted "state" field
// of its own).
type LifecycleState string

const (
	StateUninitialized LifecycleState = "uninitialized"
	StateIdle          LifecycleState = "idle"
	StateActive        LifecycleState = "active"
	StateDead          LifecycleState = "dead"
)

var (
	// ErrNotRunning is returned by WakeSpecialist when the specialist's
	// session is not live; the caller is expected to fall back to
	// initialize-and-retry or a kill-and-respawn handoff.
	ErrNotRunning = errors.New("specialist: not running")
	// ErrAlreadyInitialized is returned by Initialize when the session is
	// already live.
	ErrAlreadyInitialized = errors.New("specialist: already initialized")
	// ErrNoSessionID is returned when the assistant never reported a
	// resumable session id within the capture window.
	ErrNoSessionID = errors.New("specialist: no session id captured")
	// ErrTaskNotHead is returned by CompleteTask when the identified task is
	// not the one at the head of the queue.
	ErrTaskNotHead = errors.New("specialist: task is not at the head of the queue")
	// ErrQueueEmpty is returned by NextTask and CompleteTask against an
	// empty queue.
	ErrQueueEmpty = errors.New("specialist: queue is empty")
)

// Task is one unit of specialist work, persisted in queue.jsonl while
// waiting and in history.jsonl once resolved.
type Task struct {
	ID        string         `json:"id"`
	Role      ids.Role       `json:"role"`
	IssueID   string         `json:"issueId"`
	Priority  store.Priority `json:"priority"`
	Source    string         `json:"source"`
	Branch    string         `json:"branch,omitempty"`
	Workspace string         `json:"workspace,omitempty"`
	PRUrl     string         `json:"prUrl,omitempty"`
	Prompt    string         `json:"prompt"`
	CreatedAt time.Time      `json:"createdAt"`
}

// WakeLogEntry records one wake attempt, successful or not.
type WakeLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	TaskID     string    `json:"taskId"`
	TaskDigest string    `json:"taskDigest"`
	Queued     bool      `json:"queued"`
	Error      string    `json:"error,omitempty"`
}

// HistoryEntry records the resolution of a task that left the queue.
type HistoryEntry struct {
	TaskID    string    `json:"taskId"`
	IssueID   string    `json:"issueId"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// sessionIDPattern matches the line an assistant prints to report its
// resumable session id, e.g. "Session ID: 3fae21c4-...".
var sessionIDPattern = regexp.MustCompile(`(?i)session[_ ]?id[:\s]+([a-zA-Z0-9_-]{8,})`)

// Manager operates every specialist role under one control-plane root.
type Manager struct {
	root   string
	driver SessionDriver
	hooks  *hook.Manager
}

// New returns a Manager rooted at root, driving sessions through driver.
// hooks delivers review feedback to the work agent that originated a task;
// it may be nil where that feedback is not needed (tests exercising only
// the queue and lifecycle machinery).
func New(root string, driver SessionDriver, hooks *hook.Manager) *Manager {
	return &Manager{root: root, driver: driver, hooks: hooks}
}

// State derives a specialist's current lifecycle state from the Session
// Driver and its agent runtime.json, per spec.md §4.4's state machine: a
// dead session is Dead regardless of what runtime.json last reported; a
// live session defers to the assistant-reported activity, defaulting to
// Idle if runtime.json has never been written.
func (m *Manager) State(role ids.Role) (LifecycleState, error) {
	id, err := ids.SpecialistID(role)
	if err != nil {
		return "", err
	}
	if !m.driver.Exists(id) {
		if store.Exists(m.root, id) {
			return StateDead, nil
		}
		return StateUninitialized, nil
	}
	rs, err := store.LoadRuntimeState(m.root, id)
	if err != nil {
		return StateIdle, nil
	}
	if rs.State == store.RuntimeActive {
		return StateActive, nil
	}
	return StateIdle, nil
}

// Initialize starts a specialist's long-lived session if it is not already
// running. It does not capture the assistant-reported session id;
// CaptureSessionID does that as a separate call. Idempotent: a live
// session returns ErrAlreadyInitialized rather than restarting it.
func (m *Manager) Initialize(role ids.Role, workspace, cmd string) error {
	id, err := ids.SpecialistID(role)
	if err != nil {
		return err
	}
	if m.driver.Exists(id) {
		return ErrAlreadyInitialized
	}
	if err := store.InitAgentDir(m.root, id); err != nil {
		return err
	}
	now := time.Now()
	state := store.AgentState{
		ID:           id,
		Workspace:    workspace,
		Status:       store.StatusStarting,
		StartedAt:    now,
		LastActivity: now,
	}
	if err := store.SaveState(m.root, state); err != nil {
		return err
	}
	if err := m.driver.Create(id, workspace, cmd); err != nil {
		state.Status = store.StatusError
		_ = store.SaveState(m.root, state)
		return fmt.Errorf("specialist: initialize %s: %w", id, err)
	}
	state.Status = store.StatusRunning
	if err := store.SaveState(m.root, state); err != nil {
		return err
	}
	return nil
}

// CaptureSessionID scans the specialist's pane output for an
// assistant-reported session id and persists it to session-id.txt.
// Returns ErrNoSessionID if the pattern never matched.
func (m *Manager) CaptureSessionID(role ids.Role) (string, error) {
	id, err := ids.SpecialistID(role)
	if err != nil {
		return "", err
	}
	out, err := m.driver.Capture(id, 200)
	if err != nil {
		return "", err
	}
	match := sessionIDPattern.FindStringSubmatch(out)
	if match == nil {
		return "", ErrNoSessionID
	}
	sessionID := match[1]
	if err := fsatomic.WriteFile(store.SpecialistSessionIDFile(m.root, string(role)), []byte(sessionID), 0644); err != nil {
		return "", err
	}
	return sessionID, nil
}

// WakeSpecialist sends taskPrompt to a running specialist and records the
// wake event. Requires the session to already be live; callers at the
// coordination layer (WakeSpecialistOrQueue, or the Deacon after a
// respawn) are responsible for initialization.
func (m *Manager) WakeSpecialist(role ids.Role, task Task, source string) error {
	id, err := ids.SpecialistID(role)
	if err != nil {
		return err
	}
	if !m.driver.Exists(id) {
		m.logWake(role, task, source, false, ErrNotRunning)
		return fmt.Errorf("specialist: wake %s: %w", id, ErrNotRunning)
	}
	if err := m.driver.Send(id, task.Prompt); err != nil {
		m.logWake(role, task, source, false, err)
		return fmt.Errorf("specialist: wake %s: %w", id, err)
	}
	m.logWake(role, task, source, false, nil)
	return nil
}

// WakeSpecialistOrQueue wakes the specialist immediately if it is idle, or
// enqueues the task if it is active. An active specialist is never
// interrupted, even by an urgent task; urgent tasks may only jump ahead of
// lower-priority items already waiting in the queue.
func (m *Manager) WakeSpecialistOrQueue(role ids.Role, task Task, source string) (queued bool, err error) {
	task.ID = uuid.NewString()
	task.Role = role
	task.Source = source
	task.CreatedAt = time.Now()

	state, err := m.State(role)
	if err != nil {
		return false, err
	}
	if state == StateActive {
		if err := m.enqueue(role, task); err != nil {
			return false, err
		}
		m.logWake(role, task, source, true, nil)
		return true, nil
	}

	ready, err := m.PreflightReady(role, task)
	if err != nil {
		m.logWake(role, task, source, false, err)
		return false, err
	}
	if !ready {
		if err := m.enqueue(role, task); err != nil {
			return false, err
		}
		m.logWake(role, task, source, true, nil)
		return true, nil
	}

	if err := m.WakeSpecialist(role, task, source); err != nil {
		return false, err
	}
	return false, nil
}

// PreflightReady reports whether task may be woken immediately. Every role
// but merge-agent is always ready; a merge-agent task with a workspace and
// branch must first pass mergeflow.Preflight against DefaultRemote.
func (m *Manager) PreflightReady(role ids.Role, task Task) (bool, error) {
	if role != ids.RoleMerge || task.Workspace == "" || task.Branch == "" {
		return true, nil
	}
	g := mergeflow.NewGit(task.Workspace)
	result, err := mergeflow.Preflight(g, mergeflow.DefaultRemote, task.Branch, mergeflow.DefaultIgnore)
	if err != nil {
		return false, fmt.Errorf("specialist: merge preflight: %w", err)
	}
	return result.Ready, nil
}

// NextTask returns the task at the head of role's queue without removing
// it.
func (m *Manager) NextTask(role ids.Role) (Task, error) {
	tasks, err := m.loadQueue(role)
	if err != nil {
		return Task{}, err
	}
	if len(tasks) == 0 {
		return Task{}, ErrQueueEmpty
	}
	return tasks[0], nil
}

// CompleteTask removes taskID from role's queue and appends a history
// entry. Only the task currently at the head may be completed; completing
// any other id is a programming error surfaced as ErrTaskNotHead, since it
// means the caller lost track of which task it was actually processing.
// result carries the parsed marker value (e.g. "APPROVED", "FAILED") when
// the completion was driven by HandleResult; it is empty for completions
// that have no marker protocol of their own.
func (m *Manager) CompleteTask(role ids.Role, taskID string, outcome, result string, taskErr error) error {
	tasks, err := m.loadQueue(role)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return ErrQueueEmpty
	}
	if tasks[0].ID != taskID {
		return fmt.Errorf("specialist: complete %s: %w", taskID, ErrTaskNotHead)
	}
	head := tasks[0]
	remaining := tasks[1:]
	if err := fsatomic.WriteJSONLines(store.SpecialistQueueFile(m.root, string(role)), remaining); err != nil {
		return err
	}
	entry := HistoryEntry{
		TaskID:    head.ID,
		IssueID:   head.IssueID,
		Timestamp: time.Now(),
		Outcome:   outcome,
		Result:    result,
	}
	if taskErr != nil {
		entry.Error = taskErr.Error()
	}
	return fsatomic.AppendJSONLine(store.SpecialistHistoryFile(m.root, string(role)), entry)
}

// HandleResult looks for a result marker in a review-agent or test-agent's
// own pane output and, if one is found for the task at the head of role's
// queue, completes that task and records the parsed result to history. It
// reports handled=false when the specialist has nothing queued, is not
// running, or has not yet emitted a recognizable marker, so the caller can
// fall back to a plain wake. A review-agent's CHANGES_REQUESTED result is
// additionally delivered to the work agent that originated the task, per
// the review-feedback loop.
func (m *Manager) HandleResult(role ids.Role) (handled bool, err error) {
	id, err := ids.SpecialistID(role)
	if err != nil {
		return false, err
	}
	if !m.driver.Exists(id) {
		return false, nil
	}
	task, err := m.NextTask(role)
	if err != nil {
		if errors.Is(err, ErrQueueEmpty) {
			return false, nil
		}
		return false, err
	}

	out, err := m.driver.Capture(id, 200)
	if err != nil {
		return false, err
	}

	switch role {
	case ids.RoleReview:
		review := markers.ParseReview(out)
		if !review.Found() {
			return false, nil
		}
		if err := m.CompleteTask(role, task.ID, "resolved", string(review.Result), nil); err != nil {
			return false, err
		}
		if review.Result == markers.ReviewChangesRequested {
			m.notifyChangesRequested(task, review)
		}
		return true, nil
	case ids.RoleTest:
		result := markers.ParseTest(out)
		if !result.Found() {
			return false, nil
		}
		var taskErr error
		if result.Outcome == markers.TestFailed {
			taskErr = fmt.Errorf("specialist: tests failed: %s", result.Notes)
		}
		if err := m.CompleteTask(role, task.ID, "resolved", string(result.Outcome), taskErr); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// notifyChangesRequested pushes a feedback message to the work agent that
// raised task, if any; delivery is best-effort, matching logWake's
// tolerance for a dropped bookkeeping write.
func (m *Manager) notifyChangesRequested(task Task, review markers.Review) {
	if m.hooks == nil || task.IssueID == "" {
		return
	}
	workAgentID, err := ids.WorkAgentID(task.IssueID)
	if err != nil {
		return
	}
	message := fmt.Sprintf("review-agent requested changes on %s.", task.IssueID)
	if review.Notes != "" {
		message += " " + review.Notes
	}
	payload := map[string]any{"message": message}
	if len(review.SecurityIssues) > 0 {
		payload["securityIssues"] = review.SecurityIssues
	}
	if len(review.PerformanceIssues) > 0 {
		payload["performanceIssues"] = review.PerformanceIssues
	}
	_, _ = m.hooks.Push(workAgentID, store.HookItem{
		Type:     store.HookItemMessage,
		Priority: store.PriorityHigh,
		Source:   string(ids.RoleReview),
		Payload:  payload,
	})
}

// QueueStats summarizes a role's pending work.
type QueueStats struct {
	HasWork     bool  `json:"hasWork"`
	Depth       int   `json:"depth"`
	OldestAgeMs int64 `json:"oldestAgeMs"`
}

// QueueStats reports the depth and age of role's pending queue.
func (m *Manager) QueueStats(role ids.Role) (QueueStats, error) {
	tasks, err := m.loadQueue(role)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Depth: len(tasks), HasWork: len(tasks) > 0}
	if len(tasks) > 0 {
		stats.OldestAgeMs = time.Since(tasks[0].CreatedAt).Milliseconds()
	}
	return stats, nil
}

// RecentWakes returns the last n entries of role's wake log, oldest first
// within the returned slice, for the status board and scenario tests.
func (m *Manager) RecentWakes(role ids.Role, n int) ([]WakeLogEntry, error) {
	entries, err := fsatomic.ReadJSONLines[WakeLogEntry](store.SpecialistWakeLogFile(m.root, string(role)))
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(entries) <= n {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// enqueue appends task to role's queue, letting an urgent task jump ahead
// of every lower-priority item already waiting (but never ahead of another
// urgent item, preserving arrival order among equals).
func (m *Manager) enqueue(role ids.Role, task Task) error {
	tasks, err := m.loadQueue(role)
	if err != nil {
		return err
	}
	if task.Priority != store.PriorityUrgent {
		tasks = append(tasks, task)
	} else {
		insertAt := len(tasks)
		for i, t := range tasks {
			if t.Priority != store.PriorityUrgent {
				insertAt = i
				break
			}
		}
		tasks = append(tasks, Task{})
		copy(tasks[insertAt+1:], tasks[insertAt:])
		tasks[insertAt] = task
	}
	return fsatomic.WriteJSONLines(store.SpecialistQueueFile(m.root, string(role)), tasks)
}

func (m *Manager) loadQueue(role ids.Role) ([]Task, error) {
	return fsatomic.ReadJSONLines[Task](store.SpecialistQueueFile(m.root, string(role)))
}

func (m *Manager) logWake(role ids.Role, task Task, source string, queued bool, err error) {
	entry := WakeLogEntry{
		Timestamp:  time.Now(),
		Source:     source,
		TaskID:     task.ID,
		TaskDigest: digest(task.Prompt),
		Queued:     queued,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	_ = fsatomic.AppendJSONLine(store.SpecialistWakeLogFile(m.root, string(role)), entry)
}

// digest returns a short, human-scannable summary of a task prompt for the
// wake log, not a cryptographic digest.
func digest(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	const max = 80
	if len(prompt) <= max {
		return prompt
	}
	return prompt[:max] + "…"
}
