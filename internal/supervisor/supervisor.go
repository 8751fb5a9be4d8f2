// Package supervisor implements the Agent Supervisor: it reconciles the
// Agent Store's intended state with the Session Driver's actual state, and
// exposes the minimal imperative surface to spawn, message, stop, and
// recover agents.
package supervisor

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/store"
)

// SessionDriver is the capability surface the Supervisor needs from the
// Session Driver. Satisfied by *tmux.Tmux; narrowed to an interface so
// tests can stub session behavior without a real multiplexer.
type SessionDriver interface {
	Create(id, cwd, cmd string) error
	Exists(id string) bool
	Send(id, text string) error
	Capture(id string, lines int) (string, error)
	Kill(id string) error
	List() ([]string, error)
}

var (
	// ErrNoSuchSession mirrors tmux.ErrNoSuchSession for callers that only
	// depend on this package.
	ErrNoSuchSession = errors.New("supervisor: no such session")
	// ErrAlreadyRunning is returned by Spawn when the derived id already
	// has a live session.
	ErrAlreadyRunning = errors.New("supervisor: already running")
)

// Options configures a new agent spawn.
type Options struct {
	IssueID   string
	Workspace string
	Runtime   string
	Model     string
	Prompt    string
	Phase     string
	WorkType  string
}

// Manager is the Agent Supervisor.
type Manager struct {
	root   string
	driver SessionDriver
	hooks  *hook.Manager
	logger *log.Logger
}

// New returns a Manager rooted at root, driving sessions through driver
// and work queues through hooks.
func New(root string, driver SessionDriver, hooks *hook.Manager, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "supervisor: ", log.LstdFlags)
	}
	return &Manager{root: root, driver: driver, hooks: hooks, logger: logger}
}

// Spawn derives the agent id, composes the assistant invocation, and
// creates its session. Fails with ErrAlreadyRunning if the id is
// already live.
func (m *Manager) Spawn(opts Options) (store.AgentState, error) {
	id, err := ids.WorkAgentID(opts.IssueID)
	if err != nil {
		return store.AgentState{}, err
	}
	if m.driver.Exists(id) {
		return store.AgentState{}, fmt.Errorf("supervisor: spawn %s: %w", id, ErrAlreadyRunning)
	}

	if err := m.hooks.InitHook(id); err != nil {
		return store.AgentState{}, err
	}
	prompt := opts.Prompt
	check, err := m.hooks.Check(id)
	if err != nil {
		return store.AgentState{}, err
	}
	if check.HasWork {
		startup, err := m.hooks.GenerateStartupPrompt(id)
		if err != nil {
			return store.AgentState{}, err
		}
		prompt = startup + "\n\n" + prompt
	}

	now := time.Now()
	state := store.AgentState{
		ID:           id,
		IssueID:      opts.IssueID,
		Workspace:    opts.Workspace,
		Runtime:      opts.Runtime,
		Model:        opts.Model,
		Status:       store.StatusStarting,
		StartedAt:    now,
		LastActivity: now,
		Phase:        opts.Phase,
		WorkType:     opts.WorkType,
	}
	if err := store.SaveState(m.root, state); err != nil {
		return store.AgentState{}, err
	}

	cmd := composeCommand(opts.Runtime, opts.Model, prompt, "")
	if err := m.driver.Create(id, opts.Workspace, cmd); err != nil {
		// state.json is intentionally left at "starting"; the caller
		// decides whether to retry or tear down.
		m.logger.Printf("spawn %s: session create failed: %v", id, err)
		return state, err
	}

	state.Status = store.StatusRunning
	if err := store.SaveState(m.root, state); err != nil {
		return store.AgentState{}, err
	}
	return state, nil
}

// Message requires a live session, injects text, and persists a copy
// under mail/<ts>.md for audit.
func (m *Manager) Message(id, text string) error {
	if !m.driver.Exists(id) {
		return fmt.Errorf("supervisor: message %s: %w", id, ErrNoSuchSession)
	}
	if err := m.driver.Send(id, text); err != nil {
		return fmt.Errorf("supervisor: message %s: %w", id, err)
	}
	ts := time.Now().Format("20060102T150405.000000000")
	path := filepath.Join(store.AgentDir(m.root, id), "mail", ts+".md")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0644)
}

// Stop kills the session if running and sets status to stopped.
// Idempotent: stopping an absent agent is a no-op success.
func (m *Manager) Stop(id string) error {
	if m.driver.Exists(id) {
		if err := m.driver.Kill(id); err != nil {
			return fmt.Errorf("supervisor: stop %s: %w", id, err)
		}
	}
	state, err := store.LoadState(m.root, id)
	if errors.Is(err, store.ErrNoSuchAgent) {
		return nil
	}
	if err != nil {
		return err
	}
	state.Status = store.StatusStopped
	return store.SaveState(m.root, state)
}

// ListEntry joins a persisted AgentState with its live session status.
type ListEntry struct {
	store.AgentState
	TmuxActive bool `json:"tmuxActive"`
}

// List joins Store contents with the Session Driver's live sessions.
func (m *Manager) List() ([]ListEntry, error) {
	agentsDir := filepath.Join(m.root, "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var result []ListEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		state, err := store.LoadState(m.root, e.Name())
		if err != nil {
			m.logger.Printf("list: skipping %s: %v", e.Name(), err)
			continue
		}
		result = append(result, ListEntry{AgentState: state, TmuxActive: m.driver.Exists(state.ID)})
	}
	return result, nil
}

// DetectCrashed returns agents whose state.json says running but whose
// session no longer exists.
func (m *Manager) DetectCrashed() ([]string, error) {
	entries, err := m.List()
	if err != nil {
		return nil, err
	}
	var crashed []string
	for _, e := range entries {
		if e.Status == store.StatusRunning && !e.TmuxActive {
			crashed = append(crashed, e.ID)
		}
	}
	return crashed, nil
}

// Recover re-spawns a crashed agent with a recovery prompt referencing its
// prior issueId, workspace, branch, and start time, inlining the
// fixed-point startup prompt if the hook is non-empty. Increments
// health.recoveryCount. Failure sets status to error.
func (m *Manager) Recover(id string) (store.AgentState, error) {
	state, err := store.LoadState(m.root, id)
	if err != nil {
		return store.AgentState{}, err
	}

	recoveryPrompt := buildRecoveryPrompt(state)
	check, err := m.hooks.Check(id)
	if err == nil && check.HasWork {
		if startup, err := m.hooks.GenerateStartupPrompt(id); err == nil {
			recoveryPrompt = startup + "\n\n" + recoveryPrompt
		}
	}

	cmd := composeCommand(state.Runtime, state.Model, recoveryPrompt, "")
	if err := m.driver.Create(id, state.Workspace, cmd); err != nil {
		state.Status = store.StatusError
		_ = store.SaveState(m.root, state)
		return state, fmt.Errorf("supervisor: recover %s: %w", id, err)
	}

	state.Status = store.StatusRunning
	state.StartedAt = time.Now()
	if err := store.SaveState(m.root, state); err != nil {
		return store.AgentState{}, err
	}

	health, _ := store.LoadHealth(m.root, id)
	health.RecoveryCount++
	now := time.Now()
	health.LastRecovery = &now
	if err := store.SaveHealth(m.root, id, health); err != nil {
		m.logger.Printf("recover %s: failed to persist health: %v", id, err)
	}
	return state, nil
}

// AutoRecoverAll applies Recover to every crashed agent, returning
// per-id success/failure so the caller can continue past partial failure.
func (m *Manager) AutoRecoverAll() map[string]error {
	results := make(map[string]error)
	crashed, err := m.DetectCrashed()
	if err != nil {
		results["*"] = err
		return results
	}
	for _, id := range crashed {
		_, err := m.Recover(id)
		results[id] = err
	}
	return results
}

func buildRecoveryPrompt(state store.AgentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resuming work on %s (previously started %s).\n", state.IssueID, state.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Workspace: %s\n", state.Workspace)
	if state.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", state.Branch)
	}
	b.WriteString("The prior session ended unexpectedly; continue from the current state of the workspace.")
	return b.String()
}

// composeCommand renders the assistant invocation per spec: `<assistant>
// --model <m> "<escaped prompt>"`, optionally resuming a prior session.
func composeCommand(assistant, model, prompt, resumeSessionID string) string {
	escaped := strings.NewReplacer(`"`, `\"`, "\n", `\n`).Replace(prompt)
	var b strings.Builder
	b.WriteString(assistant)
	if model != "" {
		fmt.Fprintf(&b, " --model %s", model)
	}
	if resumeSessionID != "" {
		fmt.Fprintf(&b, " --resume %s", resumeSessionID)
	}
	fmt.Fprintf(&b, " %q", escaped)
	return b.String()
}
