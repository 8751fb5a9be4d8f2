// Package handoff implements the Handoff Manager: transferring an agent's
// in-flight work to a new model, either by killing and respawning a work
// agent or by waking a specialist with the transfer as its next task.
package handoff

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/foreman-hq/fleet/internal/heartbeat"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/specialist/mergeflow"
	"github.com/foreman-hq/fleet/internal/store"
	"github.com/foreman-hq/fleet/internal/supervisor"
)

// Mode selects how a handoff moves work to the new model.
type Mode string

const (
	// ModeKillAndSpawn stops the old session and spawns a fresh one with
	// the same id, the default for work agents.
	ModeKillAndSpawn Mode = "kill-and-spawn"
	// ModeSpecialistWake treats the handoff as a wake with the handoff
	// prompt as the next task, the default for specialists.
	ModeSpecialistWake Mode = "specialist-wake"
)

// PaneReader is the part of the Session Driver this package needs:
// capturing recent pane output for the handoff context, checking whether
// a session exists, and killing it.
type PaneReader interface {
	Capture(id string, lines int) (string, error)
	Exists(id string) bool
	Kill(id string) error
}

// Request describes one handoff.
type Request struct {
	AgentID                string
	TargetModel            string
	Reason                 string
	Mode                   Mode // empty triggers auto-detection
	IdleTimeout            time.Duration
	AdditionalInstructions string
}

// Context is the captured state handed to the successor as its initial
// prompt, also persisted as a Markdown blob for audit.
type Context struct {
	AgentID     string
	IssueID     string
	TargetModel string
	Reason      string
	GitBranch   string
	RecentLog   string
	PaneTail    string
}

// CaptureLines is how many trailing lines of pane output are captured into
// a HandoffContext.
const CaptureLines = 200

// Manager performs handoffs by composing the Supervisor and Specialist
// Coordinator; it holds no state of its own beyond wiring.
type Manager struct {
	root        string
	driver      PaneReader
	supervisors *supervisor.Manager
	specialists *specialist.Manager
	logger      *log.Logger
}

// New returns a Manager rooted at root.
func New(root string, driver PaneReader, sup *supervisor.Manager, spec *specialist.Manager, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "handoff: ", log.LstdFlags)
	}
	return &Manager{root: root, driver: driver, supervisors: sup, specialists: spec, logger: logger}
}

// resolveMode auto-detects a Mode from the agent id's naming pattern when
// req.Mode is empty, per spec.md §4.7.
func resolveMode(req Request) Mode {
	if req.Mode != "" {
		return req.Mode
	}
	if ids.IsSpecialist(req.AgentID) {
		return ModeSpecialistWake
	}
	return ModeKillAndSpawn
}

// Handoff transfers req.AgentID's work to req.TargetModel and returns the
// context that was handed to the successor.
func (m *Manager) Handoff(req Request) (Context, error) {
	switch resolveMode(req) {
	case ModeSpecialistWake:
		return m.specialistWake(req)
	default:
		return m.killAndSpawn(req)
	}
}

// killAndSpawn implements spec.md §4.7's default work-agent path: wait for
// idle, capture context, stop, then spawn fresh with the same id.
func (m *Manager) killAndSpawn(req Request) (Context, error) {
	m.waitForIdle(req.AgentID, req.IdleTimeout)

	state, err := store.LoadState(m.root, req.AgentID)
	if err != nil {
		return Context{}, fmt.Errorf("handoff: load %s: %w", req.AgentID, err)
	}

	ctx, captureErr := m.captureContext(req, state.Workspace, state.IssueID)
	if captureErr != nil {
		m.logger.Printf("handoff: %s: capturing context failed, proceeding with empty context: %v", req.AgentID, captureErr)
	}
	if err := writeHandoffFile(m.root, req.AgentID, ctx); err != nil {
		m.logger.Printf("handoff: %s: persisting handoff context: %v", req.AgentID, err)
	}

	// A specialist id is never routed through the Supervisor's
	// issue-derived Spawn; it keeps its fixed specialist-<role> id and
	// respawns through the Specialist Coordinator instead.
	if ids.IsSpecialist(req.AgentID) {
		return m.respawnSpecialist(req, state, ctx)
	}

	if err := m.supervisors.Stop(req.AgentID); err != nil {
		return ctx, fmt.Errorf("handoff: stop %s: %w", req.AgentID, err)
	}

	prompt := renderPrompt(ctx) + req.AdditionalInstructions
	_, err = m.supervisors.Spawn(supervisor.Options{
		IssueID:   state.IssueID,
		Workspace: state.Workspace,
		Runtime:   state.Runtime,
		Model:     req.TargetModel,
		Prompt:    prompt,
		Phase:     state.Phase,
		WorkType:  state.WorkType,
	})
	if err != nil {
		markErrored(m.root, req.AgentID, m.logger)
		return ctx, fmt.Errorf("handoff: respawn %s: %w", req.AgentID, err)
	}

	state, err = store.LoadState(m.root, req.AgentID)
	if err != nil {
		return ctx, err
	}
	state.Model = req.TargetModel
	state.HandoffCount++
	if err := store.SaveState(m.root, state); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// respawnSpecialist performs the specialist half of kill-and-spawn: stop
// the existing session if any, then reinitialize the same specialist id
// through the coordinator so its role, not an issue id, anchors identity.
func (m *Manager) respawnSpecialist(req Request, state store.AgentState, ctx Context) (Context, error) {
	role, err := ids.RoleFromSpecialistID(req.AgentID)
	if err != nil {
		return ctx, err
	}
	if m.driver.Exists(req.AgentID) {
		if err := m.driver.Kill(req.AgentID); err != nil {
			return ctx, fmt.Errorf("handoff: stop %s: %w", req.AgentID, err)
		}
	}
	state.Status = store.StatusStopped
	_ = store.SaveState(m.root, state)

	prompt := renderPrompt(ctx) + req.AdditionalInstructions
	cmd := composeSpecialistCommand(state.Runtime, req.TargetModel, prompt)
	if err := m.specialists.Initialize(role, state.Workspace, cmd); err != nil {
		markErrored(m.root, req.AgentID, m.logger)
		return ctx, fmt.Errorf("handoff: respawn %s: %w", req.AgentID, err)
	}

	state, err = store.LoadState(m.root, req.AgentID)
	if err != nil {
		return ctx, err
	}
	state.Model = req.TargetModel
	state.HandoffCount++
	if err := store.SaveState(m.root, state); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// composeSpecialistCommand mirrors the Supervisor's assistant invocation
// format for specialists, which carry no separately tracked runtime model
// flag field of their own.
func composeSpecialistCommand(runtime, model, prompt string) string {
	if runtime == "" {
		runtime = "claude"
	}
	escaped := strings.NewReplacer(`"`, `\"`, "\n", `\n`).Replace(prompt)
	var b strings.Builder
	b.WriteString(runtime)
	if model != "" {
		fmt.Fprintf(&b, " --model %s", model)
	}
	fmt.Fprintf(&b, " %q", escaped)
	return b.String()
}

// specialistWake implements spec.md §4.7's specialist path: wake (or
// queue) with the handoff prompt as the next task, falling back to
// kill-and-spawn if the wake itself cannot be delivered.
func (m *Manager) specialistWake(req Request) (Context, error) {
	role, err := ids.RoleFromSpecialistID(req.AgentID)
	if err != nil {
		return Context{}, err
	}

	ctx, captureErr := m.captureContext(req, "", "")
	if captureErr != nil {
		m.logger.Printf("handoff: %s: capturing context failed, proceeding with empty context: %v", req.AgentID, captureErr)
	}
	if err := writeHandoffFile(m.root, req.AgentID, ctx); err != nil {
		m.logger.Printf("handoff: %s: persisting handoff context: %v", req.AgentID, err)
	}

	task := specialist.Task{
		Priority: store.PriorityUrgent,
		Prompt:   renderPrompt(ctx) + req.AdditionalInstructions,
	}
	if _, err := m.specialists.WakeSpecialistOrQueue(role, task, "handoff"); err != nil {
		m.logger.Printf("handoff: %s: specialist wake failed, falling back to kill-and-spawn: %v", req.AgentID, err)
		return m.killAndSpawn(req)
	}
	return ctx, nil
}

// waitForIdle polls until the agent's heartbeat goes stale or its session
// disappears, or timeout elapses, whichever first. A zero timeout skips
// waiting entirely.
func (m *Manager) waitForIdle(agentID string, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !m.driver.Exists(agentID) {
			return
		}
		hb, found, err := heartbeat.Read(m.root, agentID)
		if err == nil && found && !heartbeat.Fresh(hb, time.Now(), heartbeat.DefaultPingTimeout) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// captureContext renders a HandoffContext from pane output and, when
// workspace is a git checkout, the current branch and recent log.
func (m *Manager) captureContext(req Request, workspace, issueID string) (Context, error) {
	ctx := Context{
		AgentID:     req.AgentID,
		IssueID:     issueID,
		TargetModel: req.TargetModel,
		Reason:      req.Reason,
	}
	var errs []string

	if m.driver.Exists(req.AgentID) {
		tail, err := m.driver.Capture(req.AgentID, CaptureLines)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			ctx.PaneTail = tail
		}
	}

	if workspace != "" {
		g := mergeflow.NewGit(workspace)
		if branch, err := g.HeadBranch(); err == nil {
			ctx.GitBranch = branch
		} else {
			errs = append(errs, err.Error())
		}
		if log, err := g.RecentLog(5); err == nil {
			ctx.RecentLog = log
		}
	}

	if len(errs) > 0 {
		return ctx, errors.New(strings.Join(errs, "; "))
	}
	return ctx, nil
}

// renderPrompt renders ctx as the Markdown prompt handed to the successor.
func renderPrompt(ctx Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Handoff to %s\n\n", ctx.TargetModel)
	if ctx.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n\n", ctx.Reason)
	}
	if ctx.IssueID != "" {
		fmt.Fprintf(&b, "Issue: %s\n", ctx.IssueID)
	}
	if ctx.GitBranch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", ctx.GitBranch)
	}
	if ctx.RecentLog != "" {
		fmt.Fprintf(&b, "\nRecent commits:\n```\n%s\n```\n", ctx.RecentLog)
	}
	if ctx.PaneTail != "" {
		fmt.Fprintf(&b, "\nLast activity:\n```\n%s\n```\n", ctx.PaneTail)
	}
	b.WriteString("\nContinue this work from the current state of the workspace.\n")
	return b.String()
}

// writeHandoffFile persists ctx under the agent's handoffs directory.
func writeHandoffFile(root, agentID string, ctx Context) error {
	if err := os.MkdirAll(store.HandoffsDir(root, agentID), 0755); err != nil {
		return err
	}
	ts := time.Now().Format("20060102T150405.000000000")
	return os.WriteFile(store.HandoffFile(root, agentID, ts), []byte(renderPrompt(ctx)), 0644)
}

func markErrored(root, agentID string, logger *log.Logger) {
	state, err := store.LoadState(root, agentID)
	if err != nil {
		return
	}
	state.Status = store.StatusError
	if err := store.SaveState(root, state); err != nil {
		logger.Printf("handoff: %s: marking errored: %v", agentID, err)
	}
}
