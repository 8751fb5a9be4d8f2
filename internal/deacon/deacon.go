// Package deacon implements the fleet's health monitor: a single
// ticker-driven patrol loop that force-kills and respawns unresponsive
// specialists, drains their queues, auto-suspends idle work agents, and
// raises a soft alert on mass death.
package deacon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/foreman-hq/fleet/internal/config"
	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/heartbeat"
	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/store"
	"github.com/foreman-hq/fleet/internal/supervisor"
	"github.com/foreman-hq/fleet/internal/telemetry"
)

// massDeathAlertSuppressWindow is how long a mass-death alert, once raised,
// suppresses a repeat alert for further deaths within the same window.
const massDeathAlertSuppressWindow = 5 * time.Minute

// HealthState is the Deacon's own persisted bookkeeping: one RoleHealth
// entry per specialist role, plus the outer-level mass-death bookkeeping,
// at deacon/health-state.json.
type HealthState struct {
	Roles              map[ids.Role]*RoleHealth `json:"roles"`
	LastMassDeathAlert *time.Time               `json:"lastMassDeathAlert,omitempty"`
}

// RoleHealth tracks consecutive failures and cooldown for one specialist role.
type RoleHealth struct {
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastForceKill       *time.Time `json:"lastForceKill,omitempty"`
	ForceKillCount      int        `json:"forceKillCount"`
}

func (h *HealthState) role(r ids.Role) *RoleHealth {
	if h.Roles == nil {
		h.Roles = map[ids.Role]*RoleHealth{}
	}
	rh, ok := h.Roles[r]
	if !ok {
		rh = &RoleHealth{}
		h.Roles[r] = rh
	}
	return rh
}

// InCooldown reports whether a role is within its cooldown window after a
// force-kill, per cfg.Cooldown().
func (rh *RoleHealth) InCooldown(now time.Time, cfg config.DeaconConfig) bool {
	return rh.LastForceKill != nil && now.Sub(*rh.LastForceKill) < cfg.Cooldown()
}

func loadHealthState(root string) (HealthState, error) {
	var hs HealthState
	path := store.DeaconHealthStateFile(root)
	if fsatomic.Exists(path) {
		if err := fsatomic.ReadJSON(path, &hs); err != nil {
			return HealthState{}, err
		}
	}
	if hs.Roles == nil {
		hs.Roles = map[ids.Role]*RoleHealth{}
	}
	return hs, nil
}

// SpecialistTemplate is the (workspace, command) a role is auto-initialized
// with after a force-kill or when found dead out of cooldown. A role with
// no template registered is monitored but never auto-respawned.
type SpecialistTemplate struct {
	Workspace string
	Cmd       string
}

// Manager runs the patrol loop.
type Manager struct {
	root        string
	driver      supervisor.SessionDriver
	supervisors *supervisor.Manager
	specialists *specialist.Manager
	hooks       *hook.Manager
	cfg         config.DeaconConfig
	logger      *log.Logger
	templates   map[ids.Role]SpecialistTemplate

	mu           sync.Mutex
	running      bool
	stop         chan struct{}
	done         chan struct{}
	recentDeaths []time.Time
}

// NewManager returns a Manager rooted at root. templates registers the
// (workspace, command) each specialist role is auto-initialized with; it
// may be nil or incomplete, in which case roles without an entry are
// monitored but never auto-respawned.
func NewManager(root string, driver supervisor.SessionDriver, sup *supervisor.Manager, spec *specialist.Manager, hooks *hook.Manager, cfg config.DeaconConfig, templates map[ids.Role]SpecialistTemplate, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "deacon: ", log.LstdFlags)
	}
	return &Manager{root: root, driver: driver, supervisors: sup, specialists: spec, hooks: hooks, cfg: cfg, templates: templates, logger: logger}
}

// Start launches the patrol ticker in a background goroutine. Calling
// Start again while the loop is already running is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
}

// Stop signals the patrol loop to exit and blocks until the in-flight tick,
// if any, runs to completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stop)
	done := m.done
	m.running = false
	m.mu.Unlock()
	<-done
}

func (m *Manager) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.PatrolInterval())
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// Tick runs one patrol pass synchronously, outside the ticker's own
// schedule. Used by the daemon to process a SIGUSR1 request for an
// immediate pass rather than waiting for the next tick.
func (m *Manager) Tick() {
	m.tick()
}

// tick runs one full patrol pass. A failure checking one role is logged
// and the loop continues with the next role, per spec.md §7's propagation
// policy for the Deacon's internal helpers.
func (m *Manager) tick() {
	hs, err := loadHealthState(m.root)
	if err != nil {
		m.logger.Printf("patrol: loading health state: %v", err)
		hs = HealthState{Roles: map[ids.Role]*RoleHealth{}}
	}

	for _, role := range ids.Roles {
		if err := m.checkSpecialistHealth(role, &hs); err != nil {
			m.logger.Printf("patrol: %s: %v", role, err)
		}
	}

	m.drainQueues()
	m.autoSuspendIdleAgents()
	m.detectMassDeath(&hs)

	if err := fsatomic.WriteJSON(store.DeaconHealthStateFile(m.root), hs); err != nil {
		m.logger.Printf("patrol: saving health state: %v", err)
	}

	if _, err := m.SweepStaleHooks(m.hooks, DefaultStaleHookMaxAge); err != nil {
		m.logger.Printf("patrol: stale hook sweep: %v", err)
	}
}

// checkSpecialistHealth implements spec.md §4.6 step 1-3: a specialist
// whose session is gone is a candidate for respawn; one that is alive but
// unresponsive past the configured consecutive-failure count is
// force-killed (subject to cooldown) and then respawned.
func (m *Manager) checkSpecialistHealth(role ids.Role, hs *HealthState) error {
	id, err := ids.SpecialistID(role)
	if err != nil {
		return err
	}
	rh := hs.role(role)

	if !m.driver.Exists(id) {
		if store.Exists(m.root, id) {
			m.recordDeath()
		}
		if !rh.InCooldown(time.Now(), m.cfg) {
			m.autoInitialize(role)
		}
		return nil
	}

	hb, found, err := heartbeat.Read(m.root, id)
	if err != nil {
		return err
	}
	fresh := found && heartbeat.Fresh(hb, time.Now(), m.cfg.PingTimeout())
	if fresh {
		rh.ConsecutiveFailures = 0
		return nil
	}

	rh.ConsecutiveFailures++
	if rh.ConsecutiveFailures < m.cfg.ConsecutiveFailures {
		return nil
	}
	if rh.InCooldown(time.Now(), m.cfg) {
		return nil
	}

	telemetry.RecordForceKill(context.Background(), string(role), rh.ConsecutiveFailures)
	if err := m.driver.Kill(id); err != nil {
		return fmt.Errorf("force-kill %s: %w", id, err)
	}
	now := time.Now()
	rh.LastForceKill = &now
	rh.ConsecutiveFailures = 0
	rh.ForceKillCount++
	m.recordDeath()
	m.autoInitialize(role)
	return nil
}

// autoInitialize re-initializes role from its registered template, per
// spec.md §4.6 steps 2-3. A role with no template is left dead; the
// operator is expected to initialize it manually the first time.
func (m *Manager) autoInitialize(role ids.Role) {
	tmpl, ok := m.templates[role]
	if !ok {
		return
	}
	if err := m.specialists.Initialize(role, tmpl.Workspace, tmpl.Cmd); err != nil && !errors.Is(err, specialist.ErrAlreadyInitialized) {
		m.logger.Printf("auto-initialize %s: %v", role, err)
	}
}

// drainQueues wakes the head task of every role with pending work and an
// idle specialist. A role whose specialist is not idle is skipped: a
// suspended or dead specialist is not resumed here, and its queue is left
// as it is. A role's head
// task may already have been sent on a prior tick and since resolved by
// the specialist's own output; HandleResult checks for that before this
// tick assumes it needs a fresh wake, so a drained task is eventually
// removed from the queue rather than re-woken forever.
func (m *Manager) drainQueues() {
	for _, role := range ids.Roles {
		stats, err := m.specialists.QueueStats(role)
		if err != nil || !stats.HasWork {
			continue
		}
		state, err := m.specialists.State(role)
		if err != nil || state != specialist.StateIdle {
			continue
		}

		handled, err := m.specialists.HandleResult(role)
		if err != nil {
			m.logger.Printf("drain: handling result for %s: %v", role, err)
			continue
		}
		if handled {
			continue
		}

		task, err := m.specialists.NextTask(role)
		if err != nil {
			continue
		}
		ready, err := m.specialists.PreflightReady(role, task)
		if err != nil {
			m.logger.Printf("drain: preflight %s: %v", role, err)
			continue
		}
		if !ready {
			continue
		}
		if err := m.specialists.WakeSpecialist(role, task, "deacon-drain"); err != nil {
			m.logger.Printf("drain: waking %s: %v", role, err)
		}
	}
}

// autoSuspendIdleAgents marks work agents idle past the configured
// threshold, per spec.md §4.6 step 5. Suspension is advisory bookkeeping;
// the session itself is left running.
func (m *Manager) autoSuspendIdleAgents() {
	entries, err := m.supervisors.List()
	if err != nil {
		m.logger.Printf("auto-suspend: listing agents: %v", err)
		return
	}
	threshold := m.cfg.WorkIdleThreshold()
	now := time.Now()
	for _, e := range entries {
		if e.Status != store.StatusRunning {
			continue
		}
		idleFor := now.Sub(e.LastActivity)
		if idleFor < threshold {
			continue
		}
		rs, err := store.LoadRuntimeState(m.root, e.ID)
		if err == nil && rs.State == store.RuntimeSuspended {
			continue
		}
		suspendedAt := now
		rs.State = store.RuntimeSuspended
		rs.SuspendedAt = &suspendedAt
		if err := store.SaveRuntimeState(m.root, e.ID, rs); err != nil {
			m.logger.Printf("auto-suspend: %s: %v", e.ID, err)
			continue
		}
		telemetry.RecordAutoSuspend(context.Background(), e.ID, float64(idleFor.Milliseconds()))
	}
}

// detectMassDeath raises a soft alert when deaths cluster within the
// configured window, per spec.md §4.6 step 6 and §7 ("soft alert... not an
// error; continues operation"). A second cluster within
// massDeathAlertSuppressWindow of the last alert does not re-alert.
func (m *Manager) detectMassDeath(hs *HealthState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	window := m.cfg.MassDeathWindow()
	var recent []time.Time
	for _, t := range m.recentDeaths {
		if now.Sub(t) < window {
			recent = append(recent, t)
		}
	}
	m.recentDeaths = recent
	if len(recent) < m.cfg.MassDeathThreshold {
		return
	}
	if hs.LastMassDeathAlert != nil && now.Sub(*hs.LastMassDeathAlert) < massDeathAlertSuppressWindow {
		return
	}
	telemetry.RecordMassDeathAlert(context.Background(), len(recent))
	m.logger.Printf("ALERT: mass-death: %d deaths within %s", len(recent), window)
	hs.LastMassDeathAlert = &now
}

func (m *Manager) recordDeath() {
	m.mu.Lock()
	m.recentDeaths = append(m.recentDeaths, time.Now())
	m.mu.Unlock()
}
