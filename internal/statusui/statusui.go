// Package statusui renders a read-only terminal snapshot of the fleet's
// agents and specialists: a local operator's view of the same AgentState
// and specialist lifecycle data the Deacon patrols, distinct from any
// HTTP dashboard. It never mutates control-plane state.
package statusui

import (
	"time"

	"github.com/foreman-hq/fleet/internal/config"
	"github.com/foreman-hq/fleet/internal/deacon"
	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/store"
	"github.com/foreman-hq/fleet/internal/supervisor"
)

// AgentRow is one work agent's display-ready state.
type AgentRow struct {
	ID           string
	IssueID      string
	Status       store.Status
	Model        string
	Phase        string
	WorkType     string
	Branch       string
	HandoffCount int
	LastActivity time.Time
}

// SpecialistRow is one specialist role's display-ready state.
type SpecialistRow struct {
	Role                ids.Role
	State               specialist.LifecycleState
	Queue               specialist.QueueStats
	ConsecutiveFailures int
	InCooldown          bool
	RecentWakes         []specialist.WakeLogEntry
}

// Snapshot is one point-in-time read of the whole fleet, everything the
// board needs to render a frame.
type Snapshot struct {
	GeneratedAt time.Time
	Agents      []AgentRow
	Specialists []SpecialistRow
}

// Collector gathers Snapshots from the same managers the Deacon and
// Supervisor use, without ever calling their mutating methods.
type Collector struct {
	root        string
	supervisors *supervisor.Manager
	specialists *specialist.Manager
}

// New returns a Collector rooted at root.
func New(root string, sup *supervisor.Manager, spec *specialist.Manager) *Collector {
	return &Collector{root: root, supervisors: sup, specialists: spec}
}

// Snapshot reads current agent and specialist state. A failure reading one
// role's health or queue is not fatal to the whole snapshot; that row is
// rendered with its zero-value fields.
func (c *Collector) Snapshot() (Snapshot, error) {
	snap := Snapshot{GeneratedAt: time.Now()}

	entries, err := c.supervisors.List()
	if err != nil {
		return Snapshot{}, err
	}
	for _, e := range entries {
		snap.Agents = append(snap.Agents, AgentRow{
			ID:           e.ID,
			IssueID:      e.IssueID,
			Status:       e.Status,
			Model:        e.Model,
			Phase:        e.Phase,
			WorkType:     e.WorkType,
			Branch:       e.Branch,
			HandoffCount: e.HandoffCount,
			LastActivity: e.LastActivity,
		})
	}

	var hs deacon.HealthState
	healthPath := store.DeaconHealthStateFile(c.root)
	if fsatomic.Exists(healthPath) {
		_ = fsatomic.ReadJSON(healthPath, &hs)
	}
	cfg, _ := config.LoadDeaconConfig(c.root)

	for _, role := range ids.Roles {
		row := SpecialistRow{Role: role}
		if state, err := c.specialists.State(role); err == nil {
			row.State = state
		}
		if stats, err := c.specialists.QueueStats(role); err == nil {
			row.Queue = stats
		}
		if wakes, err := c.specialists.RecentWakes(role, 3); err == nil {
			row.RecentWakes = wakes
		}
		if hs.Roles != nil {
			if rh, ok := hs.Roles[role]; ok {
				row.ConsecutiveFailures = rh.ConsecutiveFailures
				row.InCooldown = rh.InCooldown(snap.GeneratedAt, cfg)
			}
		}
		snap.Specialists = append(snap.Specialists, row)
	}

	return snap, nil
}
