// Package heartbeat ingests the freshness records that an assistant's
// in-process hook scripts write while it runs. The control plane never
// dictates what triggers a write; it only consumes them to judge liveness.
package heartbeat

import (
	"os"
	"time"

	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/store"
)

// Heartbeat is the freshness record written by an assistant's hook
// scripts at heartbeats/<session-name>.json.
type Heartbeat struct {
	Timestamp   time.Time `json:"timestamp"`
	AgentID     string    `json:"agent_id"`
	ToolName    string    `json:"tool_name,omitempty"`
	LastAction  string    `json:"last_action,omitempty"`
	CurrentTask string    `json:"current_task,omitempty"`
	GitBranch   string    `json:"git_branch,omitempty"`
	Workspace   string    `json:"workspace,omitempty"`
	PID         int       `json:"pid,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
}

// Condition is the health classification derived from a heartbeat read
// together with session liveness, per spec.md's active health channel.
type Condition string

const (
	// ConditionActive: heartbeat is fresh.
	ConditionActive Condition = "active"
	// ConditionStale: heartbeat exists but is older than the ping timeout,
	// session still alive.
	ConditionStale Condition = "stale"
	// ConditionWarning: no heartbeat at all, session still alive (hooks
	// not wired for this assistant).
	ConditionWarning Condition = "warning"
	// ConditionDead: no session.
	ConditionDead Condition = "dead"
)

// DefaultPingTimeout is the default staleness threshold (pingTimeoutMs in
// deacon/config.json).
const DefaultPingTimeout = 30 * time.Second

// Read loads the heartbeat for sessionName, or (zero, false, nil) if it
// has never been written. Partial files (a write caught mid-rename) are
// never observed because writes are atomic; a genuinely corrupt file is
// surfaced as an error so the caller can apply the "treat as missing" rule.
func Read(root, sessionName string) (Heartbeat, bool, error) {
	var hb Heartbeat
	err := fsatomic.ReadJSON(store.HeartbeatFile(root, sessionName), &hb)
	if err != nil {
		if os.IsNotExist(err) {
			return Heartbeat{}, false, nil
		}
		return Heartbeat{}, false, err
	}
	return hb, true, nil
}

// Write persists a heartbeat atomically. Exercised by tests standing in
// for an assistant's hook scripts; the control plane itself is read-only
// with respect to this file.
func Write(root, sessionName string, hb Heartbeat) error {
	return fsatomic.WriteJSON(store.HeartbeatFile(root, sessionName), hb)
}

// Fresh reports whether a heartbeat read at now is within pingTimeout of
// its own timestamp.
func Fresh(hb Heartbeat, now time.Time, pingTimeout time.Duration) bool {
	return now.Sub(hb.Timestamp) < pingTimeout
}

// Classify derives a Condition from whether a heartbeat exists, its
// freshness, and whether the backing session is still alive.
func Classify(hb Heartbeat, found, sessionAlive bool, now time.Time, pingTimeout time.Duration) Condition {
	if !sessionAlive {
		return ConditionDead
	}
	if !found {
		return ConditionWarning
	}
	if Fresh(hb, now, pingTimeout) {
		return ConditionActive
	}
	return ConditionStale
}
