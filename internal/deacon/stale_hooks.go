package deacon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/store"
)

// DefaultStaleHookMaxAge is how long a hook item may sit unconsumed before
// SweepStaleHooks considers it eligible for removal, independent of its
// own expiresAt.
const DefaultStaleHookMaxAge = 24 * time.Hour

// StaleHookResult reports one hook item dropped by a sweep.
type StaleHookResult struct {
	AgentID string    `json:"agentId"`
	ItemID  string    `json:"itemId"`
	Age     string    `json:"age"`
	Popped  bool      `json:"popped"`
	Error   string    `json:"error,omitempty"`
	Seen    time.Time `json:"seen"`
}

// StaleHookSweepResult is the outcome of one full sweep pass.
type StaleHookSweepResult struct {
	ScannedAt time.Time         `json:"scannedAt"`
	Scanned   int               `json:"scanned"`
	Stale     int               `json:"stale"`
	Results   []StaleHookResult `json:"results"`
}

// SessionChecker reports whether an agent id has a live session, mirroring
// the capability the teacher's AgentChecker provided for beads.
type SessionChecker interface {
	Exists(id string) bool
}

// PopHook removes one hook item by id. Declared narrowly so this file
// depends only on what it calls, mirroring hook.Manager.Pop without an
// import cycle back onto the full hook package surface.
type PopHook interface {
	Pop(agentID, itemID string) (bool, error)
}

// SweepStaleHooks finds hook items older than maxAge whose owning agent's
// session no longer exists, and pops them: a healthy agent's queue is
// never touched no matter how old its items are, since it may simply be
// busy. This is independent of the per-item expiresAt already enforced by
// hook.Manager.Check; it catches items that never expire but whose agent
// died before consuming them.
func SweepStaleHooks(root string, driver SessionChecker, hooks PopHook, maxAge time.Duration) (StaleHookSweepResult, error) {
	result := StaleHookSweepResult{ScannedAt: time.Now()}
	agentsDir := filepath.Join(root, "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, err
	}

	threshold := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		agentID := e.Name()
		if driver.Exists(agentID) {
			continue
		}
		var h store.Hook
		hookPath := store.HookFile(root, agentID)
		if !fsatomic.Exists(hookPath) {
			continue
		}
		if err := fsatomic.ReadJSON(hookPath, &h); err != nil {
			continue
		}
		for _, item := range h.Items {
			result.Scanned++
			if item.CreatedAt.After(threshold) {
				continue
			}
			result.Stale++
			sr := StaleHookResult{
				AgentID: agentID,
				ItemID:  item.ID,
				Age:     time.Since(item.CreatedAt).Round(time.Minute).String(),
				Seen:    item.CreatedAt,
			}
			popped, err := hooks.Pop(agentID, item.ID)
			if err != nil {
				sr.Error = err.Error()
			} else {
				sr.Popped = popped
			}
			result.Results = append(result.Results, sr)
		}
	}
	return result, nil
}

// SweepStaleHooks runs the package-level sweep using this Manager's own
// root and Session Driver, invoked once per patrol tick.
func (m *Manager) SweepStaleHooks(hooks PopHook, maxAge time.Duration) (StaleHookSweepResult, error) {
	return SweepStaleHooks(m.root, m.driver, hooks, maxAge)
}
