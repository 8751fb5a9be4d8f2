// Package hook implements the Work Hook: a prioritized, durable,
// crash-safe work queue and mailbox built on top of the Agent Store.
package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foreman-hq/fleet/internal/fsatomic"
	"github.com/foreman-hq/fleet/internal/store"
)

// Manager operates the hook and mailbox of every agent under one
// control-plane root.
type Manager struct {
	root string
}

// New returns a Manager rooted at the given control-plane directory.
func New(root string) *Manager {
	return &Manager{root: root}
}

// InitHook creates agents/<id>/ and an empty hook.json and mail/
// idempotently.
func (m *Manager) InitHook(id string) error {
	return store.InitAgentDir(m.root, id)
}

// Push appends a HookItem with a generated id and timestamp. The write is
// atomic: temp file + rename, performed while holding the per-agent lock.
func (m *Manager) Push(id string, item store.HookItem) (store.HookItem, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = time.Now()

	lock := fsatomic.NewLock(store.HookLockFile(m.root, id))
	err := lock.WithLock(func() error {
		h, err := m.loadHookLocked(id)
		if err != nil {
			return err
		}
		for _, existing := range h.Items {
			if existing.ID == item.ID {
				return fmt.Errorf("hook: duplicate id %s", item.ID)
			}
		}
		h.Items = append(h.Items, item)
		return fsatomic.WriteJSON(store.HookFile(m.root, id), h)
	})
	if err != nil {
		return store.HookItem{}, err
	}
	return item, nil
}

// CheckResult is the merged, sorted, unexpired view of an agent's pending work.
type CheckResult struct {
	HasWork     bool             `json:"hasWork"`
	UrgentCount int              `json:"urgentCount"`
	Items       []store.HookItem `json:"items"`
}

// Check merges the hook and mailbox contents, drops expired items, and
// sorts by (priority, createdAt) ascending. It does not consume items.
func (m *Manager) Check(id string) (CheckResult, error) {
	lock := fsatomic.NewLock(store.HookLockFile(m.root, id))
	var result CheckResult
	err := lock.WithLock(func() error {
		h, err := m.loadHookLocked(id)
		if err != nil {
			return err
		}
		now := time.Now()

		var live []store.HookItem
		reaped := false
		for _, item := range h.Items {
			if item.Expired(now) {
				reaped = true
				continue
			}
			live = append(live, item)
		}
		if reaped {
			h.Items = live
			if err := fsatomic.WriteJSON(store.HookFile(m.root, id), h); err != nil {
				return err
			}
		}

		mail, err := m.peekMail(id)
		if err != nil {
			return err
		}
		for _, item := range mail {
			if !item.Expired(now) {
				live = append(live, item)
			}
		}

		sortItems(live)

		ts := now
		h.LastChecked = &ts
		if err := fsatomic.WriteJSON(store.HookFile(m.root, id), h); err != nil {
			return err
		}

		result = CheckResult{Items: live}
		for _, item := range live {
			if item.Priority == store.PriorityUrgent {
				result.UrgentCount++
			}
		}
		result.HasWork = len(live) > 0
		return nil
	})
	return result, err
}

// Pop removes the identified item from the hook and updates lastChecked.
// Returns whether it was present; a concurrent pop for the same id is not
// an error for the loser, it simply observes "not present".
func (m *Manager) Pop(id, itemID string) (bool, error) {
	lock := fsatomic.NewLock(store.HookLockFile(m.root, id))
	found := false
	err := lock.WithLock(func() error {
		h, err := m.loadHookLocked(id)
		if err != nil {
			return err
		}
		var remaining []store.HookItem
		for _, item := range h.Items {
			if item.ID == itemID {
				found = true
				continue
			}
			remaining = append(remaining, item)
		}
		if !found {
			return nil
		}
		h.Items = remaining
		ts := time.Now()
		h.LastChecked = &ts
		return fsatomic.WriteJSON(store.HookFile(m.root, id), h)
	})
	return found, err
}

// Clear empties the hook's queue.
func (m *Manager) Clear(id string) error {
	lock := fsatomic.NewLock(store.HookLockFile(m.root, id))
	return lock.WithLock(func() error {
		return fsatomic.WriteJSON(store.HookFile(m.root, id), store.Hook{Items: []store.HookItem{}})
	})
}

// ErrReorderSetMismatch is returned by Reorder when orderedIds does not
// contain exactly the current item ids.
var ErrReorderSetMismatch = fmt.Errorf("hook: reorder set does not match current items")

// Reorder replaces the queue order with the given permutation of ids.
// Fails if the set of ids does not exactly match the current set.
func (m *Manager) Reorder(id string, orderedIds []string) error {
	lock := fsatomic.NewLock(store.HookLockFile(m.root, id))
	return lock.WithLock(func() error {
		h, err := m.loadHookLocked(id)
		if err != nil {
			return err
		}
		byID := make(map[string]store.HookItem, len(h.Items))
		for _, item := range h.Items {
			byID[item.ID] = item
		}
		if len(byID) != len(orderedIds) {
			return ErrReorderSetMismatch
		}
		reordered := make([]store.HookItem, 0, len(orderedIds))
		seen := make(map[string]bool, len(orderedIds))
		for _, oid := range orderedIds {
			item, ok := byID[oid]
			if !ok || seen[oid] {
				return ErrReorderSetMismatch
			}
			seen[oid] = true
			reordered = append(reordered, item)
		}
		h.Items = reordered
		return fsatomic.WriteJSON(store.HookFile(m.root, id), h)
	})
}

// SendMail writes a single mailbox file for the recipient. It never
// modifies the recipient's hook.json and needs no lock: each message is
// its own file.
func (m *Manager) SendMail(to, from, message string, priority store.Priority) error {
	item := store.HookItem{
		ID:        uuid.NewString(),
		Type:      store.HookItemMessage,
		Priority:  priority,
		Source:    from,
		Payload:   map[string]any{"message": message},
		CreatedAt: time.Now(),
	}
	if err := os.MkdirAll(store.MailDir(m.root, to), 0755); err != nil {
		return err
	}
	return fsatomic.WriteJSON(store.MailFile(m.root, to, item.ID), item)
}

// CollectMail atomically reads and deletes every mailbox file for id,
// returning them as items.
func (m *Manager) CollectMail(id string) ([]store.HookItem, error) {
	dir := store.MailDir(m.root, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var items []store.HookItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var item store.HookItem
		if err := fsatomic.ReadJSON(path, &item); err != nil {
			// A partially written mailbox file is tolerated: skip it,
			// leave it on disk for the next collection attempt.
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// peekMail reads every mailbox file without deleting it, used by Check
// so mail is visible alongside hook items without being consumed.
func (m *Manager) peekMail(id string) ([]store.HookItem, error) {
	dir := store.MailDir(m.root, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var items []store.HookItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var item store.HookItem
		if err := fsatomic.ReadJSON(filepath.Join(dir, entry.Name()), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// GenerateStartupPrompt renders a fixed-form Markdown summary of pending
// work, used as the initial prompt for a freshly spawned agent. Returns
// an empty string if the queue is empty.
func (m *Manager) GenerateStartupPrompt(id string) (string, error) {
	res, err := m.Check(id)
	if err != nil {
		return "", err
	}
	if !res.HasWork {
		return "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Pending Work Items (%d)\n\n", len(res.Items))
	for _, item := range res.Items {
		fmt.Fprintf(&b, "- [%s] %s", item.Priority, item.Type)
		if msg, ok := item.Payload["message"].(string); ok && msg != "" {
			fmt.Fprintf(&b, ": %s", msg)
		} else if issueID, ok := item.Payload["issueId"].(string); ok && issueID != "" {
			fmt.Fprintf(&b, ": %s", issueID)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// loadHookLocked reads hook.json while the caller already holds the lock.
func (m *Manager) loadHookLocked(id string) (store.Hook, error) {
	var h store.Hook
	if err := fsatomic.ReadJSON(store.HookFile(m.root, id), &h); err != nil {
		if os.IsNotExist(err) {
			return store.Hook{Items: []store.HookItem{}}, nil
		}
		return store.Hook{}, err
	}
	if h.Items == nil {
		h.Items = []store.HookItem{}
	}
	return h, nil
}

// sortItems sorts in place by (priority, createdAt) ascending.
func sortItems(items []store.HookItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority.Rank() != items[j].Priority.Rank() {
			return items[i].Priority.Rank() < items[j].Priority.Rank()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
