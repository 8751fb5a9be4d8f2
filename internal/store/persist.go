package store

import (
	"errors"
	"os"

	"github.com/foreman-hq/fleet/internal/fsatomic"
)

// ErrNoSuchAgent is returned when an operation targets an agent directory
// that does not exist.
var ErrNoSuchAgent = errors.New("store: no such agent")

// InitAgentDir creates agents/<id>/ and an empty hook.json and mail/
// directory, idempotently.
func InitAgentDir(root, id string) error {
	if err := os.MkdirAll(MailDir(root, id), 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(HandoffsDir(root, id), 0755); err != nil {
		return err
	}
	hookPath := HookFile(root, id)
	if fsatomic.Exists(hookPath) {
		return nil
	}
	return fsatomic.WriteJSON(hookPath, Hook{Items: []HookItem{}})
}

// SaveState writes an agent's state.json atomically.
func SaveState(root string, s AgentState) error {
	return fsatomic.WriteJSON(StateFile(root, s.ID), s)
}

// LoadState reads an agent's state.json. A parse error is surfaced to the
// caller, which per the error taxonomy should treat it as "missing" for
// health-action purposes rather than crash.
func LoadState(root, id string) (AgentState, error) {
	var s AgentState
	if err := fsatomic.ReadJSON(StateFile(root, id), &s); err != nil {
		if os.IsNotExist(err) {
			return AgentState{}, ErrNoSuchAgent
		}
		return AgentState{}, err
	}
	return s, nil
}

// LoadRuntimeState reads an agent's runtime.json, written by the
// assistant's own hook scripts outside the control plane's process.
func LoadRuntimeState(root, id string) (AgentRuntimeState, error) {
	var rs AgentRuntimeState
	if err := fsatomic.ReadJSON(RuntimeFile(root, id), &rs); err != nil {
		return AgentRuntimeState{}, err
	}
	return rs, nil
}

// SaveRuntimeState writes an agent's runtime.json atomically. Used by
// tests that simulate an assistant's hook scripts and by the Deacon's
// auto-suspend pass, which marks idle agents suspended.
func SaveRuntimeState(root, id string, rs AgentRuntimeState) error {
	return fsatomic.WriteJSON(RuntimeFile(root, id), rs)
}

// LoadHealth reads an agent's health.json, defaulting to a zero value if
// the file has never been written.
func LoadHealth(root, id string) (AgentHealth, error) {
	var h AgentHealth
	if err := fsatomic.ReadJSON(HealthFile(root, id), &h); err != nil {
		if os.IsNotExist(err) {
			return AgentHealth{}, nil
		}
		return AgentHealth{}, err
	}
	return h, nil
}

// SaveHealth writes an agent's health.json atomically.
func SaveHealth(root, id string, h AgentHealth) error {
	return fsatomic.WriteJSON(HealthFile(root, id), h)
}

// Exists reports whether an agent directory has been initialized.
func Exists(root, id string) bool {
	return fsatomic.Exists(AgentDir(root, id))
}

// WriteApproved writes the empty marker file signaling operator approval.
func WriteApproved(root, id string) error {
	return fsatomic.WriteFile(ApprovedFile(root, id), []byte{}, 0644)
}

// IsApproved reports whether the approval marker exists.
func IsApproved(root, id string) bool {
	return fsatomic.Exists(ApprovedFile(root, id))
}
