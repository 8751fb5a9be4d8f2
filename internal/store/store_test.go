package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAgentDirIdempotent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitAgentDir(root, "agent-min-42"))
	require.NoError(t, InitAgentDir(root, "agent-min-42"))
	assert.True(t, Exists(root, "agent-min-42"))
}

func TestSaveAndLoadState(t *testing.T) {
	root := t.TempDir()
	s := AgentState{
		ID:        "agent-min-42",
		IssueID:   "MIN-42",
		Workspace: "/w",
		Status:    StatusStarting,
		StartedAt: time.Now(),
	}
	require.NoError(t, SaveState(root, s))

	loaded, err := LoadState(root, "agent-min-42")
	require.NoError(t, err)
	assert.Equal(t, s.IssueID, loaded.IssueID)
	assert.Equal(t, StatusStarting, loaded.Status)
}

func TestLoadStateMissing(t *testing.T) {
	root := t.TempDir()
	_, err := LoadState(root, "agent-nonexistent")
	assert.ErrorIs(t, err, ErrNoSuchAgent)
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityUrgent.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Less(t, PriorityNormal.Rank(), PriorityLow.Rank())
}

func TestApprovedMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitAgentDir(root, "agent-min-42"))
	assert.False(t, IsApproved(root, "agent-min-42"))
	require.NoError(t, WriteApproved(root, "agent-min-42"))
	assert.True(t, IsApproved(root, "agent-min-42"))
}

func TestHookItemExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	item := HookItem{ExpiresAt: &past}
	assert.True(t, item.Expired(now))

	future := now.Add(time.Minute)
	item2 := HookItem{ExpiresAt: &future}
	assert.False(t, item2.Expired(now))

	item3 := HookItem{}
	assert.False(t, item3.Expired(now))
}
