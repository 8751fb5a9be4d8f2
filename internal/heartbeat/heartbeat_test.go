package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	hb := Heartbeat{Timestamp: time.Now(), AgentID: "agent-min-42", ToolName: "bash"}
	require.NoError(t, Write(root, "agent-min-42", hb))

	loaded, found, err := Read(root, "agent-min-42")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "bash", loaded.ToolName)
}

func TestReadMissingIsNotAnError(t *testing.T) {
	root := t.TempDir()
	_, found, err := Read(root, "agent-nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClassify(t *testing.T) {
	now := time.Now()
	fresh := Heartbeat{Timestamp: now.Add(-5 * time.Second)}
	stale := Heartbeat{Timestamp: now.Add(-time.Hour)}

	assert.Equal(t, ConditionActive, Classify(fresh, true, true, now, DefaultPingTimeout))
	assert.Equal(t, ConditionStale, Classify(stale, true, true, now, DefaultPingTimeout))
	assert.Equal(t, ConditionWarning, Classify(Heartbeat{}, false, true, now, DefaultPingTimeout))
	assert.Equal(t, ConditionDead, Classify(Heartbeat{}, false, false, now, DefaultPingTimeout))
	assert.Equal(t, ConditionDead, Classify(fresh, true, false, now, DefaultPingTimeout), "a dead session overrides a fresh heartbeat")
}

func TestHeartbeatOlderThanTimeoutTreatedAsAbsent(t *testing.T) {
	now := time.Now()
	stale := Heartbeat{Timestamp: now.Add(-DefaultPingTimeout - time.Second)}
	assert.False(t, Fresh(stale, now, DefaultPingTimeout))
}
