package statusui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/store"
)

func plainStyles() Styles {
	// Under go test stdout is normally not a TTY, so the detected profile
	// renders with no ANSI escapes and assertions can match on visible
	// text alone.
	return NewStyles(&bytes.Buffer{})
}

func TestRenderAgentsEmpty(t *testing.T) {
	out := plainStyles().RenderAgents(nil)
	assert.Contains(t, out, "no work agents")
}

func TestRenderAgentsShowsRow(t *testing.T) {
	rows := []AgentRow{{
		ID:           "agent-min-1",
		Status:       store.StatusRunning,
		Model:        "claude-opus",
		Phase:        "implement",
		LastActivity: time.Now(),
	}}
	out := plainStyles().RenderAgents(rows)
	assert.Contains(t, out, "agent-min-1")
	assert.Contains(t, out, "claude-opus")
	assert.Contains(t, out, "implement")
}

func TestRenderSpecialistsShowsCooldown(t *testing.T) {
	rows := []SpecialistRow{{
		Role:                ids.RoleMerge,
		State:               specialist.StateDead,
		ConsecutiveFailures: 3,
		InCooldown:          true,
	}}
	out := plainStyles().RenderSpecialists(rows)
	assert.Contains(t, out, string(ids.RoleMerge))
	assert.Contains(t, out, "cooldown")
}

func TestRenderHeaderIncludesTimestamp(t *testing.T) {
	snap := Snapshot{GeneratedAt: time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)}
	out := plainStyles().RenderHeader(snap)
	assert.Contains(t, out, "9:30AM")
}
