package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkAgentID(t *testing.T) {
	id, err := WorkAgentID("MIN-42")
	require.NoError(t, err)
	assert.Equal(t, "agent-min-42", id)

	_, err = WorkAgentID("   ")
	assert.ErrorIs(t, err, ErrInvalidIssueRef)
}

func TestSpecialistID(t *testing.T) {
	id, err := SpecialistID(RoleReview)
	require.NoError(t, err)
	assert.Equal(t, "specialist-review-agent", id)

	_, err = SpecialistID(Role("bogus"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestIsSpecialistAndIsWorkAgent(t *testing.T) {
	assert.True(t, IsSpecialist("specialist-merge-agent"))
	assert.False(t, IsSpecialist("agent-min-42"))
	assert.True(t, IsWorkAgent("agent-min-42"))
	assert.False(t, IsWorkAgent("specialist-merge-agent"))
}

func TestRoleFromSpecialistID(t *testing.T) {
	role, err := RoleFromSpecialistID("specialist-test-agent")
	require.NoError(t, err)
	assert.Equal(t, RoleTest, role)

	_, err = RoleFromSpecialistID("agent-min-42")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = RoleFromSpecialistID("specialist-bogus")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestIssueRefFromWorkAgentID(t *testing.T) {
	ref, err := IssueRefFromWorkAgentID("agent-min-42")
	require.NoError(t, err)
	assert.Equal(t, "min-42", ref)

	_, err = IssueRefFromWorkAgentID("specialist-review-agent")
	assert.ErrorIs(t, err, ErrInvalidIssueRef)
}
