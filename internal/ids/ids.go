// Package ids derives and validates the canonical agent identifiers used
// as both Agent Store directory names and multiplexer session names.
package ids

import (
	"errors"
	"fmt"
	"strings"
)

// Role is a specialist's fixed function.
type Role string

const (
	RoleReview   Role = "review-agent"
	RoleTest     Role = "test-agent"
	RoleMerge    Role = "merge-agent"
	RolePlanning Role = "planning-agent"
)

// Roles lists every specialist role the coordinator recognizes.
var Roles = []Role{RoleReview, RoleTest, RoleMerge, RolePlanning}

// Valid reports whether r is one of the fixed specialist roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ErrInvalidRole is returned for a role string outside the fixed set.
var ErrInvalidRole = errors.New("ids: invalid specialist role")

// ParseRole validates a role string against the fixed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

const (
	workAgentPrefix  = "agent-"
	specialistPrefix = "specialist-"
)

// ErrInvalidIssueRef is returned when an issue reference cannot form a
// valid work-agent id (empty, or produces an empty slug once normalized).
var ErrInvalidIssueRef = errors.New("ids: invalid issue reference")

// WorkAgentID derives the canonical work-agent id for an issue reference:
// agent-<lowercased-issue-ref>.
func WorkAgentID(issueRef string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(issueRef))
	if slug == "" {
		return "", ErrInvalidIssueRef
	}
	return workAgentPrefix + slug, nil
}

// SpecialistID derives the canonical specialist id for a role:
// specialist-<role>.
func SpecialistID(role Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return specialistPrefix + string(role), nil
}

// IsSpecialist reports whether id matches the specialist naming pattern.
// Used by the Handoff Manager to auto-detect the handoff mode.
func IsSpecialist(id string) bool {
	return strings.HasPrefix(id, specialistPrefix)
}

// IsWorkAgent reports whether id matches the work-agent naming pattern.
func IsWorkAgent(id string) bool {
	return strings.HasPrefix(id, workAgentPrefix)
}

// RoleFromSpecialistID extracts the role portion of a specialist id.
// Returns ErrInvalidRole if id is not a specialist id for a known role.
func RoleFromSpecialistID(id string) (Role, error) {
	if !IsSpecialist(id) {
		return "", fmt.Errorf("%w: %q is not a specialist id", ErrInvalidRole, id)
	}
	return ParseRole(strings.TrimPrefix(id, specialistPrefix))
}

// IssueRefFromWorkAgentID extracts the issue-ref portion of a work-agent id.
func IssueRefFromWorkAgentID(id string) (string, error) {
	if !IsWorkAgent(id) {
		return "", fmt.Errorf("%w: %q is not a work-agent id", ErrInvalidIssueRef, id)
	}
	return strings.TrimPrefix(id, workAgentPrefix), nil
}
