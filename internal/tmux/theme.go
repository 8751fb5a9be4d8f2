// Package tmux provides theme support for fleet tmux sessions.
package tmux

import (
	"hash/fnv"
)

// Theme represents visual styling for a tmux session.
type Theme struct {
	Name string // Human-readable theme name
	BG   string // Background color (hex or color name)
	FG   string // Foreground color (hex or color name)
}

// Style returns the style string for this theme (e.g., "bg=#1e3a5f,fg=#e0e0e0").
func (t Theme) Style() string {
	return "bg=" + t.BG + ",fg=" + t.FG
}

// DefaultPalette is the curated set of distinct, professional color themes.
// Each theme has good contrast and is visually distinct from others.
var DefaultPalette = []Theme{
	{Name: "ocean", BG: "#1e3a5f", FG: "#e0e0e0"},    // Deep blue
	{Name: "forest", BG: "#2d5a3d", FG: "#e0e0e0"},   // Forest green
	{Name: "rust", BG: "#8b4513", FG: "#f5f5dc"},     // Rust/brown
	{Name: "plum", BG: "#4a3050", FG: "#e0e0e0"},     // Purple
	{Name: "slate", BG: "#4a5568", FG: "#e0e0e0"},    // Slate gray
	{Name: "ember", BG: "#b33a00", FG: "#f5f5dc"},    // Burnt orange
	{Name: "midnight", BG: "#1a1a2e", FG: "#c0c0c0"}, // Dark blue-black
	{Name: "wine", BG: "#722f37", FG: "#f5f5dc"},     // Burgundy
	{Name: "teal", BG: "#0d5c63", FG: "#e0e0e0"},     // Teal
	{Name: "copper", BG: "#6d4c41", FG: "#f5f5dc"},   // Warm brown
}

// DefaultTheme returns a neutral theme for sessions without a specific theme.
func DefaultTheme() Theme {
	return Theme{Name: "default", BG: "#4a5568", FG: "#e0e0e0"} // Slate gray
}

// DeaconTheme returns the special theme for the Deacon's own session,
// distinct from any specialist or work-agent theme.
func DeaconTheme() Theme {
	return Theme{Name: "deacon", BG: "#2d1f3d", FG: "#c0b0d0"}
}

// GetThemeByName finds a theme by name from the default palette.
// Returns nil if not found.
func GetThemeByName(name string) *Theme {
	for _, t := range DefaultPalette {
		if t.Name == name {
			return &t
		}
	}
	return nil
}

// AssignTheme picks a theme for a name (a specialist role or an issue id).
// Uses consistent hashing so the same name always gets the same color.
func AssignTheme(rigName string) Theme {
	return AssignThemeFromPalette(rigName, DefaultPalette)
}

// AssignThemeFromPalette picks a theme using a custom palette.
func AssignThemeFromPalette(rigName string, palette []Theme) Theme {
	if len(palette) == 0 {
		return DefaultPalette[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(rigName))
	idx := int(h.Sum32()) % len(palette)
	return palette[idx]
}

// ListThemeNames returns the names of all themes in the default palette.
func ListThemeNames() []string {
	names := make([]string, len(DefaultPalette))
	for i, t := range DefaultPalette {
		names[i] = t.Name
	}
	return names
}

// SessionConfig is the visual and identifying configuration attached to a
// session when it is created: which theme colors its status line, and the
// role/issue labels surfaced to an operator inspecting it.
type SessionConfig struct {
	Theme   Theme
	Worker  string // human-readable label, e.g. "review-agent"
	Role    string // one of the specialist roles, or "work-agent"
	IssueID string // set for work agents; empty for specialists
}

// SessionConfigForRole returns the visual session configuration for a role.
// This centralizes role identity (theme, worker name) in one place.
// Specialist roles get a stable theme (consistent hash of the role name);
// work-agent sessions are themed per issue so concurrently running agents
// are visually distinguishable.
func SessionConfigForRole(role, issueID string) SessionConfig {
	cfg := SessionConfig{}

	switch role {
	case "deacon":
		cfg.Theme = DeaconTheme()
		cfg.Worker = "Deacon"
		cfg.Role = "deacon"
	case "review-agent", "test-agent", "merge-agent", "planning-agent":
		cfg.Theme = AssignTheme(role)
		cfg.Worker = role
		cfg.Role = role
	case "work-agent":
		cfg.Theme = AssignTheme(issueID)
		cfg.Worker = "work-agent"
		cfg.Role = "work-agent"
		cfg.IssueID = issueID
	default:
		cfg.Theme = DefaultTheme()
		cfg.Worker = role
		cfg.Role = role
	}

	return cfg
}
