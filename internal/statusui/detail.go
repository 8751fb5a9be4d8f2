package statusui

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/glamour"

	"github.com/foreman-hq/fleet/internal/store"
)

// latestHandoffContext returns the markdown body of the most recent
// handoff file written for agentID, or "" if it has never been handed off.
func latestHandoffContext(root, agentID string) (string, error) {
	dir := store.HandoffsDir(root, agentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	data, err := os.ReadFile(filepath.Join(dir, names[len(names)-1]))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// renderMarkdown renders markdown for the detail pane at the given width,
// falling back to the raw text if glamour fails to build a renderer.
func renderMarkdown(markdown string, width int) string {
	if markdown == "" {
		return ""
	}
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}
