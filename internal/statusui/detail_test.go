package statusui

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-hq/fleet/internal/store"
)

func TestLatestHandoffContextMissingDirIsEmpty(t *testing.T) {
	root := t.TempDir()
	md, err := latestHandoffContext(root, "agent-min-1")
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestLatestHandoffContextReturnsNewest(t *testing.T) {
	root := t.TempDir()
	dir := store.HandoffsDir(root, "agent-min-1")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-01-01T00-00-00.md"), []byte("# old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-01-02T00-00-00.md"), []byte("# new"), 0644))

	md, err := latestHandoffContext(root, "agent-min-1")
	require.NoError(t, err)
	assert.Equal(t, "# new", md)
}

func TestRenderMarkdownEmptyIsEmpty(t *testing.T) {
	assert.Empty(t, renderMarkdown("", 80))
}

func TestRenderMarkdownRendersHeading(t *testing.T) {
	out := renderMarkdown("# Handoff to claude-opus", 80)
	assert.Contains(t, out, "Handoff to claude-opus")
}
