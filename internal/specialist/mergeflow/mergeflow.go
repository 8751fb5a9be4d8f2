// Package mergeflow implements the merge-agent's git pre-flight checks,
// test-command detection, and post-merge success verification.
package mergeflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/foreman-hq/fleet/internal/util"
)

// Git runs git commands against one working directory.
type Git struct {
	dir string
}

// NewGit returns a Git runner rooted at dir.
func NewGit(dir string) *Git { return &Git{dir: dir} }

func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Head returns the current HEAD commit SHA.
func (g *Git) Head() (string, error) {
	return g.run("rev-parse", "HEAD")
}

// RemoteHead returns the commit SHA that remote/branch points at.
func (g *Git) RemoteHead(remote, branch string) (string, error) {
	return g.run("rev-parse", remote+"/"+branch)
}

// HeadMessage returns the commit message of HEAD.
func (g *Git) HeadMessage() (string, error) {
	return g.run("log", "-1", "--pretty=%B")
}

// HeadBranch returns the name of the currently checked-out branch.
func (g *Git) HeadBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// RecentLog returns a one-line-per-commit summary of the last n commits.
func (g *Git) RecentLog(n int) (string, error) {
	return g.run("log", fmt.Sprintf("-%d", n), "--oneline")
}

// BranchReachable reports whether branch exists at remote.
func (g *Git) BranchReachable(remote, branch string) bool {
	_, err := g.run("ls-remote", "--exit-code", "--heads", remote, branch)
	return err == nil
}

// ConflictFiles lists paths with unresolved merge conflict markers.
func (g *Git) ConflictFiles() ([]string, error) {
	out, err := g.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// UncommittedChanges lists paths reported by `git status --porcelain`,
// excluding any path matching an entry in ignore.
func (g *Git) UncommittedChanges(ignore []string) ([]string, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var dirty []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if ignored(path, ignore) {
			continue
		}
		dirty = append(dirty, path)
	}
	return dirty, nil
}

// Fetch updates remote-tracking refs without merging. Retried with
// exponential backoff: unlike the other Git operations, it crosses the
// network and is the one step VerifyMerge cannot simply fail past.
func (g *Git) Fetch(remote string) error {
	_, err := util.RetryWithContext(context.Background(), func() (struct{}, error) {
		_, err := g.run("fetch", remote)
		return struct{}{}, err
	})
	return err
}

func ignored(path string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
	}
	return false
}

// DefaultRemote is the remote the coordinator checks source branches
// against when no per-task override is configured.
const DefaultRemote = "origin"

// DefaultIgnore lists working-tree paths a merge preflight tolerates as
// uncommitted without treating the tree as dirty.
var DefaultIgnore = []string{".env", "*.log"}

// PreflightResult summarizes whether a merge is safe to attempt.
type PreflightResult struct {
	Ready           bool
	UncommittedDiff []string
	BranchMissing   bool
}

// Preflight checks the conditions spec.md §4.4 requires before a
// merge-agent attempts a merge: the source branch must exist on the
// remote, and the working tree must be clean apart from the configured
// ignore list.
func Preflight(g *Git, remote, sourceBranch string, ignore []string) (PreflightResult, error) {
	var result PreflightResult
	if !g.BranchReachable(remote, sourceBranch) {
		result.BranchMissing = true
		return result, nil
	}
	dirty, err := g.UncommittedChanges(ignore)
	if err != nil {
		return PreflightResult{}, err
	}
	result.UncommittedDiff = dirty
	result.Ready = len(dirty) == 0
	return result, nil
}

// ErrMergeNotVerified is returned by VerifyMerge when the success
// criterion in spec.md §9 is not met.
var ErrMergeNotVerified = errors.New("mergeflow: merge not verified")

// VerifyMerge implements the deliberately tightened success criterion: the
// new HEAD on targetBranch must mention sourceBranch in its commit
// message, and that same HEAD must be present at the remote reference
// (local-only success is explicitly not accepted).
func VerifyMerge(g *Git, remote, targetBranch, sourceBranch, priorHead string) error {
	head, err := g.Head()
	if err != nil {
		return err
	}
	if head == priorHead {
		return fmt.Errorf("%w: HEAD unchanged", ErrMergeNotVerified)
	}
	message, err := g.HeadMessage()
	if err != nil {
		return err
	}
	if !strings.Contains(message, sourceBranch) {
		return fmt.Errorf("%w: commit message does not mention %s", ErrMergeNotVerified, sourceBranch)
	}
	if err := g.Fetch(remote); err != nil {
		return err
	}
	remoteHead, err := g.RemoteHead(remote, targetBranch)
	if err != nil {
		return fmt.Errorf("%w: remote has no %s/%s: %v", ErrMergeNotVerified, remote, targetBranch, err)
	}
	if remoteHead != head {
		return fmt.Errorf("%w: remote %s/%s is at %s, not local HEAD %s", ErrMergeNotVerified, remote, targetBranch, remoteHead, head)
	}
	return nil
}

// TestCommand is the ecosystem-conventional test invocation detected for a
// project root.
type TestCommand struct {
	Ecosystem string
	Command   []string
}

// Skip is the sentinel TestCommand returned when no recognized ecosystem
// manifest is present.
var Skip = TestCommand{Ecosystem: "skip"}

// DetectTestCommand inspects root for a Node manifest with a defined test
// script, then Maven, then Cargo, then a Python test configuration, in
// that order, falling back to Skip.
func DetectTestCommand(root string) TestCommand {
	if hasPackageJSONTestScript(root) {
		return TestCommand{Ecosystem: "node", Command: []string{"npm", "test"}}
	}
	if fileExists(filepath.Join(root, "pom.xml")) {
		return TestCommand{Ecosystem: "maven", Command: []string{"mvn", "test"}}
	}
	if fileExists(filepath.Join(root, "Cargo.toml")) {
		return TestCommand{Ecosystem: "cargo", Command: []string{"cargo", "test"}}
	}
	if fileExists(filepath.Join(root, "pytest.ini")) || fileExists(filepath.Join(root, "pyproject.toml")) || fileExists(filepath.Join(root, "setup.cfg")) {
		return TestCommand{Ecosystem: "python", Command: []string{"pytest"}}
	}
	return Skip
}

func hasPackageJSONTestScript(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return false
	}
	// A defined test script is any non-default "test" entry; the default
	// npm-init placeholder ("Error: no test specified") is not considered
	// defined.
	return bytes.Contains(data, []byte(`"test"`)) && !bytes.Contains(data, []byte("no test specified"))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
