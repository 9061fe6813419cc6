// Package gitbrowser supplies the two pieces of git integration
// spec §3 names for the git-browser pane: the command line the
// git-browser PTY runs, and a best-effort current-branch string for
// display that must never block the render pass. Adapted from
// internal/git/git.go's repo-detection and worktree-listing helpers,
// trimmed to the read-only, non-blocking subset a display pane needs
// (no worktree creation/teardown — that lifecycle isn't part of this
// spec's scope).
package gitbrowser

import (
	"os/exec"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// DefaultCommand resolves the shell command line the git-browser PTY
// should run in dir: the project's configured command when non-empty,
// otherwise "lazygit" if it's on PATH, otherwise a plain git log/status
// view. Mirrors git.go's own fallback style (try the preferred tool,
// degrade gracefully, never error).
func DefaultCommand(configured string) string {
	if configured != "" {
		return configured
	}
	if _, err := exec.LookPath("lazygit"); err == nil {
		return "lazygit"
	}
	return "git -c color.ui=always status; git -c color.ui=always log --oneline --graph --decorate -20"
}

// BranchString returns the current branch name for the repository
// rooted at (or above) dir, or "" if dir isn't a git repository or the
// lookup fails for any reason. Best-effort per spec §3: callers must
// treat "" as "unknown", never as an error to surface.
func BranchString(dir string) string {
	out, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		// Detached HEAD: fall back to a short commit hash, still best-effort.
		if short, err := runGit(dir, "rev-parse", "--short", "HEAD"); err == nil {
			return strings.TrimSpace(short)
		}
		return ""
	}
	return branch
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}

// WorktreeEntry is one entry from `git worktree list`, reported for
// the git-browser pane's worktree picker.
type WorktreeEntry struct {
	Path   string
	Branch string
}

// ListWorktrees lists every worktree of the repository rooted at dir,
// optionally filtered to paths matching any of includeGlobs (matched
// against the absolute worktree path that `git worktree list` reports;
// an empty includeGlobs means no filtering). Ported from git.go's ListAllWorktrees porcelain
// parser, with the botster-prefix branch filter dropped (this pane has
// no notion of agent-owned branches) and glob filtering added in its
// place, the same way git.go uses gobwas/glob for .botster_copy
// patterns.
func ListWorktrees(dir string, includeGlobs []string) ([]WorktreeEntry, error) {
	out, err := runGit(dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var globs []glob.Glob
	for _, pattern := range includeGlobs {
		if g, err := glob.Compile(pattern, '/'); err == nil {
			globs = append(globs, g)
		}
	}

	var entries []WorktreeEntry
	var curPath, curBranch string
	flush := func() {
		if curPath == "" {
			return
		}
		if len(globs) == 0 || matchesAny(globs, curPath) {
			entries = append(entries, WorktreeEntry{Path: curPath, Branch: curBranch})
		}
		curPath, curBranch = "", ""
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			curPath = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			curBranch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "":
			flush()
		}
	}
	flush()
	return entries, nil
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// RefreshInterval is the polling cadence a caller should use when
// periodically recomputing BranchString for display, chosen to be
// cheap enough to run on every few render ticks without taxing the
// event loop (spec §4.6: the loop must never block on I/O, so callers
// run this off the render goroutine and cache the result).
const RefreshInterval = 3 * time.Second
