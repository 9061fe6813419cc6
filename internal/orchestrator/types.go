// Package orchestrator implements the root state of spec §3/§4.2: the
// project list, the ownership map, and background-event reconciliation
// (§4.4). It is the Go analog of the teacher's Hub/HubState pair,
// generalized from "one agent per worktree" to "one or more sessions
// per project, resources keyed by session id".
package orchestrator

import (
	"time"

	"github.com/adityaU/opman/internal/ptyhandle"
)

// PlaceholderSessionID is the reserved key used for an assistant PTY
// spawned ahead of the backend's confirmation of a locally-intended new
// session (spec §3, §9).
const PlaceholderSessionID = "__new__"

// SessionDescriptor is the backend's metadata record for one
// conversational session (spec §3).
type SessionDescriptor struct {
	ID        string
	Title     string
	ParentID  string // non-empty for subagent sessions
	Directory string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSubagent reports whether this descriptor is a child session.
func (d SessionDescriptor) IsSubagent() bool { return d.ParentID != "" }

// ShellTab is one shell PTY plus its display name within a session's
// ordered tab list.
type ShellTab struct {
	Name string
	PTY  *ptyhandle.Handle
}

// SessionResources is the set of shell PTYs (tabs), the editor PTY, and
// the file-snapshot map for a single session (spec §3). Owned by
// exactly one project for exactly one session id.
type SessionResources struct {
	Shells     []ShellTab
	ActiveTab  int // index into Shells, valid range [0, len) when non-empty
	Editor     *ptyhandle.Handle
	Snapshots  map[string]string // absolute file path -> last-seen content
}

// NewSessionResources returns an empty resource bundle.
func NewSessionResources() *SessionResources {
	return &SessionResources{Snapshots: make(map[string]string)}
}

// ActiveShell returns the currently active shell tab, or nil if none exist.
func (r *SessionResources) ActiveShell() *ShellTab {
	if len(r.Shells) == 0 {
		return nil
	}
	if r.ActiveTab < 0 || r.ActiveTab >= len(r.Shells) {
		r.ActiveTab = 0
	}
	return &r.Shells[r.ActiveTab]
}

// Project is a directory, a cached list of session descriptors,
// resources keyed by session id, an optional git-browser PTY, and the
// currently active session (spec §3).
type Project struct {
	Name string
	Path string

	// Sessions is the cached ordered list of descriptors, most-recent first.
	Sessions []SessionDescriptor

	// Resources maps session id -> its resource bundle.
	Resources map[string]*SessionResources

	// AssistantPTYs maps session id -> the assistant PTY for that session.
	AssistantPTYs map[string]*ptyhandle.Handle

	// GitBrowser is at most one PTY, shared across the project's sessions.
	GitBrowser *ptyhandle.Handle

	// ActiveSession is the currently selected session id, or "".
	ActiveSession string

	// GitBranch is a best-effort branch string for display; refreshed
	// by internal/gitbrowser, never blocking the render pass.
	GitBranch string

	// ContextWindow is the provider's context-window limit for this
	// project, upserted by ModelLimitsFetched (0 = unknown).
	ContextWindow uint64

	// LastNotification is the most recent OSC-9/777 terminal
	// notification detected in the assistant PTY's raw output
	// (internal/notification), surfaced on the status line.
	LastNotification string
}

// NewProject returns an empty project rooted at path.
func NewProject(name, path string) *Project {
	return &Project{
		Name:          name,
		Path:          path,
		Resources:     make(map[string]*SessionResources),
		AssistantPTYs: make(map[string]*ptyhandle.Handle),
	}
}

// descriptorIndex returns the index of id in Sessions, or -1.
func (p *Project) descriptorIndex(id string) int {
	for i, s := range p.Sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// ChildrenOf returns the subagent sessions whose ParentID is parentID,
// in cached-list order. No back-pointers are stored; this is computed
// by filtered traversal each call (spec §9).
func (p *Project) ChildrenOf(parentID string) []SessionDescriptor {
	var out []SessionDescriptor
	for _, s := range p.Sessions {
		if s.ParentID == parentID {
			out = append(out, s)
		}
	}
	return out
}

// ActiveResources returns the resource bundle for the active session, if any.
func (p *Project) ActiveResources() *SessionResources {
	if p.ActiveSession == "" {
		return nil
	}
	return p.Resources[p.ActiveSession]
}

// SessionStats mirrors the per-session cost/token bucket the backend
// reports via SseMessageUpdated (original_source's SessionStats).
type SessionStats struct {
	Cost             float64
	InputTokens      uint64
	OutputTokens     uint64
	ReasoningTokens  uint64
	CacheReadTokens  uint64
	CacheWriteTokens uint64
}

// TodoItem is one entry of a session's todo list (SseTodoUpdated/TodosFetched).
type TodoItem struct {
	ID     string
	Text   string
	Done   bool
	Status string
}
