package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/adityaU/opman/internal/ptyhandle"
	"github.com/adityaU/opman/internal/theme"
)

// Settings are the user-configurable knobs that affect reconciliation
// and PTY behavior (spec §6 config settings block).
type Settings struct {
	DefaultTerminalCommand string
	FollowEditsInEditor    bool
	Theme                  theme.Theme

	// EditorRows/EditorCols/EditorSocketPath size and address the
	// editor PTY that onSseFileEdited proactively spawns (spec §4.4).
	// EditorSocketPath may be nil only where SseFileEdited never fires
	// (e.g. in tests that don't exercise it).
	EditorRows, EditorCols uint16
	EditorSocketPath       func(projectIdx int, sessionID string) string

	// SendSystemMessage delivers a system message to the backend for
	// (projectDir, sessionID), fire-and-forget, used by
	// CloseTodoPanel's "todo continuation" notice. May be nil in tests
	// that don't exercise it.
	SendSystemMessage func(projectDir, sessionID, text string)
}

// Orchestrator is the root state of spec §4.2: all projects, the
// ownership map, the active-session set, and derived UI state. It is
// the sole mutator of its own state and must only ever be touched from
// the event loop's goroutine (spec §5).
type Orchestrator struct {
	Projects []*Project

	// ownership maps session id -> owning project index. Authoritative
	// source for routing event-stream messages under races (spec §3).
	ownership map[string]int

	// activeSessions is the idle/busy membership set (SseSessionIdle/Busy).
	activeSessions map[string]bool

	// awaitingNewSession is a single project index: the orchestrator
	// locally intends to create a session for that project and has not
	// yet seen the backend's confirmation (spec §4.4, §9).
	awaitingNewSession *int

	activeProject int

	// todoPanelOpen/todoPanelDirty/todoPanelSession track the single
	// todo-panel overlay's edit-buffer state (spec §4.2 close_todo_panel,
	// original_source's TodoPanelState.dirty).
	todoPanelOpen    bool
	todoPanelDirty   bool
	todoPanelSession string

	// neovimMCPEnabled gates SseFileEdited per spec §9's hard
	// mutual-exclusion rule between follow-edits and in-editor MCP.
	neovimMCPEnabled bool

	Settings Settings

	// sessionStats/todos are the overlay-state buckets replaced by
	// SseMessageUpdated/SseTodoUpdated/TodosFetched.
	sessionStats map[string]SessionStats
	todos        map[string][]TodoItem

	mu     sync.Mutex // not locked by any method; the maps above are read and written without it
	logger *slog.Logger
}

// New returns an empty orchestrator.
func New(settings Settings, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ownership:      make(map[string]int),
		activeSessions: make(map[string]bool),
		sessionStats:   make(map[string]SessionStats),
		todos:          make(map[string][]TodoItem),
		Settings:       settings,
		logger:         logger,
	}
}

// AddProject appends a new project and returns its index.
func (o *Orchestrator) AddProject(name, path string) int {
	o.Projects = append(o.Projects, NewProject(name, path))
	return len(o.Projects) - 1
}

// SwitchProject sets the active project and resizes all PTYs of that
// project to the current panel layout (spec §4.2).
func (o *Orchestrator) SwitchProject(index int, rows, cols uint16) {
	if index < 0 || index >= len(o.Projects) {
		return
	}
	o.activeProject = index
	o.ResizeProjectPTYs(index, rows, cols)
}

// ActiveProjectIndex returns the currently active project index.
func (o *Orchestrator) ActiveProjectIndex() int { return o.activeProject }

// ResizeProjectPTYs resizes every PTY (assistant, shells, editor,
// git-browser) belonging to a project.
func (o *Orchestrator) ResizeProjectPTYs(index int, rows, cols uint16) {
	if index < 0 || index >= len(o.Projects) {
		return
	}
	p := o.Projects[index]
	for _, h := range p.AssistantPTYs {
		h.Resize(rows, cols)
	}
	for _, r := range p.Resources {
		for _, tab := range r.Shells {
			tab.PTY.Resize(rows, cols)
		}
		if r.Editor != nil {
			r.Editor.Resize(rows, cols)
		}
	}
	if p.GitBrowser != nil {
		p.GitBrowser.Resize(rows, cols)
	}
}

// SetNeovimMCPEnabled toggles the hard gate described in spec §9.
func (o *Orchestrator) SetNeovimMCPEnabled(enabled bool) { o.neovimMCPEnabled = enabled }

// OwnerOf returns the project index that owns id, and whether an entry exists.
func (o *Orchestrator) OwnerOf(id string) (int, bool) {
	idx, ok := o.ownership[id]
	return idx, ok
}

// IsActive reports whether a session is in the busy/active set.
func (o *Orchestrator) IsActive(id string) bool { return o.activeSessions[id] }

// CloseSession kills PTYs owned for that session and removes cached
// state (spec §4.2 close_session).
func (o *Orchestrator) CloseSession(sessionID string) {
	idx, ok := o.ownership[sessionID]
	if !ok {
		return
	}
	o.teardownSession(idx, sessionID)
}

func (o *Orchestrator) teardownSession(projectIdx int, sessionID string) {
	if projectIdx < 0 || projectIdx >= len(o.Projects) {
		return
	}
	p := o.Projects[projectIdx]

	if r, ok := p.Resources[sessionID]; ok {
		for _, tab := range r.Shells {
			_ = tab.PTY.Kill()
		}
		if r.Editor != nil {
			_ = r.Editor.Kill()
		}
		delete(p.Resources, sessionID)
	}
	if pty, ok := p.AssistantPTYs[sessionID]; ok {
		_ = pty.Kill()
		delete(p.AssistantPTYs, sessionID)
	}

	idx := p.descriptorIndex(sessionID)
	if idx >= 0 {
		p.Sessions = append(p.Sessions[:idx], p.Sessions[idx+1:]...)
	}
	if p.ActiveSession == sessionID {
		p.ActiveSession = ""
	}

	delete(o.ownership, sessionID)
	delete(o.activeSessions, sessionID)
	delete(o.sessionStats, sessionID)
	delete(o.todos, sessionID)
}

// EnsureShell lazily spawns a shell tab if the session has none, per
// the resource-resolution policy of spec §4.3.
func (o *Orchestrator) EnsureShell(projectIdx int, sessionID string, rows, cols uint16, cwd string) (*ShellTab, error) {
	p := o.Projects[projectIdx]
	r, ok := p.Resources[sessionID]
	if !ok {
		r = NewSessionResources()
		p.Resources[sessionID] = r
	}
	if len(r.Shells) > 0 {
		return r.ActiveShell(), nil
	}
	h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
		Kind:    ptyhandle.KindShell,
		Rows:    rows,
		Cols:    cols,
		Dir:     cwd,
		Command: o.Settings.DefaultTerminalCommand,
		Logger:  o.logger,
	})
	if err != nil {
		return nil, err
	}
	r.Shells = append(r.Shells, ShellTab{Name: "1", PTY: h})
	r.ActiveTab = 0
	return r.ActiveShell(), nil
}

// EnsureGitBrowser lazily spawns the project's single git-browser PTY
// (spec §3: "at most one git-browser PTY", shared across sessions).
func (o *Orchestrator) EnsureGitBrowser(projectIdx int, rows, cols uint16, cwd, command string) (*ptyhandle.Handle, error) {
	p := o.Projects[projectIdx]
	if p.GitBrowser != nil {
		return p.GitBrowser, nil
	}
	h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
		Kind:    ptyhandle.KindGitBrowser,
		Rows:    rows,
		Cols:    cols,
		Dir:     cwd,
		Command: command,
		Logger:  o.logger,
	})
	if err != nil {
		return nil, err
	}
	p.GitBrowser = h
	return h, nil
}

// EnsureEditor lazily spawns the editor PTY if the session has none.
func (o *Orchestrator) EnsureEditor(projectIdx int, sessionID string, rows, cols uint16, cwd, socketPath string) (*ptyhandle.Handle, error) {
	p := o.Projects[projectIdx]
	r, ok := p.Resources[sessionID]
	if !ok {
		r = NewSessionResources()
		p.Resources[sessionID] = r
	}
	if r.Editor != nil {
		return r.Editor, nil
	}
	h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
		Kind:             ptyhandle.KindEditor,
		Rows:             rows,
		Cols:             cols,
		Dir:              cwd,
		Argv:             []string{"nvim", "--listen", socketPath},
		EditorSocketPath: socketPath,
		Logger:           o.logger,
	})
	if err != nil {
		return nil, err
	}
	r.Editor = h
	return h, nil
}

// todoContinuationMessage is sent to the backend when the todo panel
// closes with unsaved edits, so the assistant re-reads its list
// (original_source's close_todo_panel).
const todoContinuationMessage = "[SYSTEM REMINDER - TODO CONTINUATION] The todo list has been " +
	"updated. Re-read your todos and adjust your work plan accordingly. Mark completed items " +
	"done and continue with the next pending task."

// OpenTodoPanel marks the todo panel open for sessionID with a clean
// edit buffer (spec §4.2).
func (o *Orchestrator) OpenTodoPanel(sessionID string) {
	o.todoPanelOpen = true
	o.todoPanelDirty = false
	o.todoPanelSession = sessionID
}

// MarkTodoPanelDirty records that the user modified a todo while the
// panel is open.
func (o *Orchestrator) MarkTodoPanelDirty() {
	o.todoPanelDirty = true
}

// CloseTodoPanel closes the todo panel overlay. If the local edit
// buffer was modified since OpenTodoPanel, it emits a "todo
// continuation" system message to the backend for the session the
// panel was open on (spec §4.2).
func (o *Orchestrator) CloseTodoPanel() {
	if !o.todoPanelOpen {
		return
	}
	sessionID := o.todoPanelSession
	dirty := o.todoPanelDirty
	o.todoPanelOpen = false
	o.todoPanelDirty = false
	o.todoPanelSession = ""

	if !dirty || sessionID == "" || o.Settings.SendSystemMessage == nil {
		return
	}
	for _, p := range o.Projects {
		if p.ActiveSession == sessionID {
			o.logger.Info("todo panel closed with changes, sending system message", "session", sessionID)
			o.Settings.SendSystemMessage(p.Path, sessionID, todoContinuationMessage)
			return
		}
	}
	o.logger.Warn("could not find project for session, todo continuation not sent", "session", sessionID)
}
