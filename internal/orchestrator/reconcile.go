package orchestrator

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adityaU/opman/internal/diffscreen"
)

// HandleEvent applies one external event, following spec §4.4's
// reconciliation protocol and race discipline exactly (ported
// function-for-function from original_source's
// App::handle_background_event).
func (o *Orchestrator) HandleEvent(ev Event) {
	switch e := ev.(type) {
	case PtySpawned:
		o.onPtySpawned(e)
	case SessionsFetched:
		o.onSessionsFetched(e)
	case SessionFetchFailed:
		o.logger.Debug("session fetch failed (non-fatal)", "project", e.ProjectIdx)
	case SseSessionCreated:
		o.onSseSessionCreated(e)
	case SseSessionUpdated:
		o.onSseSessionUpdated(e)
	case SseSessionDeleted:
		o.onSseSessionDeleted(e)
	case SseSessionIdle:
		delete(o.activeSessions, e.SessionID)
	case SseSessionBusy:
		o.activeSessions[e.SessionID] = true
	case SseFileEdited:
		o.onSseFileEdited(e)
	case SseTodoUpdated:
		o.todos[e.SessionID] = e.Todos
	case TodosFetched:
		o.todos[e.SessionID] = e.Todos
	case SseMessageUpdated:
		o.sessionStats[e.SessionID] = e.Stats
	case ModelLimitsFetched:
		if e.ProjectIdx >= 0 && e.ProjectIdx < len(o.Projects) {
			o.Projects[e.ProjectIdx].ContextWindow = e.ContextWindow
		}
	}
}

// onPtySpawned installs a PTY a worker spawned offloaded from the main
// loop, and makes it the active assistant PTY for that session.
func (o *Orchestrator) onPtySpawned(e PtySpawned) {
	if e.ProjectIdx < 0 || e.ProjectIdx >= len(o.Projects) {
		return
	}
	p := o.Projects[e.ProjectIdx]
	p.AssistantPTYs[e.SessionID] = e.PTY
	p.ActiveSession = e.SessionID
}

// onSessionsFetched is the authoritative bulk refresh for one project:
// keep only the fetched descriptors whose Directory equals the
// project's Path, replace the cached descriptor list with them, and
// overwrite ownership for each kept id to project (the server is
// trusted to report per-project truth). Descriptors with any other
// Directory are dropped and get no ownership entry. This
// always wins over a concurrent SseSessionCreated (spec §4.4 race
// discipline, §8 property 2).
func (o *Orchestrator) onSessionsFetched(e SessionsFetched) {
	if e.ProjectIdx < 0 || e.ProjectIdx >= len(o.Projects) {
		return
	}
	p := o.Projects[e.ProjectIdx]

	filtered := make([]SessionDescriptor, 0, len(e.Sessions))
	for _, s := range e.Sessions {
		if s.Directory == p.Path {
			filtered = append(filtered, s)
		}
	}
	for _, s := range filtered {
		o.ownership[s.ID] = e.ProjectIdx
	}
	p.Sessions = filtered
}

// onSseSessionCreated: drop if owned by a different project and we are
// not locally awaiting this creation; otherwise insert at head, mark
// active, record ownership, and (if awaiting) rebind the placeholder
// PTY onto the confirmed id and clear the awaiting flag atomically with
// the rebind (spec §4.4, §8 properties 3-4, scenarios A-B).
func (o *Orchestrator) onSseSessionCreated(e SseSessionCreated) {
	awaiting := o.awaitingNewSession != nil && *o.awaitingNewSession == e.ProjectIdx

	if !awaiting {
		if owner, ok := o.ownership[e.Session.ID]; ok && owner != e.ProjectIdx {
			return
		}
	}

	if e.ProjectIdx < 0 || e.ProjectIdx >= len(o.Projects) {
		return
	}
	p := o.Projects[e.ProjectIdx]

	if p.descriptorIndex(e.Session.ID) < 0 {
		o.activeSessions[e.Session.ID] = true
		o.ownership[e.Session.ID] = e.ProjectIdx
		p.Sessions = append([]SessionDescriptor{e.Session}, p.Sessions...)
	}

	if awaiting {
		if pty, ok := p.AssistantPTYs[PlaceholderSessionID]; ok {
			delete(p.AssistantPTYs, PlaceholderSessionID)
			p.AssistantPTYs[e.Session.ID] = pty
			p.ActiveSession = e.Session.ID
		}
		o.awaitingNewSession = nil
	}
}

// onSseSessionUpdated: drop on ownership conflict, otherwise merge into
// the cached descriptor and mark active. Open Question (spec §9(i)): a
// descriptor never seen under any project is silently dropped (no
// ownership entry to conflict with, and no cached descriptor to merge
// into).
func (o *Orchestrator) onSseSessionUpdated(e SseSessionUpdated) {
	if owner, ok := o.ownership[e.Session.ID]; ok && owner != e.ProjectIdx {
		return
	}
	o.activeSessions[e.Session.ID] = true
	if e.ProjectIdx < 0 || e.ProjectIdx >= len(o.Projects) {
		return
	}
	p := o.Projects[e.ProjectIdx]
	if idx := p.descriptorIndex(e.Session.ID); idx >= 0 {
		p.Sessions[idx] = e.Session
	}
}

// onSseSessionDeleted tears down every resource keyed on the session
// and clears ownership/cache entries (spec §8 property 5, scenario F).
func (o *Orchestrator) onSseSessionDeleted(e SseSessionDeleted) {
	delete(o.activeSessions, e.SessionID)
	delete(o.ownership, e.SessionID)
	if e.ProjectIdx < 0 || e.ProjectIdx >= len(o.Projects) {
		return
	}
	o.teardownSession(e.ProjectIdx, e.SessionID)
}

// onSseFileEdited drives the editor to reflect an assistant-made edit,
// gated by "project is focused" AND "follow edits enabled" AND NOT
// "in-editor MCP enabled" (spec §4.4, §9's hard mutual-exclusion rule).
// Unlike ordinary nvim_* dispatch, this path is the one external
// trigger that proactively spawns the editor PTY when none exists yet
// (original_source's ensure_neovim_pty, called inline here before the
// diff/open proceeds).
func (o *Orchestrator) onSseFileEdited(e SseFileEdited) {
	if o.neovimMCPEnabled || !o.Settings.FollowEditsInEditor || e.ProjectIdx != o.activeProject {
		return
	}
	if e.ProjectIdx < 0 || e.ProjectIdx >= len(o.Projects) {
		return
	}
	p := o.Projects[e.ProjectIdx]
	if p.ActiveSession == "" || o.Settings.EditorSocketPath == nil {
		return
	}
	sockPath := o.Settings.EditorSocketPath(e.ProjectIdx, p.ActiveSession)
	if _, err := o.EnsureEditor(e.ProjectIdx, p.ActiveSession, o.Settings.EditorRows, o.Settings.EditorCols, p.Path, sockPath); err != nil {
		o.logger.Warn("failed to auto-start neovim for file-edit follow", "project", e.ProjectIdx, "error", err)
		return
	}
	r := p.ActiveResources()
	if r == nil || r.Editor == nil {
		return
	}

	absPath := e.FilePath
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(p.Path, e.FilePath)
	}

	current, _ := os.ReadFile(absPath)
	currentContent := string(current)

	oldContent, hadSnapshot := r.Snapshots[absPath]
	if !hadSnapshot {
		oldContent = gitShowHead(p.Path, absPath)
	}

	added, deleted := diffscreen.Lines(oldContent, currentContent)
	r.Snapshots[absPath] = currentContent

	cmds := buildEditorEditCommands(absPath, added, deleted)
	_, _ = r.Editor.WriteString(strings.Join(cmds, ""))
}

// gitShowHead returns the HEAD-committed content of absPath relative to
// repoRoot, or "" if that fails (e.g. file is untracked).
func gitShowHead(repoRoot, absPath string) string {
	rel, err := filepath.Rel(repoRoot, absPath)
	if err != nil {
		return ""
	}
	cmd := exec.Command("git", "show", "HEAD:"+rel)
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// buildEditorEditCommands builds the batched ex-command sequence that
// opens the file, places diff signs, and jumps to the first changed
// line — the same command shape original_source's SseFileEdited path
// writes to the neovim PTY.
func buildEditorEditCommands(absPath string, added, deleted []int) []string {
	escaped := strings.ReplaceAll(absPath, "'", "''")
	cmds := []string{"\x1b:execute 'edit! ' . fnameescape('" + escaped + "')\r"}

	if len(added) == 0 && len(deleted) == 0 {
		return cmds
	}

	cmds = append(cmds,
		"\x1b:sign define diff_add text=+ texthl=DiffAdd\r",
		"\x1b:sign define diff_del text=- texthl=DiffDelete\r",
		"\x1b:execute 'sign unplace * buffer=' . bufnr('%')\r",
	)

	signID := 1
	firstLine := 0
	place := func(kind string, line int) {
		if firstLine == 0 || line < firstLine {
			firstLine = line
		}
		cmds = append(cmds, "\x1b:execute 'sign place "+strconv.Itoa(signID)+" line="+strconv.Itoa(line)+
			" name="+kind+" buffer=' . bufnr('%')\r")
		signID++
	}
	for _, l := range added {
		place("diff_add", l)
	}
	for _, l := range deleted {
		place("diff_del", l)
	}
	if firstLine > 0 {
		cmds = append(cmds, "\x1b:call cursor("+strconv.Itoa(firstLine)+", 0)\r", "\x1b:normal! zz\r")
	}
	return cmds
}

// BeginAwaitingNewSession records that the orchestrator locally intends
// to create a session for projectIdx (spec §4.4/§9). It only sets the
// awaiting flag; the placeholder PTY is installed separately, by a
// PtySpawned event keyed on PlaceholderSessionID.
func (o *Orchestrator) BeginAwaitingNewSession(projectIdx int) {
	idx := projectIdx
	o.awaitingNewSession = &idx
}

// AwaitingProject reports which project index (if any) is currently
// awaiting a locally-intended session creation.
func (o *Orchestrator) AwaitingProject() (int, bool) {
	if o.awaitingNewSession == nil {
		return 0, false
	}
	return *o.awaitingNewSession, true
}
