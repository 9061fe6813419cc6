// Package dispatcher implements the tool-request operation table of
// spec §4.3, ported field-for-field from original_source's socket
// request match arms (app.rs's handle_socket_request).
package dispatcher

import (
	"fmt"

	"github.com/adityaU/opman/internal/orchestrator"
	"github.com/adityaU/opman/internal/ptyhandle"
	"github.com/adityaU/opman/internal/shellstate"
)

// Request is the decoded wire shape of one tool request (spec §6's
// length-delimited JSON envelope), already tagged with its owning
// project/session by the socket layer.
type Request struct {
	Op string `json:"op"`

	Tab     *int    `json:"tab,omitempty"`
	Command *string `json:"command,omitempty"`
	FromLine *int   `json:"from_line,omitempty"`
	ToLine   *int   `json:"to_line,omitempty"`
	LastN    *int   `json:"last_n,omitempty"`
	Name     *string `json:"name,omitempty"`

	FilePath  *string `json:"file_path,omitempty"`
	Line      *int    `json:"line,omitempty"`
	EndLine   *int    `json:"end_line,omitempty"`
	NewText   *string `json:"new_text,omitempty"`
	Query     *string `json:"query,omitempty"`
	Glob      *string `json:"glob,omitempty"`
	Workspace *bool   `json:"workspace,omitempty"`
	All       *bool   `json:"all,omitempty"`
	Count     *int    `json:"count,omitempty"`
	NewName   *string `json:"new_name,omitempty"`
	Col       *int    `json:"col,omitempty"`
	BufOnly   *bool   `json:"buf_only,omitempty"`
}

// ResponseKind tags the response union of spec §4.3/§6.
type ResponseKind string

const (
	KindOkText       ResponseKind = "ok_text"
	KindOkTabs       ResponseKind = "ok_tabs"
	KindOkTabCreated ResponseKind = "ok_tab_created"
	KindOkStatus     ResponseKind = "ok_status"
	KindOkEmpty      ResponseKind = "ok_empty"
	KindErr          ResponseKind = "err"
)

// TabInfo describes one shell tab for the `list` op.
type TabInfo struct {
	Index  int    `json:"index"`
	Active bool   `json:"active"`
	Name   string `json:"name"`
}

// Response is the tagged response union; exactly one payload field is
// populated, selected by Kind.
type Response struct {
	Kind ResponseKind `json:"kind"`

	Text      string    `json:"text,omitempty"`
	Tabs      []TabInfo `json:"tabs,omitempty"`
	TabIndex  int       `json:"tab_index,omitempty"`
	Status    string    `json:"status,omitempty"`
	ErrorText string    `json:"error,omitempty"`
}

func okText(s string) Response        { return Response{Kind: KindOkText, Text: s} }
func okTabs(t []TabInfo) Response     { return Response{Kind: KindOkTabs, Tabs: t} }
func okTabCreated(i int) Response     { return Response{Kind: KindOkTabCreated, TabIndex: i} }
func okStatus(s string) Response      { return Response{Kind: KindOkStatus, Status: s} }
func okEmpty() Response               { return Response{Kind: KindOkEmpty} }
func errResp(format string, a ...any) Response {
	return Response{Kind: KindErr, ErrorText: fmt.Sprintf(format, a...)}
}

// Deps carries the size of the shell PTYs the dispatcher spawns, both
// through Orchestrator.EnsureShell and directly with ptyhandle.Spawn
// for the `new` op. The editor
// PTY is never spawned from socket dispatch (see Dispatch), so no
// editor sizing/addressing lives here.
type Deps struct {
	Rows, Cols uint16
}

var shellOps = map[string]bool{
	"read": true, "run": true, "close": true, "rename": true, "status": true,
}

// Dispatch resolves resources (spawning lazily per spec §4.3's
// resource-resolution policy) and executes one request, returning the
// typed response. It never blocks the caller beyond the lazy spawn and
// the (synchronous, single in-flight) nvim RPC round trip.
func Dispatch(o *orchestrator.Orchestrator, deps Deps, projectIdx int, sessionID string, req Request) Response {
	if projectIdx < 0 || projectIdx >= len(o.Projects) {
		return errResp("Project not found")
	}
	p := o.Projects[projectIdx]

	if shellOps[req.Op] {
		if _, err := o.EnsureShell(projectIdx, sessionID, deps.Rows, deps.Cols, p.Path); err != nil {
			return errResp("Failed to auto-start terminal: %v", err)
		}
	}
	// nvim_* ops never auto-spawn the editor: a request finding no
	// editor PTY is an error ("focus the Neovim pane to start it",
	// dispatchNvim). Only SseFileEdited proactively starts one
	// (orchestrator.onSseFileEdited).
	needsNeovim := len(req.Op) >= 5 && req.Op[:5] == "nvim_"

	resources := p.Resources[sessionID]

	switch req.Op {
	case "read":
		return dispatchRead(resources, req)
	case "run":
		return dispatchRun(resources, req)
	case "list":
		return dispatchList(resources)
	case "new":
		return dispatchNew(o, projectIdx, sessionID, deps, req)
	case "close":
		return dispatchClose(resources, req)
	case "rename":
		return dispatchRename(resources, req)
	case "status":
		return dispatchStatus(resources, req)
	default:
		if needsNeovim {
			return dispatchNvim(resources, req)
		}
		return errResp("Unknown op: %s", req.Op)
	}
}

func tabIndex(r *orchestrator.SessionResources, req Request) int {
	if req.Tab != nil {
		return *req.Tab
	}
	return r.ActiveTab
}

func dispatchRead(r *orchestrator.SessionResources, req Request) Response {
	idx := tabIndex(r, req)
	if idx < 0 || idx >= len(r.Shells) {
		return errResp("Tab %d not found", idx)
	}
	pty := r.Shells[idx].PTY
	switch {
	case req.FromLine != nil && req.ToLine != nil:
		text, err := pty.ReadRange(*req.FromLine, *req.ToLine)
		if err != nil {
			return errResp("%v", err)
		}
		return okText(text)
	case req.LastN != nil:
		return okText(pty.ReadScreen(*req.LastN))
	default:
		return okText(pty.ReadScreen(-1))
	}
}

func dispatchRun(r *orchestrator.SessionResources, req Request) Response {
	idx := tabIndex(r, req)
	if idx < 0 || idx >= len(r.Shells) {
		return errResp("Tab %d not found", idx)
	}
	if req.Command == nil {
		return errResp("Missing 'command' for run op")
	}
	command := *req.Command
	pty := r.Shells[idx].PTY
	isCtrlC := command == "\x03"

	if !isCtrlC && pty.State != nil && pty.State.State() == shellstate.Running {
		return errResp("A command is already running on this tab. Send Ctrl-C (\\x03) to interrupt it first.")
	}

	var bytes []byte
	if isCtrlC {
		bytes = []byte(command)
	} else {
		bytes = []byte(command + "\n")
	}
	if _, err := pty.Write(bytes); err != nil {
		return errResp("Failed to write to terminal: %v", err)
	}
	return okText(fmt.Sprintf("Command sent to tab %d", idx))
}

func dispatchList(r *orchestrator.SessionResources) Response {
	tabs := make([]TabInfo, len(r.Shells))
	for i, tab := range r.Shells {
		name := tab.Name
		if name == "" {
			name = fmt.Sprintf("Tab %d", i+1)
		}
		tabs[i] = TabInfo{Index: i, Active: i == r.ActiveTab, Name: name}
	}
	return okTabs(tabs)
}

func dispatchNew(o *orchestrator.Orchestrator, projectIdx int, sessionID string, deps Deps, req Request) Response {
	p := o.Projects[projectIdx]
	r := p.Resources[sessionID]

	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
		Kind: ptyhandle.KindShell,
		Rows: deps.Rows,
		Cols: deps.Cols,
		Dir:  p.Path,
	})
	if err != nil {
		return errResp("Failed to spawn shell: %v", err)
	}
	r.Shells = append(r.Shells, orchestrator.ShellTab{Name: name, PTY: h})
	newIdx := len(r.Shells) - 1
	r.ActiveTab = newIdx
	return okTabCreated(newIdx)
}

func dispatchClose(r *orchestrator.SessionResources, req Request) Response {
	idx := tabIndex(r, req)
	if idx < 0 || idx >= len(r.Shells) {
		return errResp("Tab %d not found", idx)
	}
	if len(r.Shells) <= 1 {
		return errResp("Cannot close the last tab")
	}
	_ = r.Shells[idx].PTY.Kill()
	r.Shells = append(r.Shells[:idx], r.Shells[idx+1:]...)
	if r.ActiveTab >= len(r.Shells) {
		r.ActiveTab = len(r.Shells) - 1
	}
	return okEmpty()
}

func dispatchRename(r *orchestrator.SessionResources, req Request) Response {
	if req.Tab == nil {
		return errResp("Missing 'tab' for rename op")
	}
	if req.Name == nil {
		return errResp("Missing 'name' for rename op")
	}
	idx := *req.Tab
	if idx < 0 || idx >= len(r.Shells) {
		return errResp("Tab %d not found", idx)
	}
	r.Shells[idx].Name = *req.Name
	return okEmpty()
}

func dispatchStatus(r *orchestrator.SessionResources, req Request) Response {
	idx := tabIndex(r, req)
	if idx < 0 || idx >= len(r.Shells) {
		return errResp("Tab %d not found", idx)
	}
	pty := r.Shells[idx].PTY
	state := "unknown"
	if pty.State != nil {
		state = pty.State.State().String()
	}
	return okStatus(state)
}
