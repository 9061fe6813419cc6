package orchestrator

import (
	"testing"

	"github.com/adityaU/opman/internal/ptyhandle"
)

func newTestOrchestrator() *Orchestrator {
	return New(Settings{}, nil)
}

// spawnTestPTY starts a trivial, short-lived child so tests can exercise
// real PTY lifecycle (spawn/kill) without depending on any particular
// shell binary beyond /bin/echo.
func spawnTestPTY(t *testing.T, kind ptyhandle.Kind) *ptyhandle.Handle {
	t.Helper()
	h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
		Kind: kind,
		Rows: 24,
		Cols: 80,
		Dir:  "/tmp",
		Argv: []string{"/bin/echo", "hi"},
	})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	return h
}

// TestScenarioA_ReconciliationOrdering matches spec Scenario A: a bulk
// fetch for project 0 followed by a session-created event for a
// session that already belongs to project 0, with no local awaiting
// flag set, leaves project 1 untouched.
func TestScenarioA_ReconciliationOrdering(t *testing.T) {
	o := newTestOrchestrator()
	o.AddProject("p0", "/repo/p0")
	o.AddProject("p1", "/repo/p1")

	o.HandleEvent(SessionsFetched{
		ProjectIdx: 0,
		Sessions: []SessionDescriptor{
			{ID: "s1", Directory: "/repo/p0"},
			{ID: "s2", Directory: "/repo/p0"},
		},
	})
	o.HandleEvent(SseSessionCreated{ProjectIdx: 1, Session: SessionDescriptor{ID: "s1", Directory: "/repo/p0"}})

	if len(o.Projects[0].Sessions) != 2 {
		t.Fatalf("project 0 sessions = %v, want 2 entries", o.Projects[0].Sessions)
	}
	if len(o.Projects[1].Sessions) != 0 {
		t.Errorf("project 1 sessions = %v, want empty", o.Projects[1].Sessions)
	}
	if owner, ok := o.OwnerOf("s1"); !ok || owner != 0 {
		t.Errorf("OwnerOf(s1) = (%d, %v), want (0, true)", owner, ok)
	}
	if owner, ok := o.OwnerOf("s2"); !ok || owner != 0 {
		t.Errorf("OwnerOf(s2) = (%d, %v), want (0, true)", owner, ok)
	}
}

// TestOwnershipUniqueness is property 1: every session id present in a
// project's cached list has exactly that project as its ownership entry.
func TestOwnershipUniqueness(t *testing.T) {
	o := newTestOrchestrator()
	o.AddProject("p0", "/repo/p0")
	o.HandleEvent(SessionsFetched{ProjectIdx: 0, Sessions: []SessionDescriptor{{ID: "s1", Directory: "/repo/p0"}}})

	for _, s := range o.Projects[0].Sessions {
		owner, ok := o.OwnerOf(s.ID)
		if !ok || owner != 0 {
			t.Errorf("OwnerOf(%s) = (%d, %v), want (0, true)", s.ID, owner, ok)
		}
	}
}

// TestFetchOverwritesCreate is property 2: a bulk fetch from project B
// always wins ownership over a prior assignment to A.
func TestFetchOverwritesCreate(t *testing.T) {
	o := newTestOrchestrator()
	o.AddProject("A", "/repo/a")
	o.AddProject("B", "/repo/b")

	o.HandleEvent(SseSessionCreated{ProjectIdx: 0, Session: SessionDescriptor{ID: "id1", Directory: "/repo/a"}})
	if owner, _ := o.OwnerOf("id1"); owner != 0 {
		t.Fatalf("OwnerOf(id1) = %d before fetch, want 0", owner)
	}

	o.HandleEvent(SessionsFetched{ProjectIdx: 1, Sessions: []SessionDescriptor{{ID: "id1", Directory: "/repo/b"}}})
	if owner, ok := o.OwnerOf("id1"); !ok || owner != 1 {
		t.Errorf("OwnerOf(id1) after fetch = (%d, %v), want (1, true)", owner, ok)
	}
}

// TestCreateUnderConflictIsDropped is property 3: a create for a
// session id already owned by a different project, with no local
// awaiting flag naming this project, changes nothing.
func TestCreateUnderConflictIsDropped(t *testing.T) {
	o := newTestOrchestrator()
	o.AddProject("A", "/repo/a")
	o.AddProject("B", "/repo/b")
	o.HandleEvent(SessionsFetched{ProjectIdx: 0, Sessions: []SessionDescriptor{{ID: "id1", Directory: "/repo/a"}}})

	o.HandleEvent(SseSessionCreated{ProjectIdx: 1, Session: SessionDescriptor{ID: "id1", Directory: "/repo/b"}})

	if owner, _ := o.OwnerOf("id1"); owner != 0 {
		t.Errorf("OwnerOf(id1) = %d, want unchanged 0", owner)
	}
	if len(o.Projects[1].Sessions) != 0 {
		t.Errorf("project B sessions = %v, want empty (create dropped)", o.Projects[1].Sessions)
	}
}

// TestScenarioB_CreateWhileAwaiting matches spec Scenario B / property
// 4: a locally-intended creation rebinds the placeholder PTY onto the
// confirmed id and clears the awaiting flag.
func TestScenarioB_CreateWhileAwaiting(t *testing.T) {
	o := newTestOrchestrator()
	o.AddProject("p0", "/repo/p0")
	o.BeginAwaitingNewSession(0)

	placeholder := spawnTestPTY(t, ptyhandle.KindAssistant)
	o.HandleEvent(PtySpawned{ProjectIdx: 0, SessionID: PlaceholderSessionID, PTY: placeholder})

	o.HandleEvent(SseSessionCreated{ProjectIdx: 0, Session: SessionDescriptor{ID: "s9", Directory: "/repo/p0"}})

	p := o.Projects[0]
	if _, ok := p.AssistantPTYs[PlaceholderSessionID]; ok {
		t.Error("placeholder key still present in AssistantPTYs, want rebound away")
	}
	if pty, ok := p.AssistantPTYs["s9"]; !ok || pty != placeholder {
		t.Errorf("AssistantPTYs[s9] = (%v, %v), want the placeholder PTY rebound", pty, ok)
	}
	if p.ActiveSession != "s9" {
		t.Errorf("ActiveSession = %q, want %q", p.ActiveSession, "s9")
	}
	if _, awaiting := o.AwaitingProject(); awaiting {
		t.Error("AwaitingProject() still true after create confirmed, want cleared")
	}
	if owner, ok := o.OwnerOf("s9"); !ok || owner != 0 {
		t.Errorf("OwnerOf(s9) = (%d, %v), want (0, true)", owner, ok)
	}

	placeholder.Kill()
}

// TestScenarioF_DeleteTerminates matches spec Scenario F / property 5:
// deleting a session tears down every PTY keyed on it and clears both
// the ownership entry and the cached descriptor.
func TestScenarioF_DeleteTerminates(t *testing.T) {
	o := newTestOrchestrator()
	o.AddProject("p0", "/repo/p0")
	o.HandleEvent(SessionsFetched{ProjectIdx: 0, Sessions: []SessionDescriptor{{ID: "s", Directory: "/repo/p0"}}})

	assistant := spawnTestPTY(t, ptyhandle.KindAssistant)
	o.HandleEvent(PtySpawned{ProjectIdx: 0, SessionID: "s", PTY: assistant})

	shell1 := spawnTestPTY(t, ptyhandle.KindShell)
	shell2 := spawnTestPTY(t, ptyhandle.KindShell)
	p := o.Projects[0]
	p.Resources["s"] = NewSessionResources()
	p.Resources["s"].Shells = []ShellTab{{Name: "1", PTY: shell1}, {Name: "2", PTY: shell2}}

	o.HandleEvent(SseSessionDeleted{ProjectIdx: 0, SessionID: "s"})

	if _, ok := o.OwnerOf("s"); ok {
		t.Error("OwnerOf(s) still present after delete")
	}
	if idx := p.descriptorIndex("s"); idx >= 0 {
		t.Error("cached descriptor for s still present after delete")
	}
	if _, ok := p.AssistantPTYs["s"]; ok {
		t.Error("AssistantPTYs[s] still present after delete")
	}
	if _, ok := p.Resources["s"]; ok {
		t.Error("Resources[s] still present after delete")
	}
}

// TestOnSseFileEditedProactivelySpawnsEditor verifies the fix for the
// gating rule spec §4.4 states for this one trigger: unlike ordinary
// nvim_* dispatch, SseFileEdited must start the editor PTY itself when
// none exists yet, gated on the project being focused, follow-edits
// being enabled, and in-editor MCP being off.
func TestOnSseFileEditedProactivelySpawnsEditor(t *testing.T) {
	sockDir := t.TempDir()
	o := New(Settings{
		FollowEditsInEditor: true,
		EditorRows:          24,
		EditorCols:          80,
		EditorSocketPath: func(projectIdx int, sessionID string) string {
			return sockDir + "/nvim.sock"
		},
	}, nil)
	dir := t.TempDir()
	o.AddProject("p0", dir)
	o.HandleEvent(SessionsFetched{ProjectIdx: 0, Sessions: []SessionDescriptor{{ID: "s", Directory: dir}}})
	o.Projects[0].ActiveSession = "s"
	o.activeProject = 0

	o.onSseFileEdited(SseFileEdited{ProjectIdx: 0, FilePath: "main.go"})

	r := o.Projects[0].Resources["s"]
	if r == nil || r.Editor == nil {
		t.Fatal("onSseFileEdited did not spawn an editor PTY")
	}
	r.Editor.Kill()
}

// TestOnSseFileEditedSkipsWhenNotFollowing confirms the gate still
// blocks auto-spawn when FollowEditsInEditor is off.
func TestOnSseFileEditedSkipsWhenNotFollowing(t *testing.T) {
	o := newTestOrchestrator()
	dir := t.TempDir()
	o.AddProject("p0", dir)
	o.Projects[0].ActiveSession = "s"
	o.activeProject = 0

	o.onSseFileEdited(SseFileEdited{ProjectIdx: 0, FilePath: "main.go"})

	if r := o.Projects[0].Resources["s"]; r != nil && r.Editor != nil {
		t.Error("editor spawned despite FollowEditsInEditor=false")
	}
}

// TestCloseTodoPanelSendsContinuationWhenDirty matches spec §4.2's
// close_todo_panel: a dirty edit buffer triggers a system message for
// the active session; a clean one does not.
func TestCloseTodoPanelSendsContinuationWhenDirty(t *testing.T) {
	var sent []string
	o := New(Settings{
		SendSystemMessage: func(projectDir, sessionID, text string) {
			sent = append(sent, projectDir+"|"+sessionID)
		},
	}, nil)
	o.AddProject("p0", "/repo/p0")
	o.Projects[0].ActiveSession = "s1"

	o.OpenTodoPanel("s1")
	o.MarkTodoPanelDirty()
	o.CloseTodoPanel()

	if len(sent) != 1 || sent[0] != "/repo/p0|s1" {
		t.Errorf("sent = %v, want one message for /repo/p0|s1", sent)
	}
}

func TestCloseTodoPanelSkipsWhenClean(t *testing.T) {
	var sent []string
	o := New(Settings{
		SendSystemMessage: func(projectDir, sessionID, text string) {
			sent = append(sent, sessionID)
		},
	}, nil)
	o.AddProject("p0", "/repo/p0")
	o.Projects[0].ActiveSession = "s1"

	o.OpenTodoPanel("s1")
	o.CloseTodoPanel()

	if len(sent) != 0 {
		t.Errorf("sent = %v, want no message when buffer was never marked dirty", sent)
	}
}
