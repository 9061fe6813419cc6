package dispatcher

import (
	"strings"
	"testing"
	"time"

	"github.com/adityaU/opman/internal/orchestrator"
	"github.com/adityaU/opman/internal/ptyhandle"
)

func newShellResources(t *testing.T) *orchestrator.SessionResources {
	t.Helper()
	h, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{
		Kind:    ptyhandle.KindShell,
		Rows:    24,
		Cols:    80,
		Dir:     "/tmp",
		Command: "cat",
	})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	t.Cleanup(func() { h.Kill() })

	r := orchestrator.NewSessionResources()
	r.Shells = []orchestrator.ShellTab{{Name: "1", PTY: h}}
	r.ActiveTab = 0
	return r
}

// TestScenarioC_RunWhileRunningRejected matches spec Scenario C /
// property 6: submitting a normal command while the tab's
// command-state is Running is rejected and writes nothing to the PTY.
func TestScenarioC_RunWhileRunningRejected(t *testing.T) {
	r := newShellResources(t)
	r.Shells[0].PTY.State.Feed([]byte("\x1b]133;B\x07"))
	time.Sleep(20 * time.Millisecond)
	r.Shells[0].PTY.DrainRawOutput() // clear RC-snippet startup noise

	cmd := "ls"
	resp := dispatchRun(r, Request{Command: &cmd})
	if resp.Kind != KindErr {
		t.Fatalf("Kind = %v, want KindErr", resp.Kind)
	}
	if !strings.Contains(strings.ToLower(resp.ErrorText), "interrupt") {
		t.Errorf("ErrorText = %q, want it to mention interrupting first", resp.ErrorText)
	}

	time.Sleep(50 * time.Millisecond)
	if out := r.Shells[0].PTY.DrainRawOutput(); len(out) != 0 {
		t.Errorf("raw output = %q, want nothing written while rejected", out)
	}
}

// TestScenarioC_CtrlCAllowedWhileRunning: the single interrupt byte is
// always accepted, even while Running.
func TestScenarioC_CtrlCAllowedWhileRunning(t *testing.T) {
	r := newShellResources(t)
	r.Shells[0].PTY.State.Feed([]byte("\x1b]133;B\x07"))

	ctrlC := "\x03"
	resp := dispatchRun(r, Request{Command: &ctrlC})
	if resp.Kind != KindOkText {
		t.Fatalf("Kind = %v, want KindOkText, got %q", resp.Kind, resp.ErrorText)
	}
}

// TestRunAllowedWhenIdle confirms an ordinary command is accepted
// outside the Running state.
func TestRunAllowedWhenIdle(t *testing.T) {
	r := newShellResources(t)
	cmd := "echo hi"
	resp := dispatchRun(r, Request{Command: &cmd})
	if resp.Kind != KindOkText {
		t.Fatalf("Kind = %v, want KindOkText, got %q", resp.Kind, resp.ErrorText)
	}
}

// TestCloseLastTabRejected matches spec property 7: closing the sole
// remaining tab is rejected and the tab survives.
func TestCloseLastTabRejected(t *testing.T) {
	r := newShellResources(t)
	resp := dispatchClose(r, Request{})
	if resp.Kind != KindErr {
		t.Fatalf("Kind = %v, want KindErr", resp.Kind)
	}
	if len(r.Shells) != 1 {
		t.Errorf("Shells = %v, want the sole tab to survive", r.Shells)
	}
}

// TestCloseNonLastTabSucceeds confirms close is allowed when more than
// one tab remains, and the active index stays in range.
func TestCloseNonLastTabSucceeds(t *testing.T) {
	r := newShellResources(t)
	h2, err := ptyhandle.Spawn(ptyhandle.SpawnConfig{Kind: ptyhandle.KindShell, Rows: 24, Cols: 80, Dir: "/tmp", Command: "cat"})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	t.Cleanup(func() { h2.Kill() })
	r.Shells = append(r.Shells, orchestrator.ShellTab{Name: "2", PTY: h2})
	r.ActiveTab = 1

	resp := dispatchClose(r, Request{})
	if resp.Kind != KindOkEmpty {
		t.Fatalf("Kind = %v, want KindOkEmpty, got %q", resp.Kind, resp.ErrorText)
	}
	if len(r.Shells) != 1 {
		t.Fatalf("Shells = %v, want one tab left", r.Shells)
	}
	if r.ActiveTab != 0 {
		t.Errorf("ActiveTab = %d, want 0 after closing the last-indexed tab", r.ActiveTab)
	}
}

// TestDispatchNvimWithNoEditorReturnsError matches the corrected
// resource-resolution gate (spec §4.3): nvim_* ops never auto-spawn an
// editor, they error when none exists yet.
func TestDispatchNvimWithNoEditorReturnsError(t *testing.T) {
	o := orchestrator.New(orchestrator.Settings{}, nil)
	idx := o.AddProject("demo", "/tmp/demo")
	o.Projects[idx].Resources["s1"] = orchestrator.NewSessionResources()

	resp := Dispatch(o, Deps{Rows: 24, Cols: 80}, idx, "s1", Request{Op: "nvim_info"})
	if resp.Kind != KindErr {
		t.Fatalf("Kind = %v, want KindErr", resp.Kind)
	}
	if o.Projects[idx].Resources["s1"].Editor != nil {
		t.Error("nvim_info op spawned an editor PTY, want it to error instead")
	}
}
