package eventloop

import (
	"testing"

	"github.com/gdamore/tcell/v2"

	"github.com/adityaU/opman/internal/dispatcher"
	"github.com/adityaU/opman/internal/orchestrator"
	"github.com/adityaU/opman/internal/theme"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	screen := tcell.NewSimulationScreen("")
	if err := screen.Init(); err != nil {
		t.Fatalf("screen.Init() failed: %v", err)
	}
	t.Cleanup(screen.Fini)
	screen.SetSize(80, 24)

	orch := orchestrator.New(orchestrator.Settings{}, nil)
	events := make(chan orchestrator.Event, 8)
	return New(screen, orch, events, nil, dispatcher.Deps{}, theme.Default(), nil)
}

func TestKeyBytes(t *testing.T) {
	tests := []struct {
		name string
		key  tcell.Key
		rune rune
		want []byte
	}{
		{"enter", tcell.KeyEnter, 0, []byte{'\r'}},
		{"backspace", tcell.KeyBackspace2, 0, []byte{0x7f}},
		{"tab", tcell.KeyTab, 0, []byte{'\t'}},
		{"escape", tcell.KeyEscape, 0, []byte{0x1b}},
		{"up", tcell.KeyUp, 0, []byte{0x1b, '[', 'A'}},
		{"ctrl-c", tcell.KeyCtrlC, 0, []byte{3}},
		{"rune", tcell.KeyRune, 'x', []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tcell.NewEventKey(tt.key, tt.rune, tcell.ModNone)
			got := keyBytes(ev)
			if string(got) != string(tt.want) {
				t.Errorf("keyBytes(%v) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestKeyBytesUnknownKeyIsNil(t *testing.T) {
	ev := tcell.NewEventKey(tcell.KeyF1, 0, tcell.ModNone)
	if got := keyBytes(ev); got != nil {
		t.Errorf("keyBytes(F1) = %v, want nil", got)
	}
}

func TestPanelDimsEnforcesMinimum(t *testing.T) {
	l := newTestLoop(t)
	l.width, l.height = 5, 5
	rows, cols := l.panelDims()
	if rows < 5 || cols < 10 {
		t.Errorf("panelDims() = (%d, %d), want at least (5, 10)", rows, cols)
	}
}

func TestPanelDimsTypical(t *testing.T) {
	l := newTestLoop(t)
	l.width, l.height = 80, 24
	rows, cols := l.panelDims()
	if rows != 21 || cols != 78 {
		t.Errorf("panelDims() = (%d, %d), want (21, 78)", rows, cols)
	}
}

func TestFocusedPTYNoProjectsReturnsNil(t *testing.T) {
	l := newTestLoop(t)
	if got := l.focusedPTY(); got != nil {
		t.Errorf("focusedPTY() on empty orchestrator = %v, want nil", got)
	}
}

func TestDrainEventsAppliesHandleEvent(t *testing.T) {
	l := newTestLoop(t)
	idx := l.orch.AddProject("demo", "/tmp/demo")

	l.events <- orchestrator.SessionsFetched{
		ProjectIdx: idx,
		Sessions:   []orchestrator.SessionDescriptor{{ID: "s1", Directory: "/tmp/demo"}},
	}
	l.drainEvents()

	if len(l.orch.Projects[idx].Sessions) != 1 {
		t.Errorf("Sessions = %v, want one entry after drain", l.orch.Projects[idx].Sessions)
	}
}

func TestDrainEventsDrainsAllQueuedAndStopsWhenEmpty(t *testing.T) {
	l := newTestLoop(t)
	idx := l.orch.AddProject("demo", "/tmp/demo")

	for i := 0; i < 3; i++ {
		l.events <- orchestrator.SessionsFetched{ProjectIdx: idx}
	}
	l.drainEvents() // should drain all three without blocking
	select {
	case <-l.events:
		t.Error("expected events channel to be empty after drain")
	default:
	}
}

func TestDrainSocketNoopWithoutListener(t *testing.T) {
	l := newTestLoop(t)
	l.socks = nil
	l.drainSocket() // must not panic when no listener is attached
}

func TestDrawStatusLineIncludesNotification(t *testing.T) {
	l := newTestLoop(t)
	idx := l.orch.AddProject("demo", "/tmp/demo")
	l.orch.Projects[idx].LastNotification = "build finished"
	rows, cols := l.panelDims()
	l.orch.SwitchProject(idx, rows, cols)

	l.drawStatusLine()

	y := l.height - 1
	var got []rune
	for x := 0; x < l.width; x++ {
		r, _, _, _ := l.screen.GetContent(x, y)
		if r == 0 {
			break
		}
		got = append(got, r)
	}
	if !containsRunes(got, []rune("build finished")) {
		t.Errorf("status line = %q, want it to contain %q", string(got), "build finished")
	}
}

func containsRunes(haystack, needle []rune) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestAdvancePulseWraps(t *testing.T) {
	l := newTestLoop(t)
	l.pulsePhase = 6.28
	l.advancePulse()
	if l.pulsePhase < 0 || l.pulsePhase > 6.283185307179586 {
		t.Errorf("pulsePhase = %v, want within [0, 2pi)", l.pulsePhase)
	}
}
