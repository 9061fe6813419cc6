// Package eventloop is the single-threaded cooperative scheduler of
// spec §4.6, adapted from the teacher's tcell-based TUI
// (internal/tui/tcell_tui.go). The teacher runs a blocking
// screen.PollEvent() loop on the main goroutine plus a 20fps render
// ticker on a second goroutine; this package collapses both into one
// goroutine per spec §5's "single-threaded cooperative" mandate: every
// tick drains events, polls input non-blocking, renders, and flushes,
// in that fixed order, so no step can starve another.
package eventloop

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/adityaU/opman/internal/dispatcher"
	"github.com/adityaU/opman/internal/gitbrowser"
	"github.com/adityaU/opman/internal/notification"
	"github.com/adityaU/opman/internal/orchestrator"
	"github.com/adityaU/opman/internal/ptyhandle"
	"github.com/adityaU/opman/internal/socket"
	"github.com/adityaU/opman/internal/theme"
	"github.com/adityaU/opman/internal/vt"
)

// TickInterval is the fixed short tick of spec §4.6; 16ms is the
// "order of magnitude" the spec calls adequate.
const TickInterval = 16 * time.Millisecond

// EventDrainCap bounds how many queued events/socket requests one tick
// drains, per spec §4.6 step 1's "up to a per-tick cap to prevent
// starvation of input".
const EventDrainCap = 64

// Pane identifies which PTY is currently rendered full-screen. The
// teacher's 30/70 split (agent list + single terminal) has no analog
// for four synchronized panes, so this package renders one focused
// pane at a time and switches with Ctrl+A (assistant), Ctrl+T (shell),
// Ctrl+E (editor) and Ctrl+G (git browser), the simplest extension
// of the teacher's Ctrl+key focus-switching idiom (Ctrl+J/K cycling
// agents, Ctrl+] toggling CLI/server PTY).
type Pane int

const (
	PaneAssistant Pane = iota
	PaneShell
	PaneEditor
	PaneGitBrowser
)

// Loop owns the screen, the orchestrator, and the two inbound queues
// (background events, local tool-socket requests) it drains each tick.
type Loop struct {
	screen tcell.Screen
	orch   *orchestrator.Orchestrator
	events chan orchestrator.Event
	socks  *socket.Listener
	deps   dispatcher.Deps
	theme  theme.Theme

	focus Pane

	framebuffers map[*ptyhandle.Handle]*vt.Framebuffer

	pulsePhase float64

	width, height int
	shutdown      atomic.Bool

	logger *slog.Logger
}

// New constructs a Loop. screen must already be initialized
// (tcell.NewScreen + Init), matching the teacher's NewTUI pattern.
func New(screen tcell.Screen, orch *orchestrator.Orchestrator, events chan orchestrator.Event, socks *socket.Listener, deps dispatcher.Deps, th theme.Theme, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	w, h := screen.Size()
	return &Loop{
		screen:       screen,
		orch:         orch,
		events:       events,
		socks:        socks,
		deps:         deps,
		theme:        th,
		framebuffers: make(map[*ptyhandle.Handle]*vt.Framebuffer),
		width:        w,
		height:       h,
		logger:       logger,
	}
}

// RequestShutdown marks the loop for exit at the start of its next
// tick, for callers outside the loop's own goroutine (e.g. an
// OS-signal handler) to request a clean teardown.
func (l *Loop) RequestShutdown() { l.shutdown.Store(true) }

// Run drives the tick loop until a shutdown is requested, then tears
// down every PTY and returns (spec §4.6 step 5).
func (l *Loop) Run() error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for !l.shutdown.Load() {
		l.tick()
		<-ticker.C
	}
	l.teardown()
	return nil
}

// tick performs exactly the five steps of spec §4.6, in order.
func (l *Loop) tick() {
	l.drainEvents()       // 1
	l.drainSocket()       // 1 (the socket listener's own queue)
	l.pollInput()         // 2
	l.scanNotifications() // ambient: OSC-9/777 detection on the active assistant PTY
	l.render()            // 3, 4
	// step 5 (shutdown teardown) happens once, in Run, after the loop exits.
}

// scanNotifications drains the active project's assistant PTY raw
// output and records the latest OSC-9/777 notification for display on
// the status line. Cheap and non-blocking: DrainRawOutput only copies
// already-buffered bytes.
func (l *Loop) scanNotifications() {
	idx := l.orch.ActiveProjectIndex()
	if idx < 0 || idx >= len(l.orch.Projects) {
		return
	}
	p := l.orch.Projects[idx]
	pty, ok := p.AssistantPTYs[p.ActiveSession]
	if !ok {
		return
	}
	for _, n := range notification.Detect(pty.DrainRawOutput()) {
		switch n.Type {
		case notification.TypeOSC777:
			p.LastNotification = n.Title
			if n.Body != "" {
				p.LastNotification += ": " + n.Body
			}
		case notification.TypeOSC9:
			p.LastNotification = n.Message
		}
	}
}

// drainEvents pulls up to EventDrainCap background events without
// blocking (spec §4.6 step 1).
func (l *Loop) drainEvents() {
	for i := 0; i < EventDrainCap; i++ {
		select {
		case ev := <-l.events:
			l.orch.HandleEvent(ev)
		default:
			return
		}
	}
}

// drainSocket answers up to EventDrainCap pending tool requests per
// tick, the main loop being the socket listener's single consumer
// (spec §5: "Event and socket channels are multi-producer /
// single-consumer").
func (l *Loop) drainSocket() {
	if l.socks == nil {
		return
	}
	for i := 0; i < EventDrainCap; i++ {
		select {
		case pending := <-l.socks.Requests():
			resp := dispatcher.Dispatch(l.orch, l.deps, pending.Envelope.ProjectIdx, pending.Envelope.SessionID, pending.Envelope.Request)
			pending.Reply <- resp
		default:
			return
		}
	}
}

// pollInput drains every already-queued tcell event without blocking
// (spec §4.6 step 2: "zero timeout"). tcell has no direct zero-timeout
// PollEvent, so HasPendingEvent is used as the non-blocking gate,
// matching the teacher's practice of calling screen.Sync()/Clear()
// only in response to observed events rather than polling blindly.
func (l *Loop) pollInput() {
	for l.screen.HasPendingEvent() {
		ev := l.screen.PollEvent()
		if ev == nil {
			l.shutdown.Store(true)
			return
		}
		switch e := ev.(type) {
		case *tcell.EventResize:
			l.width, l.height = e.Size()
			l.resizeActive()
			l.screen.Sync()
		case *tcell.EventKey:
			l.handleKey(e)
		}
	}
}

func (l *Loop) resizeActive() {
	idx := l.orch.ActiveProjectIndex()
	rows, cols := l.panelDims()
	l.orch.ResizeProjectPTYs(idx, rows, cols)
}

// panelDims mirrors the teacher's calculatePanelDims: account for
// borders and a help line, enforce a sane minimum.
func (l *Loop) panelDims() (uint16, uint16) {
	rows := l.height - 1 - 2
	cols := l.width - 2
	if rows < 5 {
		rows = 5
	}
	if cols < 10 {
		cols = 10
	}
	return uint16(rows), uint16(cols)
}

// handleKey routes Ctrl+A/T/E/G to pane focus switching and Ctrl+Q to
// shutdown, forwarding everything else to the focused PTY, the same
// two-tier dispatch as the teacher's handleNormalKey.
func (l *Loop) handleKey(ev *tcell.EventKey) {
	if ev.Modifiers()&tcell.ModCtrl != 0 {
		switch ev.Key() {
		case tcell.KeyCtrlQ:
			l.shutdown.Store(true)
			return
		case tcell.KeyCtrlA:
			l.focus = PaneAssistant
			return
		case tcell.KeyCtrlT:
			l.focus = PaneShell
			return
		case tcell.KeyCtrlE:
			l.focus = PaneEditor
			return
		case tcell.KeyCtrlG:
			l.focus = PaneGitBrowser
			return
		}
	}

	pty := l.focusedPTY()
	if pty == nil {
		return
	}
	if b := keyBytes(ev); b != nil {
		_, _ = pty.Write(b)
	}
}

// keyBytes converts a tcell key event into the byte sequence a
// terminal application expects, ported from the teacher's
// handleNormalKey forward-to-PTY switch.
func keyBytes(ev *tcell.EventKey) []byte {
	switch ev.Key() {
	case tcell.KeyEnter:
		return []byte{'\r'}
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		return []byte{0x7f}
	case tcell.KeyTab:
		return []byte{'\t'}
	case tcell.KeyEscape:
		return []byte{0x1b}
	case tcell.KeyUp:
		return []byte{0x1b, '[', 'A'}
	case tcell.KeyDown:
		return []byte{0x1b, '[', 'B'}
	case tcell.KeyRight:
		return []byte{0x1b, '[', 'C'}
	case tcell.KeyLeft:
		return []byte{0x1b, '[', 'D'}
	case tcell.KeyDelete:
		return []byte{0x1b, '[', '3', '~'}
	case tcell.KeyPgUp:
		return []byte{0x1b, '[', '5', '~'}
	case tcell.KeyPgDn:
		return []byte{0x1b, '[', '6', '~'}
	case tcell.KeyHome:
		return []byte{0x1b, '[', 'H'}
	case tcell.KeyEnd:
		return []byte{0x1b, '[', 'F'}
	case tcell.KeyCtrlC:
		return []byte{3}
	case tcell.KeyCtrlD:
		return []byte{4}
	case tcell.KeyCtrlZ:
		return []byte{26}
	case tcell.KeyRune:
		return []byte(string(ev.Rune()))
	default:
		return nil
	}
}

// focusedPTY resolves the PTY the currently focused pane should read
// from/write to for the active project's active session.
func (l *Loop) focusedPTY() *ptyhandle.Handle {
	idx := l.orch.ActiveProjectIndex()
	if idx < 0 || idx >= len(l.orch.Projects) {
		return nil
	}
	p := l.orch.Projects[idx]
	switch l.focus {
	case PaneAssistant:
		return p.AssistantPTYs[p.ActiveSession]
	case PaneShell:
		r := p.ActiveResources()
		if r == nil {
			return nil
		}
		tab := r.ActiveShell()
		if tab == nil {
			return nil
		}
		return tab.PTY
	case PaneEditor:
		r := p.ActiveResources()
		if r == nil {
			return nil
		}
		return r.Editor
	case PaneGitBrowser:
		return p.GitBrowser
	default:
		return nil
	}
}

// render performs spec §4.6 steps 3-4: copy the focused PTY's screen
// into its framebuffer, blit it to the tcell screen, advance the pulse
// phase, and flush.
func (l *Loop) render() {
	l.screen.Clear()

	pty := l.focusedPTY()
	if pty != nil {
		fb := l.framebufferFor(pty)
		vt.Render(pty.Parser, fb, l.theme)
		l.blit(fb)
	} else {
		l.drawPlaceholder()
	}

	l.advancePulse()
	l.drawStatusLine()

	l.screen.Show()
}

func (l *Loop) framebufferFor(pty *ptyhandle.Handle) *vt.Framebuffer {
	fb, ok := l.framebuffers[pty]
	if !ok {
		rows, cols := pty.Size()
		fb = vt.NewFramebuffer(int(rows), int(cols))
		l.framebuffers[pty] = fb
	}
	return fb
}

// blit copies a rendered framebuffer onto the tcell screen one cell at
// a time, the same direct-cell-copy idiom as the teacher's
// renderVT100Content/cellInfoToStyle.
func (l *Loop) blit(fb *vt.Framebuffer) {
	for row := 0; row < fb.Rows && row < l.height; row++ {
		for col := 0; col < fb.Cols && col < l.width; col++ {
			cell := fb.At(row, col)
			r := ' '
			if cell.Symbol != "" {
				r = []rune(cell.Symbol)[0]
			}
			l.screen.SetContent(col, row, r, nil, cellStyle(cell))
		}
	}
}

func cellStyle(cell *vt.FBCell) tcell.Style {
	style := tcell.StyleDefault
	if cell.FG != nil {
		style = style.Foreground(toTcellColor(cell.FG))
	}
	if cell.BG != nil {
		style = style.Background(toTcellColor(cell.BG))
	}
	if cell.Bold {
		style = style.Bold(true)
	}
	if cell.Italic {
		style = style.Italic(true)
	}
	if cell.Underline {
		style = style.Underline(true)
	}
	if cell.Reversed {
		style = style.Reverse(true)
	}
	return style
}

func toTcellColor(c interface{ RGBA() (r, g, b, a uint32) }) tcell.Color {
	r, g, b, _ := c.RGBA()
	return tcell.NewRGBColor(int32(r>>8), int32(g>>8), int32(b>>8))
}

func (l *Loop) drawPlaceholder() {
	msg := "No active pane"
	for i, r := range msg {
		l.screen.SetContent(i, 0, r, nil, tcell.StyleDefault.Dim(true))
	}
}

// advancePulse advances the busy-indicator phase by a small delta each
// tick, wrapping at 2π, mirroring original_source's pulse_phase field.
func (l *Loop) advancePulse() {
	const delta = 0.05
	const twoPi = 6.283185307179586
	l.pulsePhase += delta
	if l.pulsePhase >= twoPi {
		l.pulsePhase -= twoPi
	}
}

// drawStatusLine renders the branch string and session status across
// the bottom row. It reads the cached p.GitBranch (set by
// RefreshGitBranch) and runs no subprocess itself.
func (l *Loop) drawStatusLine() {
	idx := l.orch.ActiveProjectIndex()
	if idx < 0 || idx >= len(l.orch.Projects) {
		return
	}
	p := l.orch.Projects[idx]
	branch := p.GitBranch
	if branch == "" {
		branch = "no-branch"
	}
	style := tcell.StyleDefault.Dim(true)
	if l.orch.IsActive(p.ActiveSession) {
		style = busyStyle(l.pulsePhase)
	}
	text := p.Name + " [" + branch + "]"
	if p.LastNotification != "" {
		text += " | " + p.LastNotification
	}
	y := l.height - 1
	for i, r := range text {
		if i >= l.width {
			break
		}
		l.screen.SetContent(i, y, r, nil, style)
	}
}

// busyStyle pulses between dim and bold to signal an in-flight
// assistant turn, using pulsePhase as a two-level square wave: bold for
// the first half of each 2π cycle, dim for the second (no math import
// needed for a status-line blink).
func busyStyle(phase float64) tcell.Style {
	const pi = 3.141592653589793
	if phase < pi {
		return tcell.StyleDefault.Bold(true)
	}
	return tcell.StyleDefault.Dim(true)
}

// RefreshGitBranch recomputes a project's branch string. It runs a git
// subprocess, so render does not call it (spec §4.6: render must never
// block on I/O); nothing in cmd/opman calls it either, so p.GitBranch
// stays "" unless another caller refreshes it.
func RefreshGitBranch(o *orchestrator.Orchestrator, projectIdx int) {
	if projectIdx < 0 || projectIdx >= len(o.Projects) {
		return
	}
	p := o.Projects[projectIdx]
	p.GitBranch = gitbrowser.BranchString(p.Path)
}

// teardown kills every PTY across every project (spec §4.6 step 5).
func (l *Loop) teardown() {
	defer l.screen.Fini()
	for _, p := range l.orch.Projects {
		for _, pty := range p.AssistantPTYs {
			_ = pty.Kill()
		}
		for _, r := range p.Resources {
			for _, tab := range r.Shells {
				_ = tab.PTY.Kill()
			}
			if r.Editor != nil {
				_ = r.Editor.Kill()
			}
		}
		if p.GitBrowser != nil {
			_ = p.GitBrowser.Kill()
		}
	}
}
