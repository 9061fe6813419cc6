// Package ptyhandle owns a child process connected to a pseudo-terminal
// and surfaces a live screen snapshot to readers (spec §4.1).
package ptyhandle

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/adityaU/opman/internal/orcherr"
	"github.com/adityaU/opman/internal/shellstate"
	"github.com/adityaU/opman/internal/vt"
)

// ScrollbackChunks bounds the raw-output ring buffer independent of the
// VT parser's own scrollback, matching the teacher's 1000-chunk budget
// for browser/log streaming.
const ScrollbackChunks = 1000

// Kind identifies what a PTY was spawned to run. The dispatcher and the
// orchestrator use this to decide resource-resolution and teardown policy.
type Kind int

const (
	KindAssistant Kind = iota
	KindShell
	KindEditor
	KindGitBrowser
)

func (k Kind) String() string {
	switch k {
	case KindAssistant:
		return "assistant"
	case KindShell:
		return "shell"
	case KindEditor:
		return "editor"
	case KindGitBrowser:
		return "git-browser"
	default:
		return "unknown"
	}
}

// SpawnConfig configures a new PTY child.
type SpawnConfig struct {
	Kind Kind
	Rows uint16
	Cols uint16
	Dir  string
	Env  []string
	// Command is the shell command line to run, meaningful for
	// KindShell (optional: defaults to the user's login shell) and
	// KindGitBrowser. Ignored for KindAssistant/KindEditor, which have
	// fixed launch commands supplied by the caller via Argv.
	Command string
	// Argv overrides the default launch command entirely (assistant
	// binary, editor binary with --listen flag, etc). When set it takes
	// precedence over Command/Kind defaults.
	Argv []string
	// EditorSocketPath is the local-RPC endpoint path the editor should
	// be told to --listen on. Only meaningful for KindEditor.
	EditorSocketPath string
	Logger           *slog.Logger
}

// Handle owns one PTY child: its OS process, a shared VT parser fed by a
// dedicated reader goroutine, and (for shells) a command-state machine
// driven by OSC-133 markers.
type Handle struct {
	kind Kind

	ptyFile *os.File
	cmd     *exec.Cmd

	mu   sync.Mutex
	rows uint16
	cols uint16

	Parser *vt.Parser

	// State is nil for every kind except KindShell.
	State *shellstate.Machine

	// EditorSocketPath is the RPC endpoint recorded at spawn time, set
	// only for KindEditor handles.
	EditorSocketPath string

	raw *RingBuffer

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	readerWg sync.WaitGroup

	logger *slog.Logger
}

// Spawn launches a child with the given size and working directory.
// Shell spawns get an instrumented startup snippet that emits OSC-133
// command-state markers (see internal/shellstate). Editor spawns record
// the RPC endpoint the caller asked the editor to --listen on.
func Spawn(cfg SpawnConfig) (*Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	argv := cfg.Argv
	if len(argv) == 0 {
		switch cfg.Kind {
		case KindShell:
			shell := os.Getenv("SHELL")
			if shell == "" {
				shell = "/bin/bash"
			}
			inner := shell + " -l"
			if cfg.Command != "" {
				inner = fmt.Sprintf("%s -c %q", shell, cfg.Command)
			}
			if rc, err := shellstate.WriteRCFile(os.TempDir()); err == nil {
				argv = []string{shell, "-c", fmt.Sprintf("source %q; exec %s", rc, inner)}
			} else {
				argv = []string{shell, "-l"}
			}
		case KindGitBrowser:
			shell := os.Getenv("SHELL")
			if shell == "" {
				shell = "/bin/bash"
			}
			if cfg.Command != "" {
				argv = []string{shell, "-c", cfg.Command}
			} else {
				argv = []string{shell, "-l"}
			}
		default:
			return nil, orcherr.Wrapf(orcherr.ErrSpawn, "no argv given for %s PTY", cfg.Kind)
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cfg.Dir
	env := append(os.Environ(), cfg.Env...)
	if cfg.Kind == KindShell {
		env = append(env, shellstate.InstrumentationEnv()...)
	}
	cmd.Env = env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: cfg.Rows, Cols: cfg.Cols})
	if err != nil {
		return nil, orcherr.Wrapf(orcherr.ErrSpawn, "start %s pty: %v", cfg.Kind, err)
	}

	h := &Handle{
		kind:             cfg.Kind,
		ptyFile:          ptmx,
		cmd:              cmd,
		rows:             cfg.Rows,
		cols:             cfg.Cols,
		Parser:           vt.New(int(cfg.Rows), int(cfg.Cols)),
		raw:              NewRingBuffer(ScrollbackChunks),
		done:             make(chan struct{}),
		logger:           logger,
		EditorSocketPath: cfg.EditorSocketPath,
	}
	if cfg.Kind == KindShell {
		h.State = shellstate.New()
	}

	h.readerWg.Add(1)
	go h.readerLoop()

	logger.Info("pty spawned", "kind", cfg.Kind, "dir", cfg.Dir, "argv", argv)
	return h, nil
}

func (h *Handle) Kind() Kind { return h.kind }

func (h *Handle) readerLoop() {
	defer h.readerWg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-h.done:
			return
		default:
		}

		n, err := h.ptyFile.Read(buf)
		if err != nil {
			return // EOF or closed master: child exited or Kill() closed it.
		}
		if n == 0 {
			continue
		}
		chunk := buf[:n]

		h.Parser.Process(chunk)
		h.raw.Push(chunk)

		if h.State != nil {
			h.State.Feed(chunk)
		}
	}
}

// Write enqueues bytes to the child's stdin. The PTY master write is
// itself a short syscall; we serialize writers with a mutex rather than
// a channel+goroutine so "bounded non-blocking write" degrades to "one
// write-sized syscall", matching the teacher's direct-write model.
func (h *Handle) Write(p []byte) (int, error) {
	if h.ptyFile == nil {
		return 0, orcherr.Wrapf(orcherr.ErrResourceMissing, "pty not spawned")
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.ptyFile.Write(p)
}

func (h *Handle) WriteString(s string) (int, error) {
	return h.Write([]byte(s))
}

// Resize adjusts terminal dimensions; a no-op if unchanged. Errors are
// swallowed per spec ("silent on error").
func (h *Handle) Resize(rows, cols uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rows == rows && h.cols == cols {
		return
	}
	h.rows, h.cols = rows, cols
	if h.ptyFile != nil {
		_ = pty.Setsize(h.ptyFile, &pty.Winsize{Rows: rows, Cols: cols})
	}
	h.Parser.SetSize(int(rows), int(cols))
}

func (h *Handle) Size() (rows, cols uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rows, h.cols
}

// Kill terminates the child and joins the reader task.
func (h *Handle) Kill() error {
	h.doneOnce.Do(func() { close(h.done) })

	if h.cmd != nil && h.cmd.Process != nil {
		if err := h.cmd.Process.Kill(); err != nil {
			h.logger.Warn("kill pty child failed", "kind", h.kind, "error", err)
		}
		_ = h.cmd.Wait()
	}
	if h.ptyFile != nil {
		_ = h.ptyFile.Close()
	}
	h.readerWg.Wait()
	return nil
}

// DrainRawOutput returns and clears queued raw bytes, for callers that
// scan output independent of the VT screen (the event loop's OSC
// notification scan).
func (h *Handle) DrainRawOutput() []byte {
	return h.raw.Drain()
}

// ReadScreen returns the current screen contents, optionally limited to
// the last n non-empty lines (dispatcher's `read{last_n}` operation).
func (h *Handle) ReadScreen(lastN int) string {
	lines := h.Parser.GetScreen()
	if lastN <= 0 {
		return joinLines(lines)
	}
	var nonEmpty []string
	for _, l := range lines {
		if trimmedNonEmpty(l) {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) > lastN {
		nonEmpty = nonEmpty[len(nonEmpty)-lastN:]
	}
	return joinLines(nonEmpty)
}

// ReadRange returns lines [fromLine, toLine] (1-indexed, inclusive).
func (h *Handle) ReadRange(fromLine, toLine int) (string, error) {
	lines := h.Parser.GetScreen()
	if fromLine < 1 || toLine < fromLine || fromLine > len(lines) {
		return "", orcherr.Wrapf(orcherr.ErrProtocol, "invalid range %d..%d for %d lines", fromLine, toLine, len(lines))
	}
	if toLine > len(lines) {
		toLine = len(lines)
	}
	return joinLines(lines[fromLine-1 : toLine]), nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		out += l
		if i < len(lines)-1 {
			out += "\n"
		}
	}
	return out
}

func trimmedNonEmpty(s string) bool {
	for _, r := range s {
		if r != ' ' {
			return true
		}
	}
	return false
}
