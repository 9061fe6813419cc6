// Package orcherr defines the orchestrator's error taxonomy.
//
// Errors built with Wrap/Wrapf keep their sentinel reachable through
// errors.Is. internal/ptyhandle wraps its spawn, missing-PTY and
// invalid-range errors this way; the other packages return plain
// errors, and the dispatcher answers tool requests with plain error
// text.
package orcherr

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn means a child process failed to start.
	ErrSpawn = errors.New("spawn error")

	// ErrStartup means the backend did not report readiness within its deadline.
	ErrStartup = errors.New("startup error")

	// ErrTransport means a backend HTTP/event-stream call failed.
	ErrTransport = errors.New("transport error")

	// ErrProtocol means a malformed event or tool request was received.
	ErrProtocol = errors.New("protocol error")

	// ErrResourceMissing means a tool request referenced a non-existent tab or editor.
	ErrResourceMissing = errors.New("resource missing")

	// ErrConflict means a tool request was rejected because a command is
	// already running on the targeted tab.
	ErrConflict = errors.New("conflict error")
)

// Wrap attaches msg as context to sentinel, preserving errors.Is/As.
func Wrap(sentinel error, msg string) error {
	return &wrapped{sentinel: sentinel, msg: msg}
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(sentinel error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, msg: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.sentinel }
