package orchestrator

import "github.com/adityaU/opman/internal/ptyhandle"

// Event is the tagged union consumed by Orchestrator.HandleEvent (spec
// §4.4's "Events consumed", ordered by arrival on a single channel).
// Each concrete type below corresponds to one row of that table.
type Event interface{ isEvent() }

type PtySpawned struct {
	ProjectIdx int
	SessionID  string
	PTY        *ptyhandle.Handle
}

type SessionsFetched struct {
	ProjectIdx int
	Sessions   []SessionDescriptor
}

type SessionFetchFailed struct{ ProjectIdx int }

type SseSessionCreated struct {
	ProjectIdx int
	Session    SessionDescriptor
}

type SseSessionUpdated struct {
	ProjectIdx int
	Session    SessionDescriptor
}

type SseSessionDeleted struct {
	ProjectIdx int
	SessionID  string
}

type SseSessionIdle struct{ SessionID string }
type SseSessionBusy struct{ SessionID string }

type SseFileEdited struct {
	ProjectIdx int
	FilePath   string
}

type SseTodoUpdated struct {
	SessionID string
	Todos     []TodoItem
}

type TodosFetched struct {
	SessionID string
	Todos     []TodoItem
}

type SseMessageUpdated struct {
	SessionID string
	Stats     SessionStats
}

type ModelLimitsFetched struct {
	ProjectIdx    int
	ContextWindow uint64
}

func (PtySpawned) isEvent()         {}
func (SessionsFetched) isEvent()    {}
func (SessionFetchFailed) isEvent() {}
func (SseSessionCreated) isEvent()  {}
func (SseSessionUpdated) isEvent()  {}
func (SseSessionDeleted) isEvent()  {}
func (SseSessionIdle) isEvent()     {}
func (SseSessionBusy) isEvent()     {}
func (SseFileEdited) isEvent()      {}
func (SseTodoUpdated) isEvent()     {}
func (TodosFetched) isEvent()       {}
func (SseMessageUpdated) isEvent()  {}
func (ModelLimitsFetched) isEvent() {}
