// Package socket implements the local tool-request listener of spec §6:
// a Unix-domain stream socket at a well-known path, speaking
// length-delimited JSON. Each accepted connection parses one request,
// enqueues it with a one-shot reply channel, and writes back whatever
// arrives on that channel (spec §5's "listener owns the reply").
package socket

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/adityaU/opman/internal/dispatcher"
)

// Envelope is the wire request, tagged with routing info the bridge
// process supplies alongside the dispatcher op fields (spec §4.4's
// SocketRequest(project, session, request, reply)).
type Envelope struct {
	ProjectIdx int                 `json:"project_idx"`
	SessionID  string              `json:"session_id"`
	Request    dispatcher.Request  `json:"request"`
}

// Pending is one accepted request awaiting a reply, handed to the main
// loop via Listener.Requests().
type Pending struct {
	Envelope Envelope
	Reply    chan dispatcher.Response
}

// Listener accepts connections on a Unix-domain socket and emits one
// Pending per request onto a channel the event loop drains each tick.
type Listener struct {
	path     string
	ln       net.Listener
	requests chan Pending
	logger   *slog.Logger
}

// Listen removes any stale socket file at path and starts listening.
func Listen(path string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("socket: listen %s: %w", path, err)
	}
	return &Listener{path: path, ln: ln, requests: make(chan Pending, 32), logger: logger}, nil
}

// Requests returns the channel the event loop drains each tick.
func (l *Listener) Requests() <-chan Pending { return l.requests }

// Serve accepts connections until the listener is closed. Each
// connection is handled on its own goroutine; the goroutine blocks on
// the reply channel, matching spec §9's "socket listener awaits the
// reply before writing it back".
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("socket accept failed", "error", err)
			continue
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	r := bufio.NewReader(conn)
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		l.writeResponse(conn, dispatcher.Response{Kind: dispatcher.KindErr, ErrorText: "malformed request: " + err.Error()})
		return
	}

	reply := make(chan dispatcher.Response, 1)
	l.requests <- Pending{Envelope: env, Reply: reply}

	resp := <-reply
	l.writeResponse(conn, resp)
}

func (l *Listener) writeResponse(conn net.Conn, resp dispatcher.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		l.logger.Error("marshal response failed", "error", err)
		return
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return
	}
	_, _ = conn.Write(body)
}

// Close stops accepting connections and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	_ = os.Remove(l.path)
	return err
}
