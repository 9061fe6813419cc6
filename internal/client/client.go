// Package client is the backend HTTP/SSE collaborator of spec §6,
// adapted from the teacher's server.Client (itself a plain
// net/http-based Rails API client): list/create sessions, send system
// messages, fetch todos/model limits, and subscribe to the event
// stream that the core converts into orchestrator.Event values.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adityaU/opman/internal/orchestrator"
)

// Config is the one-shot base URL/token the client is constructed
// with (spec §9: "the backend's base URL is set exactly once at
// startup and then read-only").
type Config struct {
	BaseURL string
	Token   string
}

// Client talks to the backend's session/event HTTP surface.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type descriptorWire struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ParentID  string    `json:"parent_id"`
	Directory string    `json:"directory"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d descriptorWire) toDescriptor() orchestrator.SessionDescriptor {
	return orchestrator.SessionDescriptor{
		ID: d.ID, Title: d.Title, ParentID: d.ParentID, Directory: d.Directory,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// ListSessions returns every session the backend knows about for a
// project directory.
func (c *Client) ListSessions(ctx context.Context, projectDir string) ([]orchestrator.SessionDescriptor, error) {
	var wire []descriptorWire
	if err := c.getJSON(ctx, "/api/sessions?directory="+projectDir, &wire); err != nil {
		return nil, err
	}
	out := make([]orchestrator.SessionDescriptor, len(wire))
	for i, w := range wire {
		out[i] = w.toDescriptor()
	}
	return out, nil
}

// CreateSession asks the backend to create a session for projectDir.
// Non-blocking: the call only returns acknowledgment that creation was
// requested; the confirmed descriptor arrives later via the event
// stream as SseSessionCreated (spec §6).
func (c *Client) CreateSession(ctx context.Context, projectDir string) error {
	body, _ := json.Marshal(map[string]string{"directory": projectDir})
	return c.postJSON(ctx, "/api/sessions", body, nil)
}

// SendSystemMessage posts a system message into a session's conversation.
func (c *Client) SendSystemMessage(ctx context.Context, projectDir, sessionID, text string) error {
	body, _ := json.Marshal(map[string]string{"directory": projectDir, "session_id": sessionID, "text": text})
	return c.postJSON(ctx, "/api/sessions/"+sessionID+"/system_message", body, nil)
}

// FetchTodos returns the current todo list for a session.
func (c *Client) FetchTodos(ctx context.Context, sessionID string) ([]orchestrator.TodoItem, error) {
	var todos []orchestrator.TodoItem
	if err := c.getJSON(ctx, "/api/sessions/"+sessionID+"/todos", &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// FetchModelLimits returns the provider's context-window limit for a project.
func (c *Client) FetchModelLimits(ctx context.Context, projectDir string) (uint64, error) {
	var out struct {
		ContextWindow uint64 `json:"context_window"`
	}
	if err := c.getJSON(ctx, "/api/projects/model_limits?directory="+projectDir, &out); err != nil {
		return 0, err
	}
	return out.ContextWindow, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuthHeader(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: GET %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeader(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("client: POST %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// sseEnvelope is the wire shape of one server-sent event: a type tag
// plus a raw JSON payload, decoded per-type into an orchestrator.Event.
type sseEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribeEvents streams typed events converted into the taxonomy of
// spec §4.4, pushing each onto events until ctx is cancelled or the
// connection drops. It does not reconnect.
func (c *Client) SubscribeEvents(ctx context.Context, projectIdx int, events chan<- orchestrator.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/events/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.setAuthHeader(req)

	// The shared client's Timeout covers reading the body, which would
	// cut a long-lived stream; the stream uses the same transport without it.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: subscribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: subscribe: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		case line == "":
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = nil
			if ev, ok := decodeSSE(projectIdx, payload, c.logger); ok {
				select {
				case events <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("client: stream read: %w", err)
	}
	return nil
}

func decodeSSE(projectIdx int, payload string, logger *slog.Logger) (orchestrator.Event, bool) {
	var env sseEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Warn("malformed sse payload", "error", err)
		return nil, false
	}

	switch env.Type {
	case "session_created":
		var d descriptorWire
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, false
		}
		return orchestrator.SseSessionCreated{ProjectIdx: projectIdx, Session: d.toDescriptor()}, true
	case "session_updated":
		var d descriptorWire
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return nil, false
		}
		return orchestrator.SseSessionUpdated{ProjectIdx: projectIdx, Session: d.toDescriptor()}, true
	case "session_deleted":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, false
		}
		return orchestrator.SseSessionDeleted{ProjectIdx: projectIdx, SessionID: p.ID}, true
	case "session_idle":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, false
		}
		return orchestrator.SseSessionIdle{SessionID: p.ID}, true
	case "session_busy":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, false
		}
		return orchestrator.SseSessionBusy{SessionID: p.ID}, true
	case "file_edited":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, false
		}
		return orchestrator.SseFileEdited{ProjectIdx: projectIdx, FilePath: p.Path}, true
	case "todo_updated":
		var p struct {
			SessionID string                    `json:"session_id"`
			Todos     []orchestrator.TodoItem `json:"todos"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, false
		}
		return orchestrator.SseTodoUpdated{SessionID: p.SessionID, Todos: p.Todos}, true
	case "message_updated":
		var p struct {
			SessionID string                     `json:"session_id"`
			Stats     orchestrator.SessionStats `json:"stats"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, false
		}
		return orchestrator.SseMessageUpdated{SessionID: p.SessionID, Stats: p.Stats}, true
	default:
		logger.Debug("unrecognized sse event type", "type", env.Type)
		return nil, false
	}
}
