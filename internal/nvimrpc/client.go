package nvimrpc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a synchronous msgpack-RPC client for one Neovim `--listen`
// endpoint. The dispatcher calls are already serialized by the
// single-threaded orchestrator loop, so one request is ever in flight
// at a time; no background reader or request-id multiplexing is
// needed (spec §5: tool requests carry no timeout at this layer).
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	next int64
}

// Dial connects to addr, a unix-domain socket path or "host:port" TCP
// address, matching what `nvim --listen <addr>` accepts.
func Dial(addr string) (*Client, error) {
	network := "unix"
	if _, _, err := net.SplitHostPort(addr); err == nil {
		network = "tcp"
	}
	conn, err := net.DialTimeout(network, addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("nvimrpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Call issues one msgpack-RPC request ([0, msgid, method, params]) and
// blocks for its matching response.
func (c *Client) Call(method string, params ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	c.next++

	req := []any{int64(0), id, method, toAnySlice(params)}
	if err := encode(c.conn, req); err != nil {
		return nil, fmt.Errorf("nvimrpc: write %s: %w", method, err)
	}

	resp, err := decode(c.r)
	if err != nil {
		return nil, fmt.Errorf("nvimrpc: read response to %s: %w", method, err)
	}
	arr, ok := resp.([]any)
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("nvimrpc: malformed response to %s", method)
	}
	if arr[2] != nil {
		return nil, fmt.Errorf("nvimrpc: %s: %v", method, arr[2])
	}
	return arr[3], nil
}

func toAnySlice(params []any) []any {
	if params == nil {
		return []any{}
	}
	return params
}

// --- typed convenience wrappers over the raw API, covering every
// nvim_* operation in the dispatcher's table. ---

func (c *Client) Command(cmd string) error {
	_, err := c.Call("nvim_command", cmd)
	return err
}

func (c *Client) Eval(expr string) (any, error) {
	return c.Call("nvim_eval", expr)
}

func (c *Client) ExecLua(code string, args ...any) (any, error) {
	return c.Call("nvim_exec_lua", code, args)
}

func (c *Client) OpenFile(path string, line *int) error {
	if err := c.Command("edit " + escapeCmdArg(path)); err != nil {
		return err
	}
	if line != nil {
		return c.Command(fmt.Sprintf("%d", *line))
	}
	return nil
}

func (c *Client) BufLineCount() (int64, error) {
	v, err := c.Call("nvim_buf_line_count", int64(0))
	if err != nil {
		return 0, err
	}
	return asInt(v), nil
}

func (c *Client) BufGetLines(start, end int64) ([]string, error) {
	v, err := c.Call("nvim_buf_get_lines", int64(0), start, end, false)
	if err != nil {
		return nil, err
	}
	arr, _ := v.([]any)
	out := make([]string, len(arr))
	for i, e := range arr {
		out[i], _ = e.(string)
	}
	return out, nil
}

func (c *Client) BufSetLines(start, end int64, lines []string) error {
	params := make([]any, len(lines))
	for i, l := range lines {
		params[i] = l
	}
	_, err := c.Call("nvim_buf_set_lines", int64(0), start, end, false, params)
	return err
}

func (c *Client) BufGetName() (string, error) {
	v, err := c.Call("nvim_buf_get_name", int64(0))
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *Client) ListBufs() ([]int64, []string, error) {
	v, err := c.Call("nvim_list_bufs")
	if err != nil {
		return nil, nil, err
	}
	arr, _ := v.([]any)
	ids := make([]int64, 0, len(arr))
	names := make([]string, 0, len(arr))
	for _, e := range arr {
		id := asInt(e)
		nameV, err := c.Call("nvim_buf_get_name", id)
		if err != nil {
			continue
		}
		name, _ := nameV.(string)
		ids = append(ids, id)
		names = append(names, name)
	}
	return ids, names, nil
}

func (c *Client) CursorPos() (line, col int64, err error) {
	v, err := c.Call("nvim_win_get_cursor", int64(0))
	if err != nil {
		return 0, 0, err
	}
	arr, _ := v.([]any)
	if len(arr) != 2 {
		return 0, 0, fmt.Errorf("nvimrpc: unexpected cursor shape")
	}
	return asInt(arr[0]), asInt(arr[1]), nil
}

func (c *Client) SetCursor(line, col int64) error {
	_, err := c.Call("nvim_win_set_cursor", int64(0), []any{line, col})
	return err
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func escapeCmdArg(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
