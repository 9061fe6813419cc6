package nvimrpc

import (
	"fmt"
	"strings"
)

// The LSP-facing operations are synchronous by construction: the
// dispatcher has no notion of a pending async reply, so every call
// below drives `vim.lsp.buf_request_sync` (or an equivalent
// synchronous helper) through nvim_exec_lua and formats the first
// usable result as plain text.

const lspRequestSync = `
local method, extra = ...
local bufnr = 0
local params = vim.lsp.util.make_position_params(0, 'utf-16')
for k, v in pairs(extra or {}) do params[k] = v end
local results = vim.lsp.buf_request_sync(bufnr, method, params, 1000)
if not results then return {} end
local out = {}
for _, res in pairs(results) do
  if res.result then table.insert(out, res.result) end
end
return out
`

func (c *Client) lspRequest(method string, extra map[string]any) ([]any, error) {
	v, err := c.ExecLua(lspRequestSync, method, extra)
	if err != nil {
		return nil, err
	}
	arr, _ := v.([]any)
	return arr, nil
}

func (c *Client) Definition() (string, error) { return c.lspLocationText("textDocument/definition") }
func (c *Client) References() (string, error) { return c.lspLocationText("textDocument/references") }
func (c *Client) Hover() (string, error) {
	results, err := c.lspRequest("textDocument/hover", nil)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No hover information.", nil
	}
	m, _ := results[0].(map[string]any)
	contents, _ := m["contents"].(map[string]any)
	if v, ok := contents["value"].(string); ok {
		return v, nil
	}
	return fmt.Sprintf("%v", m["contents"]), nil
}

func (c *Client) lspLocationText(method string) (string, error) {
	results, err := c.lspRequest(method, nil)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results.", nil
	}
	var lines []string
	for _, r := range results {
		switch v := r.(type) {
		case []any:
			for _, loc := range v {
				lines = append(lines, formatLocation(loc))
			}
		case map[string]any:
			lines = append(lines, formatLocation(v))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func formatLocation(loc any) string {
	m, _ := loc.(map[string]any)
	uri, _ := m["uri"].(string)
	rng, _ := m["range"].(map[string]any)
	start, _ := rng["start"].(map[string]any)
	line := asInt(start["line"]) + 1
	col := asInt(start["character"]) + 1
	return fmt.Sprintf("%s:%d:%d", strings.TrimPrefix(uri, "file://"), line, col)
}

func (c *Client) Symbols(query string, workspace bool) (string, error) {
	method := "textDocument/documentSymbol"
	extra := map[string]any{}
	if workspace {
		method = "workspace/symbol"
		extra["query"] = query
	}
	results, err := c.lspRequest(method, extra)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No symbols.", nil
	}
	var lines []string
	for _, r := range results {
		arr, _ := r.([]any)
		for _, s := range arr {
			m, _ := s.(map[string]any)
			name, _ := m["name"].(string)
			lines = append(lines, name)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) CodeActions() (string, error) {
	results, err := c.lspRequest("textDocument/codeAction", nil)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No code actions available.", nil
	}
	var lines []string
	for _, r := range results {
		arr, _ := r.([]any)
		for _, a := range arr {
			m, _ := a.(map[string]any)
			title, _ := m["title"].(string)
			lines = append(lines, title)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) SignatureHelp() (string, error) {
	results, err := c.lspRequest("textDocument/signatureHelp", nil)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No signature help available.", nil
	}
	m, _ := results[0].(map[string]any)
	sigs, _ := m["signatures"].([]any)
	if len(sigs) == 0 {
		return "No signature help available.", nil
	}
	sig, _ := sigs[0].(map[string]any)
	label, _ := sig["label"].(string)
	return label, nil
}

func (c *Client) Diagnostics(bufOnly bool) (string, error) {
	lua := `
local buf_only = ...
local opts = buf_only and {} or nil
local diags = buf_only and vim.diagnostic.get(0, opts) or vim.diagnostic.get(nil)
local out = {}
for _, d in ipairs(diags) do
  table.insert(out, string.format("%s:%d: [%s] %s", vim.api.nvim_buf_get_name(d.bufnr or 0), d.lnum + 1, d.severity, d.message))
end
return out
`
	v, err := c.ExecLua(lua, bufOnly)
	if err != nil {
		return "", err
	}
	arr, _ := v.([]any)
	if len(arr) == 0 {
		return "No diagnostics.", nil
	}
	lines := make([]string, len(arr))
	for i, e := range arr {
		lines[i], _ = e.(string)
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) Rename(newName string) error {
	lua := `
local new_name = ...
local params = vim.lsp.util.make_position_params(0, 'utf-16')
params.newName = new_name
vim.lsp.buf_request_sync(0, 'textDocument/rename', params, 1000)
`
	_, err := c.ExecLua(lua, newName)
	return err
}

func (c *Client) Format() error {
	_, err := c.ExecLua(`vim.lsp.buf.format({ async = false })`)
	return err
}

func (c *Client) Grep(query, glob string) (string, error) {
	lua := `
local query, glob = ...
local cmd = { 'rg', '--vimgrep', '--no-heading' }
if glob ~= '' then
  table.insert(cmd, '--glob')
  table.insert(cmd, glob)
end
table.insert(cmd, query)
local out = vim.fn.systemlist(cmd)
return out
`
	v, err := c.ExecLua(lua, query, glob)
	if err != nil {
		return "", err
	}
	arr, _ := v.([]any)
	lines := make([]string, len(arr))
	for i, e := range arr {
		lines[i], _ = e.(string)
	}
	if len(lines) == 0 {
		return "No matches.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) WriteBuffer(all bool) error {
	if all {
		return c.Command("wa")
	}
	return c.Command("w")
}

func (c *Client) Undo(count int) error {
	if count <= 0 {
		count = 1
	}
	return c.Command(fmt.Sprintf("normal! %du", count))
}
