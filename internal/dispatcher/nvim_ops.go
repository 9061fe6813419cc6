package dispatcher

import (
	"fmt"
	"strings"

	"github.com/adityaU/opman/internal/nvimrpc"
	"github.com/adityaU/opman/internal/orchestrator"
)

// dispatchNvim handles every nvim_* op by opening a fresh RPC
// connection to the session's editor PTY listen address. One
// connection per request mirrors the original's own per-call socket
// dial and avoids holding a long-lived connection across ticks.
func dispatchNvim(r *orchestrator.SessionResources, req Request) Response {
	if r == nil || r.Editor == nil || r.Editor.EditorSocketPath == "" {
		return errResp("Neovim is not running for this project. Focus the Neovim pane to start it.")
	}
	client, err := nvimrpc.Dial(r.Editor.EditorSocketPath)
	if err != nil {
		return errResp("Neovim PTY has no listen address: %v", err)
	}
	defer client.Close()

	switch req.Op {
	case "nvim_open":
		if req.FilePath == nil {
			return errResp("Missing 'file_path' for nvim_open")
		}
		if err := client.OpenFile(*req.FilePath, req.Line); err != nil {
			return errResp("Failed to open file in Neovim: %v", err)
		}
		msg := "Opened " + *req.FilePath
		if req.Line != nil {
			msg += fmt.Sprintf(" at line %d", *req.Line)
		}
		return okText(msg)

	case "nvim_read":
		start := int64(1)
		if req.Line != nil {
			start = int64(*req.Line)
		}
		if start < 1 {
			start = 1
		}
		start--
		var end int64
		if req.EndLine == nil || *req.EndLine == -1 {
			count, err := client.BufLineCount()
			if err != nil {
				return errResp("Failed to get line count: %v", err)
			}
			end = count
		} else {
			end = int64(*req.EndLine)
		}
		lines, err := client.BufGetLines(start, end)
		if err != nil {
			return errResp("Failed to read lines from Neovim: %v", err)
		}
		numbered := make([]string, len(lines))
		for i, l := range lines {
			numbered[i] = fmt.Sprintf("%d: %s", start+1+int64(i), l)
		}
		return okText(strings.Join(numbered, "\n"))

	case "nvim_command":
		if req.Command == nil {
			return errResp("Missing 'command' for nvim_command")
		}
		if err := client.Command(*req.Command); err != nil {
			return errResp("Neovim command failed: %v", err)
		}
		return okText("Command executed: " + *req.Command)

	case "nvim_buffers":
		ids, names, err := client.ListBufs()
		if err != nil {
			return errResp("Failed to list buffers: %v", err)
		}
		if len(ids) == 0 {
			return okText("No named buffers loaded.")
		}
		lines := make([]string, len(ids))
		for i := range ids {
			lines[i] = fmt.Sprintf("Buffer %d: %s", ids[i], names[i])
		}
		return okText(strings.Join(lines, "\n"))

	case "nvim_info":
		name, _ := client.BufGetName()
		if name == "" {
			name = "(unnamed)"
		}
		line, col, _ := client.CursorPos()
		count, _ := client.BufLineCount()
		return okText(fmt.Sprintf("Buffer: %s\nCursor: line %d, column %d\nTotal lines: %d", name, line, col, count))

	case "nvim_diagnostics":
		bufOnly := req.BufOnly != nil && *req.BufOnly
		text, err := client.Diagnostics(bufOnly)
		if err != nil {
			return errResp("Failed to get diagnostics: %v", err)
		}
		return okText(text)

	case "nvim_definition":
		return lspText(client.Definition())
	case "nvim_references":
		return lspText(client.References())
	case "nvim_hover":
		return lspText(client.Hover())
	case "nvim_symbols":
		workspace := req.Workspace != nil && *req.Workspace
		query := ""
		if req.Query != nil {
			query = *req.Query
		}
		return lspText(client.Symbols(query, workspace))
	case "nvim_code_actions":
		return lspText(client.CodeActions())
	case "nvim_signature":
		return lspText(client.SignatureHelp())

	case "nvim_eval":
		if req.Command == nil {
			return errResp("Missing 'command' for nvim_eval")
		}
		v, err := client.Eval(*req.Command)
		if err != nil {
			return errResp("Neovim eval failed: %v", err)
		}
		return okText(fmt.Sprintf("%v", v))

	case "nvim_grep":
		if req.Query == nil {
			return errResp("Missing 'query' for nvim_grep")
		}
		glob := ""
		if req.Glob != nil {
			glob = *req.Glob
		}
		text, err := client.Grep(*req.Query, glob)
		if err != nil {
			return errResp("Grep failed: %v", err)
		}
		return okText(text)

	case "nvim_diff":
		name, _ := client.BufGetName()
		count, _ := client.BufLineCount()
		lines, err := client.BufGetLines(0, count)
		if err != nil {
			return errResp("Failed to read buffer for diff: %v", err)
		}
		return okText(fmt.Sprintf("Unsaved buffer %s has %d lines (diff of unsaved changes requires on-disk comparison; use nvim_command 'w' to persist first).", name, len(lines)))

	case "nvim_write":
		all := req.All != nil && *req.All
		if err := client.WriteBuffer(all); err != nil {
			return errResp("Failed to write buffer: %v", err)
		}
		return okEmpty()

	case "nvim_edit":
		if req.Line == nil || req.EndLine == nil || req.NewText == nil {
			return errResp("Missing 'line'/'end_line'/'new_text' for nvim_edit")
		}
		newLines := strings.Split(*req.NewText, "\n")
		if err := client.BufSetLines(int64(*req.Line)-1, int64(*req.EndLine)-1, newLines); err != nil {
			return errResp("Failed to edit buffer: %v", err)
		}
		return okEmpty()

	case "nvim_undo":
		count := 1
		if req.Count != nil {
			count = *req.Count
		}
		if err := client.Undo(count); err != nil {
			return errResp("Undo failed: %v", err)
		}
		return okEmpty()

	case "nvim_rename":
		if req.NewName == nil {
			return errResp("Missing 'new_name' for nvim_rename")
		}
		if err := client.Rename(*req.NewName); err != nil {
			return errResp("Rename failed: %v", err)
		}
		return okEmpty()

	case "nvim_format":
		if err := client.Format(); err != nil {
			return errResp("Format failed: %v", err)
		}
		return okEmpty()

	default:
		return errResp("Unknown op: %s", req.Op)
	}
}

func lspText(text string, err error) Response {
	if err != nil {
		return errResp("LSP request failed: %v", err)
	}
	return okText(text)
}
