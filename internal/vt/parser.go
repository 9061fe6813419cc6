// Package vt wraps an external VT100/xterm parser (spec's Non-goal
// "embedding a terminal emulator parser — an external VT parser is
// assumed") and the cell-to-framebuffer renderer of spec §4.7.
package vt

import (
	"hash/fnv"
	"image/color"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// MaxScrollback bounds the parser's own scrollback retention.
const MaxScrollback = 20000

// Parser wraps charmbracelet/x/vt's terminal emulator for a single
// writer (the PTY reader goroutine) and many short-lived readers (the
// render pass, the dispatcher's read op). Process writes through the
// emulator's own internal locking and does not take p.mu; p.mu
// serializes SetSize, Size, GetScreen, CellAt and GetScreenHash with
// each other only, so a multi-cell read can observe a screen that a
// concurrent Process call has partly updated.
type Parser struct {
	mu sync.Mutex

	term vt.Terminal

	rows, cols int
}

// Cell holds one screen position's glyph and style, already separated
// from the ultraviolet cell type so the renderer (§4.7) depends only on
// this package, not on charmbracelet/x/vt directly.
type Cell struct {
	Symbol    string // full grapheme; usually one rune
	FG, BG    color.Color
	Bold      bool
	Italic    bool
	Underline bool
	Reversed  bool
}

// HasContents reports whether the cell carries a non-space glyph, the
// fast-path predicate spec §9 requires checking before any allocation.
func (c Cell) HasContents() bool {
	return c.Symbol != "" && c.Symbol != " "
}

// New creates a parser with the given dimensions.
func New(rows, cols int) *Parser {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	return &Parser{
		term: vt.NewSafeEmulator(cols, rows),
		rows: rows,
		cols: cols,
	}
}

// Process feeds bytes from the PTY into the emulator.
func (p *Parser) Process(data []byte) {
	p.term.Write(data)
}

// SetSize resizes the emulator; a no-op if unchanged is the caller's
// responsibility (ptyhandle.Handle.Resize already checks that).
func (p *Parser) SetSize(rows, cols int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows, p.cols = rows, cols
	p.term.Resize(cols, rows)
}

func (p *Parser) Size() (rows, cols int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows, p.cols
}

// CursorPosition returns the cursor's (row, col), both 0-indexed.
func (p *Parser) CursorPosition() (row, col int) {
	pos := p.term.CursorPosition()
	return pos.Y, pos.X
}

// CursorVisible reports whether the cursor should be drawn this frame.
func (p *Parser) CursorVisible() bool {
	return p.term.CursorVisibility()
}

// GetScreen returns the visible screen as plain-text lines (no ANSI),
// used by the dispatcher's `read` operation.
func (p *Parser) GetScreen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines := make([]string, p.rows)
	for y := 0; y < p.rows; y++ {
		var line []rune
		for x := 0; x < p.cols; x++ {
			cell := p.term.CellAt(x, y)
			if cell != nil && cell.Content != "" {
				r := []rune(cell.Content)
				line = append(line, r[0])
			} else {
				line = append(line, ' ')
			}
		}
		lines[y] = string(line)
	}
	return lines
}

// CellAt returns the renderer-facing Cell at (x, y), or a blank Cell
// (Symbol " ", no colors or attributes) if out of range. This is the single traversal
// entry point render.go's framebuffer pass uses.
func (p *Parser) CellAt(x, y int) Cell {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw := p.term.CellAt(x, y)
	if raw == nil {
		return Cell{Symbol: " "}
	}
	symbol := raw.Content
	if symbol == "" {
		symbol = " "
	}
	return Cell{
		Symbol:    symbol,
		FG:        raw.Style.Fg,
		BG:        raw.Style.Bg,
		Bold:      raw.Style.Attrs&uv.AttrBold != 0,
		Italic:    raw.Style.Attrs&uv.AttrItalic != 0,
		Underline: raw.Style.Attrs&uv.AttrUnderline != 0,
		Reversed:  raw.Style.Attrs&uv.AttrReverse != 0,
	}
}

// GetScreenHash computes a cheap change-detection hash over visible
// cell content and cursor position. The event loop does not call it;
// render redraws every tick.
func (p *Parser) GetScreenHash() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := fnv.New64a()
	for y := 0; y < p.rows; y++ {
		for x := 0; x < p.cols; x++ {
			cell := p.term.CellAt(x, y)
			if cell != nil && cell.Content != "" {
				h.Write([]byte(cell.Content))
			}
		}
	}
	pos := p.term.CursorPosition()
	h.Write([]byte{byte(pos.Y), byte(pos.X)})
	return h.Sum64()
}
