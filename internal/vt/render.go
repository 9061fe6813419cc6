package vt

import (
	"image/color"

	"github.com/charmbracelet/x/ansi"

	"github.com/adityaU/opman/internal/theme"
)

// FBCell is one framebuffer cell: the renderer's output, independent of
// both the VT parser's internal cell type and whatever terminal UI
// library ultimately blits it.
type FBCell struct {
	Symbol    string
	FG, BG    color.Color
	Bold      bool
	Italic    bool
	Underline bool
	Reversed  bool
}

// Framebuffer is a row-major grid of FBCell, sized to the PTY's rows x cols.
type Framebuffer struct {
	Rows, Cols int
	Cells      []FBCell
}

func NewFramebuffer(rows, cols int) *Framebuffer {
	return &Framebuffer{Rows: rows, Cols: cols, Cells: make([]FBCell, rows*cols)}
}

func (fb *Framebuffer) At(row, col int) *FBCell {
	return &fb.Cells[row*fb.Cols+col]
}

// Render copies p's current screen into fb, remapping indexed ANSI
// colors (0-15) through th's palette in the same pass — spec §4.7's
// "no second traversal" requirement, ported from term_render.rs's
// fill_cell_optimized/convert_color_remapped.
func Render(p *Parser, fb *Framebuffer, th theme.Theme) {
	rows, cols := p.Size()
	if fb.Rows != rows || fb.Cols != cols {
		*fb = *NewFramebuffer(rows, cols)
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			src := p.CellAt(x, y)
			dst := fb.At(y, x)
			fillCell(src, dst, th)
		}
	}

	row, col := p.CursorPosition()
	if p.CursorVisible() && row >= 0 && row < rows && col >= 0 && col < cols {
		cur := fb.At(row, col)
		if cur.Symbol != "" && cur.Symbol != " " {
			cur.Reversed = true
		} else {
			cur.Symbol = "█" // block glyph over an empty cell
			cur.FG = color.Gray{Y: 0x80}
		}
	}
}

// fillCell is the hot inner loop: one cell, zero-allocation on the
// common single-byte-ASCII path.
func fillCell(src Cell, dst *FBCell, th theme.Theme) {
	if src.HasContents() {
		dst.Symbol = src.Symbol
	} else {
		dst.Symbol = " "
	}

	dst.FG = remapColor(src.FG, th.Palette, th.Foreground)
	dst.BG = remapColor(src.BG, th.Palette, th.Background)

	dst.Bold = src.Bold
	dst.Italic = src.Italic
	dst.Underline = src.Underline
	dst.Reversed = src.Reversed
}

// remapColor mirrors convert_color_remapped: nil (vt100::Color::Default
// equivalent) takes the theme default, indices 0-15 are remapped
// through the palette, indices 16+ and true-color pass through
// unchanged.
func remapColor(c color.Color, pal theme.Palette, deflt color.Color) color.Color {
	if c == nil {
		return deflt
	}
	switch v := c.(type) {
	case ansi.BasicColor:
		if int(v) < len(pal) {
			return pal[v]
		}
		return c
	case ansi.ExtendedColor:
		return c // 256-color indices pass through unchanged
	default:
		return c // true-color RGB preserved as-is
	}
}
