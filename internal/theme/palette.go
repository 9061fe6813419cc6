// Package theme holds the in-memory 16-entry ANSI palette used to remap
// a VT screen's indexed colors before rendering (spec §4.7). Generating
// theme files for external programs (nvim, zsh, gitui, ...) is
// explicitly out of scope per spec.md's Non-goals; only the palette
// concept needed for the renderer lives here.
package theme

import "image/color"

// Palette is the 16 ANSI colors (0-7 normal, 8-15 bright) a theme maps
// indexed VT colors through. Index 16+ and true-color cells bypass the
// palette entirely (spec §4.7: "Extended 256-color indices pass through
// unchanged; true-color RGB is preserved").
type Palette [16]color.Color

// Theme bundles the ANSI palette with the default foreground/background
// used for vt100::Color::Default-equivalent cells.
type Theme struct {
	Name       string
	Palette    Palette
	Foreground color.Color
	Background color.Color
}

// Default is a plain xterm-like 16-color theme, used when no
// configuration overrides it.
func Default() Theme {
	hex := func(r, g, b uint8) color.Color { return color.RGBA{R: r, G: g, B: b, A: 255} }
	return Theme{
		Name: "default",
		Palette: Palette{
			hex(0x1d, 0x1f, 0x21), // 0 black
			hex(0xcc, 0x66, 0x66), // 1 red
			hex(0xb5, 0xbd, 0x68), // 2 green
			hex(0xf0, 0xc6, 0x74), // 3 yellow
			hex(0x81, 0xa2, 0xbe), // 4 blue
			hex(0xb2, 0x94, 0xbb), // 5 magenta
			hex(0x8a, 0xbe, 0xb7), // 6 cyan
			hex(0xc5, 0xc8, 0xc6), // 7 white
			hex(0x96, 0x98, 0x96), // 8 bright black
			hex(0xd5, 0x4e, 0x53), // 9 bright red
			hex(0xb9, 0xca, 0x4a), // 10 bright green
			hex(0xe7, 0xc5, 0x47), // 11 bright yellow
			hex(0x7a, 0xa6, 0xda), // 12 bright blue
			hex(0xc3, 0x97, 0xd8), // 13 bright magenta
			hex(0x70, 0xc0, 0xb1), // 14 bright cyan
			hex(0xff, 0xff, 0xff), // 15 bright white
		},
		Foreground: hex(0xc5, 0xc8, 0xc6),
		Background: hex(0x1d, 0x1f, 0x21),
	}
}
