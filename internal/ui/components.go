package ui

import (
	"fmt"
	"strings"

	"github.com/olivier-w/reels/internal/lifecycle"
)

// maxDots is the longest feed drawn as a row of dots.
const maxDots = 24

func renderIndicator(current, count int) string {
	counter := fmt.Sprintf("%d/%d", current+1, count)
	if count <= 1 || count > maxDots {
		return counter
	}
	var b strings.Builder
	for i := range count {
		if i > 0 {
			b.WriteString(" ")
		}
		if i == current {
			b.WriteString(activeDotStyle.Render("●"))
		} else {
			b.WriteString("○")
		}
	}
	b.WriteString("  ")
	b.WriteString(counter)
	return b.String()
}

// statusGlyph is the one-cell summary of a neighbor. Unmounted items get the
// placeholder dot.
func statusGlyph(rec *lifecycle.Machine, mounted bool, spin string) string {
	if !mounted {
		return "·"
	}
	switch rec.Status() {
	case lifecycle.Activating:
		return spin
	case lifecycle.Ready:
		if rec.Playing() {
			return "▶"
		}
		return "❚❚"
	case lifecycle.Error:
		return errorStyle.Render("✖")
	default:
		return "○"
	}
}

// slideStrip stacks prev, cur and next (each height lines) and returns the
// height lines seen through a viewport moved by shift rows. A positive shift
// reveals prev from the top.
func slideStrip(prev, cur, next string, shift, height int) string {
	var strip []string
	for _, block := range []string{prev, cur, next} {
		strip = append(strip, fitLines(block, height)...)
	}
	start := min(max(height-shift, 0), 2*height)
	return strings.Join(strip[start:start+height], "\n")
}

func fitLines(block string, height int) []string {
	lines := strings.Split(block, "\n")
	if len(lines) > height {
		return lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return lines
}

func indent(block, prefix string) string {
	lines := strings.Split(block, "\n")
	for i := range lines {
		if lines[i] != "" {
			lines[i] = prefix + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
