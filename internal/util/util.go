// internal/util/util.go
// Package util holds the text helpers shared by the command-line output and
// the console: tool descriptions, call results and search previews.
package util

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "…"

// Truncate shortens text to at most n runes, marking a cut with an ellipsis.
func Truncate(text string, n int) string {
	if n < 0 {
		n = 0
	}
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + ellipsis
}

// TruncateLines applies Truncate to every line, so a multi-line call result
// keeps its shape inside a fixed-width pane.
func TruncateLines(text string, width int) string {
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = Truncate(lines[i], width)
	}
	return strings.Join(lines, "\n")
}

// Wrap reflows text to width runes per line. Paragraph breaks survive and
// words longer than width are split.
func Wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	paragraphs := strings.Split(text, "\n")
	for i, p := range paragraphs {
		paragraphs[i] = wrapParagraph(p, width)
	}
	return strings.Join(paragraphs, "\n")
}

func wrapParagraph(p string, width int) string {
	var lines []string
	var line []rune
	for _, word := range strings.Fields(p) {
		w := []rune(word)
		switch {
		case len(line) == 0:
		case len(line)+1+len(w) <= width:
			line = append(line, ' ')
		default:
			lines = append(lines, string(line))
			line = nil
		}
		for len(w) > width {
			if len(line) > 0 {
				lines = append(lines, string(line))
				line = nil
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		line = append(line, w...)
	}
	if len(line) > 0 || len(lines) == 0 {
		lines = append(lines, string(line))
	}
	return strings.Join(lines, "\n")
}

// FirstLine returns text up to its first newline.
func FirstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}

// Indent prefixes every line of text.
func Indent(text, prefix string) string {
	return prefix + strings.ReplaceAll(text, "\n", "\n"+prefix)
}
