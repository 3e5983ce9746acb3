// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// wrapBreakpoints are the characters ansi.Wrap may break after in
// addition to spaces.
const wrapBreakpoints = " ,.;-+|/"

// bodyRenderer turns message bodies into terminal lines.
type bodyRenderer struct {
	theme   Theme
	profile termenv.Profile
}

// Render splits body into lines no wider than width. Prose is wrapped;
// fenced code blocks are syntax-highlighted and truncated instead, so
// their indentation survives.
func (renderer bodyRenderer) Render(body string, width int) []string {
	width = max(width, 1)
	var lines []string
	var code []string
	inCode := false
	language := ""

	flushCode := func() {
		highlighted := renderer.highlightCode(strings.Join(code, "\n"), language)
		for _, line := range strings.Split(strings.TrimRight(highlighted, "\n"), "\n") {
			lines = append(lines, ansi.Truncate(line, width, "…"))
		}
		code = code[:0]
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if fence, ok := strings.CutPrefix(trimmed, "```"); ok {
			if inCode {
				flushCode()
				inCode = false
			} else {
				inCode = true
				language = strings.TrimSpace(fence)
			}
			continue
		}
		if inCode {
			code = append(code, line)
			continue
		}
		wrapped := ansi.Wrap(line, width, wrapBreakpoints)
		lines = append(lines, strings.Split(wrapped, "\n")...)
	}
	// An unterminated fence still renders as code.
	if inCode && len(code) > 0 {
		flushCode()
	}
	return lines
}

// highlightCode uses Chroma with a formatter matching the terminal's
// color profile. Unknown languages and errors fall back to faint
// plain text.
func (renderer bodyRenderer) highlightCode(code, language string) string {
	faint := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)
	formatter := codeFormatter(renderer.profile)
	if language == "" || formatter == "" {
		return renderLines(faint, code)
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, code, language, formatter, "monokai"); err != nil {
		return renderLines(faint, code)
	}
	return buffer.String()
}

// renderLines styles each line separately so no escape sequence spans
// a line break.
func renderLines(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for index, line := range lines {
		lines[index] = style.Render(line)
	}
	return strings.Join(lines, "\n")
}

// codeFormatter maps a color profile to a Chroma formatter name. The
// empty string means no highlighting.
func codeFormatter(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal16"
	default:
		return ""
	}
}
