// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders document chat conversations to a terminal.
//
// A Renderer observes conversation snapshots and writes the answer as it
// streams, with citation markers shown as badges and a sources pane once the
// turn completes. RenderMessage renders a stored message in one call.
package ux

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette, deep teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Theme is the set of styles a Renderer draws with. In plain and machine
// modes every style is empty so output carries no escape sequences.
type Theme struct {
	Title      lipgloss.Style
	Muted      lipgloss.Style
	Thinking   lipgloss.Style
	Badge      lipgloss.Style
	BadgeBare  lipgloss.Style
	SourceName lipgloss.Style
	SourcesBox lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	Prompt     lipgloss.Style

	plain bool
}

// Paint renders text with style, or returns it untouched for plain themes.
func (t Theme) Paint(style lipgloss.Style, text string) string {
	if t.plain || text == "" {
		return text
	}
	return style.Render(text)
}

// NewTheme builds the styles for mode. Rich styles are bound to a lipgloss
// renderer for w so color support is detected per writer.
func NewTheme(w io.Writer, mode Mode) Theme {
	if mode != ModeRich {
		plain := lipgloss.NewStyle()
		return Theme{
			Title: plain, Muted: plain, Thinking: plain,
			Badge: plain, BadgeBare: plain, SourceName: plain, SourcesBox: plain,
			Warning: plain, Error: plain, Prompt: plain,
			plain: true,
		}
	}
	re := lipgloss.NewRenderer(w)
	return Theme{
		Title:      re.NewStyle().Bold(true).Foreground(ColorTealBright),
		Muted:      re.NewStyle().Foreground(ColorSlate),
		Thinking:   re.NewStyle().Italic(true).Foreground(ColorSlate),
		Badge:      re.NewStyle().Bold(true).Foreground(ColorTealPrimary),
		BadgeBare:  re.NewStyle().Foreground(ColorSlate),
		SourceName: re.NewStyle().Bold(true),
		SourcesBox: re.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorTealDeep).Padding(0, 1),
		Warning:    re.NewStyle().Foreground(ColorWarning),
		Error:      re.NewStyle().Bold(true).Foreground(ColorError),
		Prompt:     re.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	}
}
