// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette for the chat UI. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected room row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Active room marker in the room list.
	ActiveForeground lipgloss.Color

	// Filter match within a room name.
	MatchForeground lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Status line levels.
	WarnForeground  lipgloss.Color
	ErrorForeground lipgloss.Color

	// Connection indicator.
	OnlineForeground  lipgloss.Color
	OfflineForeground lipgloss.Color

	// SenderColors are assigned to senders by a stable hash of the
	// user ID so each person keeps one color.
	SenderColors [6]lipgloss.Color

	// Dialog box.
	DialogBorder lipgloss.Color
}

// SenderColor returns the color assigned to userID.
func (theme Theme) SenderColor(userID string) lipgloss.Color {
	var sum uint32
	for index := 0; index < len(userID); index++ {
		sum = sum*31 + uint32(userID[index])
	}
	return theme.SenderColors[sum%uint32(len(theme.SenderColors))]
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	ActiveForeground: lipgloss.Color("114"), // green
	MatchForeground:  lipgloss.Color("220"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	WarnForeground:  lipgloss.Color("220"), // amber
	ErrorForeground: lipgloss.Color("196"), // red

	OnlineForeground:  lipgloss.Color("114"),
	OfflineForeground: lipgloss.Color("208"),

	SenderColors: [6]lipgloss.Color{
		lipgloss.Color("75"),  // blue
		lipgloss.Color("141"), // light purple
		lipgloss.Color("114"), // green
		lipgloss.Color("208"), // orange
		lipgloss.Color("175"), // pink
		lipgloss.Color("80"),  // teal
	},

	DialogBorder: lipgloss.Color("75"),
}
