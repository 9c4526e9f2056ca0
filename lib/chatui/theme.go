// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette for the chat TUI.
type Theme struct {
	Sender     lipgloss.Style
	OwnSender  lipgloss.Style
	Body       lipgloss.Style
	Redacted   lipgloss.Style
	Edited     lipgloss.Style
	Reaction   lipgloss.Style
	Membership lipgloss.Style
	Pending    lipgloss.Style
	Failed     lipgloss.Style
	Typing     lipgloss.Style
	StatusBar  lipgloss.Style
	RoomActive lipgloss.Style
	RoomIdle   lipgloss.Style
	RoomUnread lipgloss.Style
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	Sender:     lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	OwnSender:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	Body:       lipgloss.NewStyle(),
	Redacted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true),
	Edited:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	Reaction:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	Membership: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	Pending:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	Failed:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	Typing:     lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Italic(true),
	StatusBar:  lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("250")),
	RoomActive: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4")),
	RoomIdle:   lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	RoomUnread: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
}
