// Package tui implements the Bubble Tea chat view for stitch.
package tui

import "github.com/charmbracelet/lipgloss"

// Tokyo Night color palette.
var (
	colorGreen  = lipgloss.Color("#9ece6a") // green
	colorYellow = lipgloss.Color("#e0af68") // yellow
	colorRed    = lipgloss.Color("#d75f6b") // red
	colorBlue   = lipgloss.Color("#7aa2f7") // blue
	colorGray   = lipgloss.Color("#565f89") // comment
	colorWhite  = lipgloss.Color("#c0caf5") // foreground
)

var (
	// Title bar with the chat id and connection state.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			PaddingLeft(1)

	connectedStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	degradedStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	offlineStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	// Own (user) messages.
	userStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	// Assistant messages.
	assistantStyle = lipgloss.NewStyle().
			Foreground(colorBlue)

	// Timestamps and status glyphs.
	metaStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	// Failed sends.
	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	// Edited marker.
	editedStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			PaddingLeft(1)
)
