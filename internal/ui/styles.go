package ui

import "github.com/charmbracelet/lipgloss"

// Shared terminal styles for handler output.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#f9fafb"))

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3b82f6"))

	NameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6b7280"))

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22c55e"))

	WarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#eab308"))

	FailStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ef4444"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6b7280"))
)
