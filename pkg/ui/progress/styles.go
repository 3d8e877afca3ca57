package progress

import "github.com/charmbracelet/lipgloss"

var (
	salmonPink = lipgloss.Color("#FFB3BA")
	coralPink  = lipgloss.Color("#FFCCCB")
	mintGreen  = lipgloss.Color("#A8E6CF")
	mutedGray  = lipgloss.Color("#6B7280")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	countStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	completedStyle = lipgloss.NewStyle().
			Foreground(mintGreen)

	failedStyle = lipgloss.NewStyle().
			Foreground(salmonPink)

	cancelledStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	headerCellStyle = lipgloss.NewStyle().
			Foreground(coralPink).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)
)
