package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	// Color palette
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	errorColor   = lipgloss.Color("#FF4B4B")
	mutedColor   = lipgloss.Color("#666666")
	borderColor  = lipgloss.Color("#383838")
)

func styled(s lipgloss.Style) lipgloss.Style {
	if noColor {
		return lipgloss.NewStyle()
	}
	return s
}

func titleStyle() lipgloss.Style {
	return styled(lipgloss.NewStyle().Bold(true).Foreground(primaryColor))
}

func passStyle() lipgloss.Style {
	return styled(lipgloss.NewStyle().Bold(true).Foreground(successColor))
}

func failStyle() lipgloss.Style {
	return styled(lipgloss.NewStyle().Bold(true).Foreground(errorColor))
}

func mutedStyle() lipgloss.Style {
	return styled(lipgloss.NewStyle().Foreground(mutedColor))
}

// renderTable lays rows out under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	header := styled(lipgloss.NewStyle().Bold(true).Foreground(primaryColor)).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styled(lipgloss.NewStyle().Foreground(borderColor))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	return t.Render()
}
