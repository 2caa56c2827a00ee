// Package render draws notebook slide decks in the terminal: a glamour
// markdown renderer for prose cells, lipgloss frames for code and outputs,
// and a bubbletea presenter driving the whole deck.
package render

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles the presenter composes its views from.
type Styles struct {
	Header   lipgloss.Style
	Badge    lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Failure  lipgloss.Style
	CodeCell lipgloss.Style
	Output   lipgloss.Style
	ErrorOut lipgloss.Style
	Content  lipgloss.Style
}

// DefaultStyles returns the presenter's standard look.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1),
		Badge: lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("63")).
			Padding(0, 1),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")),
		Failure: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		CodeCell: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		Output: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			PaddingLeft(2),
		ErrorOut: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			PaddingLeft(2),
		Content: lipgloss.NewStyle().
			Padding(0, 2),
	}
}
