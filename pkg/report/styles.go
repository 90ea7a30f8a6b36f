package report

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles used by Display and Prompter.
type Styles struct {
	Title     lipgloss.Style
	Tested    lipgloss.Style
	Passed    lipgloss.Style
	Failed    lipgloss.Style
	Remaining lipgloss.Style
	Testing   lipgloss.Style
	Header    lipgloss.Style
	Muted     lipgloss.Style
	Banner    lipgloss.Style
	Key       lipgloss.Style
	Warn      lipgloss.Style
}

// NewStyles builds styles bound to a renderer for w. Colors are dropped
// when w is not a terminal.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)

	return Styles{
		Title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		Tested:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		Passed:    r.NewStyle().Foreground(lipgloss.Color("2")),
		Failed:    r.NewStyle().Foreground(lipgloss.Color("1")),
		Remaining: r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		Testing:   r.NewStyle().Foreground(lipgloss.Color("6")),
		Header:    r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(lipgloss.Color("8")),
		Banner:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		Key:       r.NewStyle().Bold(true),
		Warn:      r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}
