// Package styles holds the colours and lipgloss styles of the transform
// progress view.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// Theme is the colour palette. Each sensitivity tier has its own colour
// so tier counts read at a glance.
type Theme struct {
	Accent lipgloss.Color
	Text   lipgloss.Color
	Muted  lipgloss.Color

	Sensitive lipgloss.Color
	Personal  lipgloss.Color
	Public    lipgloss.Color
}

// DefaultTheme returns the palette used on dark terminals.
func DefaultTheme() *Theme {
	return &Theme{
		Accent:    lipgloss.Color("#7C3AED"),
		Text:      lipgloss.Color("#CDD6F4"),
		Muted:     lipgloss.Color("#6C7086"),
		Sensitive: lipgloss.Color("#F38BA8"),
		Personal:  lipgloss.Color("#F9E2AF"),
		Public:    lipgloss.Color("#A6E3A1"),
	}
}

// Styles are the rendered styles of a theme. Error, Warning and Success
// share the tier colours.
type Styles struct {
	theme *Theme

	Title   lipgloss.Style
	Normal  lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
	Help    lipgloss.Style
}

// NewStyles creates styles from a theme. A nil theme uses DefaultTheme.
func NewStyles(theme *Theme) *Styles {
	if theme == nil {
		theme = DefaultTheme()
	}
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

	return &Styles{
		theme:   theme,
		Title:   fg(theme.Accent).Bold(true),
		Normal:  fg(theme.Text),
		Muted:   fg(theme.Muted),
		Error:   fg(theme.Sensitive),
		Warning: fg(theme.Personal),
		Success: fg(theme.Public),
		Help:    fg(theme.Muted).Italic(true),
	}
}

// DefaultStyles returns styles with the default theme.
func DefaultStyles() *Styles {
	return NewStyles(nil)
}

// Theme returns the palette these styles were built from.
func (s *Styles) Theme() *Theme {
	return s.theme
}

// Tier returns the style a sensitivity tier is rendered with.
func (s *Styles) Tier(t domain.Tier) lipgloss.Style {
	switch t {
	case domain.TierSensitive:
		return s.Error
	case domain.TierPersonal:
		return s.Warning
	case domain.TierPublic:
		return s.Success
	default:
		return s.Muted
	}
}
