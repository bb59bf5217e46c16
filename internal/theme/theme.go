// Package theme provides the Lip Gloss color palette and reusable styles
// for the campus notification TUI. It is a leaf package with no internal
// imports to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Notification category colors.
var (
	ColorLike     = lipgloss.Color("#ec4899")
	ColorComment  = lipgloss.Color("#3b82f6")
	ColorFollow   = lipgloss.Color("#22c55e")
	ColorFavorite = lipgloss.Color("#f59e0b")
	ColorSystem   = lipgloss.Color("#d97706")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// Chat colors.
var (
	ColorUser      = lipgloss.Color("#06b6d4")
	ColorAssistant = lipgloss.Color("#a855f7")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorFocus   = lipgloss.Color("#7c3aed")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// CategoryColor returns the color for a notification type tag.
func CategoryColor(kind string) lipgloss.Color {
	switch kind {
	case "LIKE":
		return ColorLike
	case "COMMENT":
		return ColorComment
	case "FOLLOW":
		return ColorFollow
	case "FAVORITE":
		return ColorFavorite
	case "SYSTEM":
		return ColorSystem
	default:
		return ColorDefault
	}
}

// CategoryGlyph returns a Unicode glyph for a notification type tag.
func CategoryGlyph(kind string) string {
	switch kind {
	case "LIKE":
		return "♥"
	case "COMMENT":
		return "✎"
	case "FOLLOW":
		return "+"
	case "FAVORITE":
		return "★"
	case "SYSTEM":
		return "!"
	default:
		return "·"
	}
}

// StateColor returns the color for a connection state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return ColorHealthy
	case "connecting", "reconnecting":
		return ColorWarning
	case "closed":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleFocused = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorFocus)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
