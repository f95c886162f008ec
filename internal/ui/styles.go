package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Theme is the active color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

type palette struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Cyan, Green, Yellow, Red   lipgloss.Color
}

// Tokyo Night.
var darkPalette = palette{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Cyan:    lipgloss.Color("#7dcfff"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
}

// Tokyo Night Light.
var lightPalette = palette{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Cyan:    lipgloss.Color("#166775"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
}

// themeMu protects the style variables during live theme switches.
var themeMu sync.RWMutex

var currentTheme = ThemeDark

// Active palette colors, set by InitTheme.
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorCyan    lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
)

var (
	TitleStyle       lipgloss.Style
	HeaderStyle      lipgloss.Style
	ProjectStyle     lipgloss.Style
	BranchStyle      lipgloss.Style
	DimStyle         lipgloss.Style
	SelectedStyle    lipgloss.Style
	AttentionStyle   lipgloss.Style
	PassStyle        lipgloss.Style
	FailStyle        lipgloss.Style
	PendingStyle     lipgloss.Style
	PanelStyle       lipgloss.Style
	DialogBoxStyle   lipgloss.Style
	DialogTitleStyle lipgloss.Style
	FooterStyle      lipgloss.Style
	FooterKeyStyle   lipgloss.Style
)

// InitTheme sets the active palette and rebuilds every style. Must run
// before the first render.
func InitTheme(theme Theme) {
	themeMu.Lock()
	defer themeMu.Unlock()

	p := darkPalette
	if theme == ThemeLight {
		p = lightPalette
	}
	currentTheme = theme

	ColorBg = p.Bg
	ColorSurface = p.Surface
	ColorBorder = p.Border
	ColorText = p.Text
	ColorTextDim = p.TextDim
	ColorAccent = p.Accent
	ColorCyan = p.Cyan
	ColorGreen = p.Green
	ColorYellow = p.Yellow
	ColorRed = p.Red

	initStyles()
}

// CurrentTheme returns the active theme.
func CurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme(ThemeDark)
}

func initStyles() {
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Background(ColorSurface).
		Padding(0, 1)

	HeaderStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	ProjectStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorCyan)

	BranchStyle = lipgloss.NewStyle().
		Foreground(ColorAccent)

	DimStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	SelectedStyle = lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorAccent).
		Bold(true)

	AttentionStyle = lipgloss.NewStyle().
		Foreground(ColorYellow).
		Bold(true)

	PassStyle = lipgloss.NewStyle().Foreground(ColorGreen)
	FailStyle = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	PendingStyle = lipgloss.NewStyle().Foreground(ColorYellow)

	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)

	DialogBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(1, 2)

	DialogTitleStyle = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	FooterStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	FooterKeyStyle = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)
}

// attentionBadge renders the dot shown next to a session tab.
func attentionBadge(waiting bool) string {
	themeMu.RLock()
	defer themeMu.RUnlock()
	if waiting {
		return AttentionStyle.Render("◐")
	}
	return DimStyle.Render("●")
}

// truncate shortens s to the given display width, rune-aware.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 1 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "…")
}
