package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/workdeck/workdeck/internal/workspace"
)

const pickerMaxRows = 12

// SessionPicker is the resume dialog: discovered agent sessions for one
// project, filtered as the user types.
type SessionPicker struct {
	visible       bool
	width, height int

	input    textinput.Model
	sessions []workspace.DiscoveredSession
	filtered []workspace.DiscoveredSession
	cursor   int

	workspaceID string
	sessionType workspace.SessionType
	loadErr     error
}

func NewSessionPicker() *SessionPicker {
	ti := textinput.New()
	ti.Placeholder = "type to filter"
	ti.CharLimit = 80
	ti.Width = 40
	return &SessionPicker{input: ti}
}

// Show opens the picker over the discovery results for one workspace.
func (p *SessionPicker) Show(workspaceID string, typ workspace.SessionType, sessions []workspace.DiscoveredSession, loadErr error) {
	p.visible = true
	p.workspaceID = workspaceID
	p.sessionType = typ
	p.sessions = sessions
	p.loadErr = loadErr
	p.cursor = 0
	p.input.SetValue("")
	p.input.Focus()
	p.applyFilter()
}

// Hide closes the picker and drops its state.
func (p *SessionPicker) Hide() {
	p.visible = false
	p.sessions = nil
	p.filtered = nil
	p.workspaceID = ""
	p.loadErr = nil
	p.input.Blur()
}

func (p *SessionPicker) IsVisible() bool { return p.visible }

// WorkspaceID returns the workspace the picker was opened for.
func (p *SessionPicker) WorkspaceID() string { return p.workspaceID }

// SessionType returns the agent type being resumed.
func (p *SessionPicker) SessionType() workspace.SessionType { return p.sessionType }

func (p *SessionPicker) SetSize(w, h int) {
	p.width = w
	p.height = h
}

// Selected returns the session under the cursor.
func (p *SessionPicker) Selected() (workspace.DiscoveredSession, bool) {
	if len(p.filtered) == 0 || p.cursor >= len(p.filtered) {
		return workspace.DiscoveredSession{}, false
	}
	return p.filtered[p.cursor], true
}

// pickerSource adapts the session slice for fuzzy matching over labels.
type pickerSource []workspace.DiscoveredSession

func (s pickerSource) String(i int) string { return s[i].Label }
func (s pickerSource) Len() int            { return len(s) }

func (p *SessionPicker) applyFilter() {
	query := strings.TrimSpace(p.input.Value())
	if query == "" {
		p.filtered = p.sessions
	} else {
		matches := fuzzy.FindFrom(query, pickerSource(p.sessions))
		p.filtered = make([]workspace.DiscoveredSession, 0, len(matches))
		for _, m := range matches {
			p.filtered = append(p.filtered, p.sessions[m.Index])
		}
	}
	if p.cursor >= len(p.filtered) {
		p.cursor = 0
	}
}

// Update handles one key press. The parent acts on enter via Selected.
func (p *SessionPicker) Update(msg tea.KeyMsg) tea.Cmd {
	if !p.visible {
		return nil
	}

	switch msg.String() {
	case "esc":
		p.Hide()
		return nil
	case "down", "ctrl+n":
		if len(p.filtered) > 0 {
			p.cursor = (p.cursor + 1) % len(p.filtered)
		}
		return nil
	case "up", "ctrl+p":
		if len(p.filtered) > 0 {
			p.cursor = (p.cursor - 1 + len(p.filtered)) % len(p.filtered)
		}
		return nil
	case "enter":
		return nil
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	p.applyFilter()
	return cmd
}

func (p *SessionPicker) View() string {
	if !p.visible {
		return ""
	}

	var lines []string
	lines = append(lines, DialogTitleStyle.Render(fmt.Sprintf("Resume %s session", p.sessionType.DisplayName())))
	lines = append(lines, "")
	lines = append(lines, p.input.View())
	lines = append(lines, "")

	switch {
	case p.loadErr != nil:
		lines = append(lines, FailStyle.Render("session discovery failed: "+p.loadErr.Error()))
	case len(p.filtered) == 0:
		lines = append(lines, DimStyle.Render("no sessions found"))
	default:
		shown := p.filtered
		if len(shown) > pickerMaxRows {
			shown = shown[:pickerMaxRows]
		}
		for i, s := range shown {
			label := truncate(s.Label, 44)
			row := fmt.Sprintf("%s  %s", label, DimStyle.Render(s.Timestamp))
			if i == p.cursor {
				lines = append(lines, SelectedStyle.Render("> "+label)+"  "+DimStyle.Render(s.Timestamp))
			} else {
				lines = append(lines, "  "+row)
			}
		}
		if len(p.filtered) > pickerMaxRows {
			lines = append(lines, DimStyle.Render(fmt.Sprintf("  … %d more", len(p.filtered)-pickerMaxRows)))
		}
	}

	lines = append(lines, "")
	lines = append(lines, FooterStyle.Render("enter resume · esc cancel · ↑/↓ move"))

	box := DialogBoxStyle.Render(strings.Join(lines, "\n"))
	return centerInScreen(box, p.width, p.height)
}
