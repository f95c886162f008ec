// Package ui is the terminal dashboard: workspaces grouped by project,
// attention badges, and the cached PR/CI state, refreshed from bus
// events rather than its own polling.
package ui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/workdeck/workdeck/internal/attention"
	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/github"
	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/workspace"
)

var log = logging.ForComponent(logging.CompUI)

// WorkspaceSource is the slice of the workspace manager the dashboard
// reads and drives.
type WorkspaceSource interface {
	Snapshot() workspace.File
	Select(id string)
}

// AttentionSource provides the derived attention view.
type AttentionSource interface {
	Snapshot() map[string][]attention.Entry
}

// Deps wires the dashboard to the rest of the app. Write-side actions
// are funcs so tests can observe them without a full daemon.
type Deps struct {
	Workspaces WorkspaceSource
	Attention  AttentionSource

	// Statuses returns the cached PR/CI state per project path.
	Statuses func() map[string]github.ProjectStatus

	// ListSessions backs the resume picker.
	ListSessions func(projectPath string, typ workspace.SessionType) ([]workspace.DiscoveredSession, error)

	// Resume reopens a discovered session in the given workspace.
	Resume func(workspaceID, sessionID, label string, typ workspace.SessionType)

	// Start opens a fresh agent session in the given workspace.
	Start func(workspaceID string, typ workspace.SessionType)

	// Restart replaces a workspace's agent tab with a fresh one,
	// resuming its session when the id is known.
	Restart func(workspaceID, tabID string)

	// Refresh requests an immediate PR/CI poll for a project.
	Refresh func(projectPath string)

	// Focus escalates polling of one PR's checks while the dashboard
	// has it in view; Unfocus tears the escalation down.
	Focus   func(projectPath string, prNumber int)
	Unfocus func()

	// Copy puts text on the system clipboard, returning how it landed.
	Copy func(text string) (string, error)
}

// Bus events arrive as messages so the update loop stays single-threaded.
type (
	workspacesChangedMsg struct{}
	attentionChangedMsg  struct{}
	statusUpdatedMsg     struct{ projectPath string }
	checkTransitionMsg   struct{ ev bus.CheckTransition }
	themeChangedMsg      struct{ theme Theme }
)

// AttachBus forwards dashboard-relevant bus events into the program.
func AttachBus(p *tea.Program, b *bus.Bus) {
	b.SubscribeWorkspacesChanged(func(bus.WorkspacesChanged) {
		p.Send(workspacesChangedMsg{})
	})
	b.SubscribeAttentionChanged(func(bus.AttentionChanged) {
		p.Send(attentionChangedMsg{})
	})
	b.SubscribeStatusUpdated(func(ev bus.StatusUpdated) {
		p.Send(statusUpdatedMsg{projectPath: ev.ProjectPath})
	})
	b.SubscribeCheckTransition(func(ev bus.CheckTransition) {
		p.Send(checkTransitionMsg{ev: ev})
	})
}

// WatchTheme forwards OS appearance changes into the program until the
// watcher closes.
func WatchTheme(p *tea.Program, w *ThemeWatcher) {
	if w == nil {
		return
	}
	go func() {
		for theme := range w.Changes() {
			p.Send(themeChangedMsg{theme: theme})
		}
	}()
}

type rowKind int

const (
	rowProject rowKind = iota
	rowWorkspace
)

// row is one selectable line of the dashboard.
type row struct {
	kind        rowKind
	projectPath string
	workspace   workspace.Workspace
}

// projectGroup is one project with its workspaces in file order.
type projectGroup struct {
	path       string
	name       string
	workspaces []workspace.Workspace
}

// Model is the dashboard bubbletea model.
type Model struct {
	deps Deps

	width, height int
	cursor        int
	rows          []row
	groups        []projectGroup
	attention     map[string][]attention.Entry
	statuses      map[string]github.ProjectStatus
	lastEvent     string
	focusedPR     string

	picker *SessionPicker
	quit   bool
}

func NewModel(deps Deps) *Model {
	m := &Model{
		deps:   deps,
		picker: NewSessionPicker(),
	}
	m.reload()
	return m
}

func (m *Model) Init() tea.Cmd { return nil }

// reload rebuilds the row list from the current snapshots.
func (m *Model) reload() {
	var file workspace.File
	if m.deps.Workspaces != nil {
		file = m.deps.Workspaces.Snapshot()
	}
	if m.deps.Attention != nil {
		m.attention = m.deps.Attention.Snapshot()
	}
	if m.deps.Statuses != nil {
		m.statuses = m.deps.Statuses()
	}

	byPath := make(map[string]*projectGroup)
	order := make([]string, 0)
	for _, ws := range file.Workspaces {
		g, ok := byPath[ws.ProjectPath]
		if !ok {
			g = &projectGroup{path: ws.ProjectPath, name: ws.ProjectName}
			if g.name == "" {
				g.name = filepath.Base(ws.ProjectPath)
			}
			byPath[ws.ProjectPath] = g
			order = append(order, ws.ProjectPath)
		}
		g.workspaces = append(g.workspaces, ws)
	}

	m.groups = m.groups[:0]
	m.rows = m.rows[:0]
	for _, path := range order {
		g := byPath[path]
		m.groups = append(m.groups, *g)
		m.rows = append(m.rows, row{kind: rowProject, projectPath: path})
		for _, ws := range g.workspaces {
			m.rows = append(m.rows, row{kind: rowWorkspace, projectPath: path, workspace: ws})
		}
	}
	if m.cursor >= len(m.rows) {
		m.cursor = max(0, len(m.rows)-1)
	}

	// Land the cursor on the selected workspace on first build.
	if file.SelectedID != "" && m.cursor == 0 {
		for i, r := range m.rows {
			if r.kind == rowWorkspace && r.workspace.ID == file.SelectedID {
				m.cursor = i
				break
			}
		}
	}
	m.syncFocus()
}

// syncFocus keeps the poller's focused PR aligned with the cursor: the
// first PR with running checks under the cursor's project gets the fast
// loop, and moving away (or the checks settling) releases it.
func (m *Model) syncFocus() {
	if m.deps.Focus == nil || m.deps.Unfocus == nil {
		return
	}
	var path string
	var number int
	key := ""
	if r, ok := m.currentRow(); ok {
		if status, ok := m.statuses[r.projectPath]; ok {
			for _, pr := range status.PRs {
				if prHasPending(status, pr) {
					path, number = r.projectPath, pr.Number
					key = fmt.Sprintf("%s::%d", path, number)
					break
				}
			}
		}
	}
	if key == m.focusedPR {
		return
	}
	m.focusedPR = key
	if key == "" {
		m.deps.Unfocus()
		return
	}
	m.deps.Focus(path, number)
}

func prHasPending(status github.ProjectStatus, pr github.PR) bool {
	if pr.ChecksStatus.Pending > 0 {
		return true
	}
	for _, c := range status.PRChecks[pr.Number] {
		if c.Bucket == "pending" {
			return true
		}
	}
	return false
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.picker.SetSize(msg.Width, msg.Height)
		return m, nil

	case workspacesChangedMsg, attentionChangedMsg:
		m.reload()
		return m, nil

	case statusUpdatedMsg:
		m.reload()
		return m, nil

	case checkTransitionMsg:
		m.lastEvent = fmt.Sprintf("PR #%d %s: %s → %s",
			msg.ev.PRNumber, msg.ev.Check, msg.ev.From, msg.ev.To)
		m.reload()
		return m, nil

	case themeChangedMsg:
		InitTheme(msg.theme)
		log.Debug("theme_switched")
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picker.IsVisible() {
		if msg.String() == "enter" {
			if sel, ok := m.picker.Selected(); ok && m.deps.Resume != nil {
				m.deps.Resume(m.picker.WorkspaceID(), sel.SessionID, sel.Label, m.picker.SessionType())
			}
			m.picker.Hide()
			return m, nil
		}
		return m, m.picker.Update(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quit = true
		return m, tea.Quit
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
			m.syncFocus()
		}
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.syncFocus()
		}
	case "enter":
		if r, ok := m.currentRow(); ok && r.kind == rowWorkspace && m.deps.Workspaces != nil {
			m.deps.Workspaces.Select(r.workspace.ID)
			m.reload()
		}
	case "r":
		if r, ok := m.currentRow(); ok && m.deps.Refresh != nil {
			m.deps.Refresh(r.projectPath)
		}
	case "s":
		m.openPicker()
	case "n":
		m.startSession()
	case "R":
		m.restartSession()
	case "y":
		m.copyPRURL()
	}
	return m, nil
}

// startSession opens a fresh agent session in the workspace under the
// cursor. The agent type follows the workspace's existing AI tab.
func (m *Model) startSession() {
	r, ok := m.currentRow()
	if !ok || r.kind != rowWorkspace || m.deps.Start == nil {
		return
	}
	typ := workspace.TypeClaude
	for _, tab := range r.workspace.Tabs {
		if tab.Type.IsAgent() {
			typ = tab.Type
			break
		}
	}
	m.deps.Start(r.workspace.ID, typ)
	m.lastEvent = fmt.Sprintf("started %s session", typ.DisplayName())
}

// restartSession replaces the first agent tab of the workspace under
// the cursor.
func (m *Model) restartSession() {
	r, ok := m.currentRow()
	if !ok || r.kind != rowWorkspace || m.deps.Restart == nil {
		return
	}
	for _, tab := range r.workspace.Tabs {
		if tab.Type.IsAgent() {
			m.deps.Restart(r.workspace.ID, tab.ID)
			m.lastEvent = fmt.Sprintf("restarting %s", tab.Type.DisplayName())
			return
		}
	}
	m.lastEvent = "no agent tab to restart"
}

// copyPRURL copies the first PR's URL for the project under the cursor.
func (m *Model) copyPRURL() {
	if m.deps.Copy == nil {
		return
	}
	r, ok := m.currentRow()
	if !ok {
		return
	}
	status, ok := m.statuses[r.projectPath]
	if !ok || len(status.PRs) == 0 || status.PRs[0].URL == "" {
		m.lastEvent = "no PR to copy"
		return
	}
	pr := status.PRs[0]
	method, err := m.deps.Copy(pr.URL)
	if err != nil {
		m.lastEvent = fmt.Sprintf("copy failed: %v", err)
		return
	}
	m.lastEvent = fmt.Sprintf("copied PR #%d URL (%s)", pr.Number, method)
}

func (m *Model) currentRow() (row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return row{}, false
	}
	return m.rows[m.cursor], true
}

// openPicker lists resumable sessions for the workspace under the
// cursor. The agent type follows the workspace's AI tab, claude when it
// has none yet.
func (m *Model) openPicker() {
	r, ok := m.currentRow()
	if !ok || r.kind != rowWorkspace || m.deps.ListSessions == nil {
		return
	}

	typ := workspace.TypeClaude
	for _, tab := range r.workspace.Tabs {
		if tab.Type.IsAgent() {
			typ = tab.Type
			break
		}
	}

	sessions, err := m.deps.ListSessions(r.workspace.TerminalPath(), typ)
	m.picker.SetSize(m.width, m.height)
	m.picker.Show(r.workspace.ID, typ, sessions, err)
}

func (m *Model) View() string {
	if m.quit {
		return ""
	}
	if m.picker.IsVisible() {
		return m.picker.View()
	}

	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("workdeck"))
	if waiting := m.waitingCount(); waiting > 0 {
		b.WriteString("  " + AttentionStyle.Render(fmt.Sprintf("◐ %d waiting", waiting)))
	}
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(DimStyle.Render("no workspaces — run `workdeck open <path>`"))
		b.WriteString("\n")
	}

	for i, r := range m.rows {
		switch r.kind {
		case rowProject:
			b.WriteString(m.renderProjectRow(r, i == m.cursor, width))
		case rowWorkspace:
			b.WriteString(m.renderWorkspaceRow(r, i == m.cursor, width))
		}
		b.WriteString("\n")
	}

	if detail := m.renderDetail(width); detail != "" {
		b.WriteString("\n" + detail + "\n")
	}

	if m.lastEvent != "" {
		b.WriteString("\n" + DimStyle.Render(truncate(m.lastEvent, width-2)) + "\n")
	}

	b.WriteString("\n" + footerLine())
	return b.String()
}

func footerLine() string {
	keys := []struct{ key, desc string }{
		{"↑/↓", "move"},
		{"enter", "select"},
		{"s", "resume session"},
		{"n", "new session"},
		{"R", "restart"},
		{"y", "copy PR url"},
		{"r", "refresh"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+" "+FooterStyle.Render(k.desc))
	}
	return strings.Join(parts, FooterStyle.Render(" · "))
}

func (m *Model) waitingCount() int {
	n := 0
	for _, entries := range m.attention {
		for _, e := range entries {
			if e.NeedsAttention {
				n++
			}
		}
	}
	return n
}

func (m *Model) renderProjectRow(r row, selected bool, width int) string {
	name := filepath.Base(r.projectPath)
	for _, g := range m.groups {
		if g.path == r.projectPath {
			name = g.name
			break
		}
	}

	line := ProjectStyle.Render(name)
	if summary := m.prSummary(r.projectPath); summary != "" {
		line += "  " + summary
	}
	if waiting := m.projectWaiting(r.projectPath); waiting > 0 {
		line += "  " + AttentionStyle.Render(fmt.Sprintf("◐%d", waiting))
	}
	if selected {
		return SelectedStyle.Render(">") + " " + line
	}
	return "  " + line
}

func (m *Model) renderWorkspaceRow(r row, selected bool, width int) string {
	ws := r.workspace

	branch := ws.Branch
	if branch == "" {
		branch = "main checkout"
	}

	var badges []string
	for _, tab := range ws.Tabs {
		waiting := false
		for _, e := range m.attention[ws.ProjectPath] {
			if e.TabID == tab.ID && e.NeedsAttention {
				waiting = true
				break
			}
		}
		label := tab.Label
		if label == "" {
			label = string(tab.Type)
		}
		badges = append(badges, fmt.Sprintf("%s %s", attentionBadge(waiting), truncate(label, 14)))
	}

	branchCell := BranchStyle.Render(truncate(branch, 28))
	if selected {
		branchCell = SelectedStyle.Render("> " + truncate(branch, 28))
	}

	tail := DimStyle.Render("no tabs")
	if len(badges) > 0 {
		tail = strings.Join(badges, "  ")
	}

	indent := "     "
	if selected {
		indent = "   "
	}
	return indent + branchCell + "  " + tail
}

// prSummary is the one-line CI verdict for a project header.
func (m *Model) prSummary(projectPath string) string {
	status, ok := m.statuses[projectPath]
	if !ok || len(status.PRs) == 0 {
		return ""
	}

	pr := status.PRs[0]
	parts := []string{DimStyle.Render(fmt.Sprintf("PR #%d", pr.Number))}
	cs := pr.ChecksStatus
	if cs.Passing > 0 {
		parts = append(parts, PassStyle.Render(fmt.Sprintf("✓%d", cs.Passing)))
	}
	if cs.Failing > 0 {
		parts = append(parts, FailStyle.Render(fmt.Sprintf("✗%d", cs.Failing)))
	}
	if cs.Pending > 0 {
		parts = append(parts, PendingStyle.Render(fmt.Sprintf("●%d", cs.Pending)))
	}
	if len(status.PRs) > 1 {
		parts = append(parts, DimStyle.Render(fmt.Sprintf("+%d more", len(status.PRs)-1)))
	}
	return strings.Join(parts, " ")
}

func (m *Model) projectWaiting(projectPath string) int {
	n := 0
	for _, e := range m.attention[projectPath] {
		if e.NeedsAttention {
			n++
		}
	}
	return n
}

// renderDetail shows the PR list for the project under the cursor.
func (m *Model) renderDetail(width int) string {
	r, ok := m.currentRow()
	if !ok {
		return ""
	}
	status, ok := m.statuses[r.projectPath]
	if !ok || len(status.PRs) == 0 {
		return ""
	}

	var lines []string
	for _, pr := range status.PRs {
		state := strings.ToLower(pr.State)
		if pr.IsDraft {
			state = "draft"
		}
		title := truncate(pr.Title, max(20, width-30))
		lines = append(lines, fmt.Sprintf("#%d %s %s", pr.Number, DimStyle.Render(state), title))

		checks := m.checkLines(status, pr.Number, width)
		lines = append(lines, checks...)
	}
	return PanelStyle.Width(min(width-2, 100)).Render(strings.Join(lines, "\n"))
}

// checkLines renders failing and pending checks; passing ones collapse
// into the summary counts.
func (m *Model) checkLines(status github.ProjectStatus, prNumber, width int) []string {
	details := status.PRChecks[prNumber]
	if len(details) == 0 {
		return nil
	}

	sorted := append([]github.CheckDetail(nil), details...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return checkBucketRank(sorted[i].Bucket) < checkBucketRank(sorted[j].Bucket)
	})

	var lines []string
	passing := 0
	for _, c := range sorted {
		switch c.Bucket {
		case "fail":
			lines = append(lines, "  "+FailStyle.Render("✗ "+truncate(c.Name, width-10)))
		case "pending":
			lines = append(lines, "  "+PendingStyle.Render("● "+truncate(c.Name, width-10)))
		case "pass":
			passing++
		}
	}
	if passing > 0 {
		lines = append(lines, "  "+PassStyle.Render(fmt.Sprintf("✓ %d passing", passing)))
	}
	return lines
}

func checkBucketRank(bucket string) int {
	switch bucket {
	case "fail":
		return 0
	case "pending":
		return 1
	default:
		return 2
	}
}

// centerInScreen centers content in the terminal.
func centerInScreen(content string, screenWidth, screenHeight int) string {
	if screenWidth <= 0 || screenHeight <= 0 {
		return content
	}
	return lipgloss.Place(screenWidth, screenHeight, lipgloss.Center, lipgloss.Center, content)
}
