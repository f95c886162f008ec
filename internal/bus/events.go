package bus

// Event payloads carried on the bus. Producers validate at the boundary;
// subscribers can rely on the typed fields being populated.

// TerminalData is raw PTY output for one pane.
type TerminalData struct {
	PaneID string
	Data   string
}

// TerminalExit reports a pane's process exiting.
type TerminalExit struct {
	PaneID   string
	ExitCode int
}

// ClaudeHook is a lifecycle hook event forwarded from a claude process.
type ClaudeHook struct {
	PaneID         string
	SessionID      string
	EventName      string
	Source         string
	CWD            string
	TranscriptPath string
	Message        string
}

// CodexNotify is a notify event forwarded from a codex process.
type CodexNotify struct {
	PaneID    string
	SessionID string
	Event     string
}

// GitChanged reports repository state movement (HEAD or refs) for a project.
type GitChanged struct {
	ProjectPath string
}

// StatusUpdated reports a successful remote-status refresh for a project.
type StatusUpdated struct {
	ProjectPath string
}

// CheckTransition reports one CI check moving between buckets on a PR.
type CheckTransition struct {
	ProjectPath string
	PRNumber    int
	Check       string
	Workflow    string
	From        string
	To          string
}

// PRMerged reports a PR observed transitioning into the merged state.
type PRMerged struct {
	ProjectPath string
	PRNumber    int
	Branch      string
}

// AttentionChanged reports that the derived attention view is stale.
type AttentionChanged struct {
	ProjectPath string
}

// WorkspacesChanged reports a structural mutation of the workspace tree.
type WorkspacesChanged struct{}
