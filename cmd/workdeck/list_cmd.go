package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/workspace"
)

// handleList prints the stored workspaces as a table, or as JSON with
// --json for scripting.
func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "emit JSON instead of a table")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck list [--json]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	initLogging(false)
	defer logging.Shutdown()

	db, b, manager, err := openWorkspaceStore()
	if err != nil {
		exitErr("%v", err)
	}
	defer db.Close()
	defer b.Close()

	file := manager.Snapshot()

	if *jsonFlag {
		out, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			exitErr("encode workspaces: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	if len(file.Workspaces) == 0 {
		fmt.Println("No workspaces. Run `workdeck open <path>` to create one.")
		return
	}

	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 40 {
		width = w
	}

	fmt.Printf("  %-24s %-20s %-6s %s\n", "PROJECT", "BRANCH", "TABS", "PATH")
	for _, ws := range file.Workspaces {
		marker := " "
		if ws.ID == file.SelectedID {
			marker = "*"
		}
		branch := ws.Branch
		if branch == "" {
			branch = "-"
		}
		line := fmt.Sprintf("%s %-24s %-20s %-6d %s",
			marker,
			clip(ws.ProjectName, 24),
			clip(branch, 20),
			len(ws.Tabs),
			ws.TerminalPath())
		if len(line) > width {
			line = line[:width]
		}
		fmt.Println(line)
		for _, tab := range ws.Tabs {
			if tab.Type.IsAgent() {
				fmt.Printf("      %s %s\n", tab.Type.DisplayName(), tabSessionSummary(tab))
			}
		}
	}
}

func tabSessionSummary(tab workspace.Tab) string {
	pane, ok := tab.AIPane()
	if !ok || pane.SessionID == "" {
		return "(no session id)"
	}
	return pane.SessionID
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
