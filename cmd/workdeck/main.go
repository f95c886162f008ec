package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const Version = "0.3.0"

func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss for the terminal at hand.
// WORKDECK_COLOR overrides detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("WORKDECK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if colorTerm := os.Getenv("COLORTERM"); colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	termName := os.Getenv("TERM")
	for _, t := range []string{"xterm-256color", "screen-256color", "tmux-256color", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(termName, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("workdeck v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "open":
			handleOpen(args[1:])
			return
		case "list", "ls":
			handleList(args[1:])
			return
		case "status":
			handleStatus(args[1:])
			return
		case "watch":
			handleWatch(args[1:])
			return
		case "hook":
			handleHook(args[1:])
			return
		case "worktree", "wt":
			handleWorktree(args[1:])
			return
		case "trello":
			handleTrello(args[1:])
			return
		case "setup":
			handleSetup(args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	runDashboard()
}

func printHelp() {
	fmt.Println("workdeck — terminal workbench for agent sessions")
	fmt.Println()
	fmt.Println("Usage: workdeck [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none)                      Open the dashboard")
	fmt.Println("  open <path>                 Create or select a workspace for a project")
	fmt.Println("  list [--json]               List workspaces")
	fmt.Println("  status [--project <path>]   Show PR and CI status")
	fmt.Println("  watch [--web]               Run the background daemon in the foreground")
	fmt.Println("  hook claude|codex           Forward an agent hook payload (used by agents)")
	fmt.Println("  worktree add|list|remove    Manage git worktrees for a project")
	fmt.Println("  trello link|verify|boards   Configure the Trello merge automation")
	fmt.Println("  setup                       Install claude/codex hook integration")
	fmt.Println("  version                     Print the version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  WORKDECK_HOME    State directory (default ~/.workdeck)")
	fmt.Println("  WORKDECK_DEBUG   Enable debug logging")
	fmt.Println("  WORKDECK_COLOR   Color profile: truecolor, 256, 16, none")
	fmt.Println("  WORKDECK_PPROF   Serve pprof on localhost:6060")
}
