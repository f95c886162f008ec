package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/workdeck/workdeck/internal/hooks"
	"github.com/workdeck/workdeck/internal/logging"
)

// handleSetup installs the hook integrations that let agent CLIs report
// lifecycle events back to the dashboard.
func handleSetup(args []string) {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	claudeFlag := fs.Bool("claude", true, "install the claude hook integration")
	codexFlag := fs.Bool("codex", true, "install the codex notify integration")
	scopeFlag := fs.String("scope", "user", "claude settings scope: user, user-local, project, project-local")
	projectFlag := fs.String("project", "", "project directory for project-scoped installs")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck setup [--claude] [--codex] [--scope <scope>]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	initLogging(false)
	defer logging.Shutdown()

	scope, err := parseScope(*scopeFlag)
	if err != nil {
		exitErr("%v", err)
	}
	projectPath := *projectFlag
	if projectPath != "" {
		if projectPath, err = filepath.Abs(projectPath); err != nil {
			exitErr("resolve project path: %v", err)
		}
	}
	if (scope == hooks.ScopeProject || scope == hooks.ScopeProjectLocal) && projectPath == "" {
		exitErr("--scope %s needs --project", scope)
	}

	if *claudeFlag {
		installer := hooks.NewClaudeInstaller()
		if installer.Installed(scope, projectPath) {
			fmt.Println("Claude hooks already installed.")
		} else if err := installer.Install(scope, projectPath); err != nil {
			exitErr("install claude hooks: %v", err)
		} else {
			fmt.Println("Claude hooks installed.")
		}
	}

	if *codexFlag {
		installer := hooks.NewCodexInstaller()
		if installer.Installed() {
			fmt.Println("Codex notify already installed.")
		} else if err := installer.Install(); err != nil {
			exitErr("install codex notify: %v", err)
		} else {
			fmt.Println("Codex notify installed.")
		}
	}
}

func parseScope(s string) (hooks.Scope, error) {
	switch hooks.Scope(s) {
	case hooks.ScopeUser, hooks.ScopeUserLocal, hooks.ScopeProject, hooks.ScopeProjectLocal:
		return hooks.Scope(s), nil
	default:
		return "", fmt.Errorf("unknown scope %q (use user, user-local, project, project-local)", s)
	}
}
