package main

import (
	"fmt"
	"io"
	"os"

	"github.com/workdeck/workdeck/internal/hooks"
)

// Hook payloads are small JSON documents; anything bigger is junk.
const maxHookPayload = 1 << 20

// handleHook forwards an agent lifecycle payload from stdin to the
// dashboard's hook socket. Agents invoke this; failures must never
// break the agent, so every error path exits zero and silent.
func handleHook(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: workdeck hook claude|codex")
		os.Exit(1)
	}

	var kind string
	switch args[0] {
	case "claude":
		kind = "hook"
	case "codex":
		kind = "codex"
	default:
		fmt.Fprintf(os.Stderr, "Unknown hook source: %s\n", args[0])
		os.Exit(1)
	}

	paneID := os.Getenv("WORKDECK_PANE_ID")
	if paneID == "" {
		// Agent running outside a workdeck pane; nothing to attribute
		// the event to.
		return
	}

	socketPath := os.Getenv("WORKDECK_HOOK_SOCKET")
	if socketPath == "" {
		socketPath = hooks.SocketPath()
	}

	payload, err := io.ReadAll(io.LimitReader(os.Stdin, maxHookPayload))
	if err != nil {
		return
	}

	_ = hooks.Forward(socketPath, paneID, kind, payload)
}
