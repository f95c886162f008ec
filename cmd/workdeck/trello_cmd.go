package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/trello"
)

const trelloTimeout = 30 * time.Second

func handleTrello(args []string) {
	if len(args) < 1 {
		printTrelloUsage()
		os.Exit(1)
	}

	initLogging(false)
	defer logging.Shutdown()

	switch args[0] {
	case "link":
		trelloLink(args[1:])
	case "unlink":
		trelloUnlink()
	case "verify":
		trelloVerify()
	case "boards":
		trelloBoards()
	default:
		fmt.Fprintf(os.Stderr, "Unknown trello command: %s\n\n", args[0])
		printTrelloUsage()
		os.Exit(1)
	}
}

func printTrelloUsage() {
	fmt.Fprintln(os.Stderr, "Usage: workdeck trello <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  link --key <key> --token <token>   Store Trello API credentials")
	fmt.Fprintln(os.Stderr, "  unlink                             Remove stored credentials")
	fmt.Fprintln(os.Stderr, "  verify                             Check the stored credentials")
	fmt.Fprintln(os.Stderr, "  boards                             List boards visible to the credentials")
}

// loadTrelloCredentials exits with a hint when no credentials are stored.
func loadTrelloCredentials() trello.Credentials {
	creds, err := trello.NewConfigStore().LoadCredentials()
	if err != nil {
		exitErr("load credentials: %v", err)
	}
	if creds == nil {
		exitErr("no Trello credentials stored (run `workdeck trello link`)")
	}
	return *creds
}

func trelloLink(args []string) {
	fs := flag.NewFlagSet("trello link", flag.ExitOnError)
	keyFlag := fs.String("key", "", "Trello API key")
	tokenFlag := fs.String("token", "", "Trello API token")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck trello link --key <key> --token <token>")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *keyFlag == "" || *tokenFlag == "" {
		fs.Usage()
		os.Exit(1)
	}

	creds := trello.Credentials{APIKey: *keyFlag, Token: *tokenFlag}

	ctx, cancel := context.WithTimeout(context.Background(), trelloTimeout)
	defer cancel()
	ok, err := trello.NewClient(creds).ValidateAuth(ctx)
	if err != nil {
		exitErr("reach Trello: %v", err)
	}
	if !ok {
		exitErr("Trello rejected the credentials")
	}

	if err := trello.NewConfigStore().SaveCredentials(creds); err != nil {
		exitErr("save credentials: %v", err)
	}
	fmt.Println("Trello credentials stored.")
}

func trelloUnlink() {
	if err := trello.NewConfigStore().DeleteCredentials(); err != nil {
		exitErr("remove credentials: %v", err)
	}
	fmt.Println("Trello credentials removed.")
}

func trelloVerify() {
	creds := loadTrelloCredentials()

	ctx, cancel := context.WithTimeout(context.Background(), trelloTimeout)
	defer cancel()
	ok, err := trello.NewClient(creds).ValidateAuth(ctx)
	if err != nil {
		exitErr("reach Trello: %v", err)
	}
	if !ok {
		exitErr("Trello rejected the stored credentials")
	}
	fmt.Println("Trello credentials are valid.")
}

func trelloBoards() {
	creds := loadTrelloCredentials()

	ctx, cancel := context.WithTimeout(context.Background(), trelloTimeout)
	defer cancel()
	boards, err := trello.NewClient(creds).ListBoards(ctx)
	if err != nil {
		exitErr("list boards: %v", err)
	}
	if len(boards) == 0 {
		fmt.Println("No boards visible to these credentials.")
		return
	}
	for _, b := range boards {
		fmt.Printf("%-24s %s\n", b.ID, b.Name)
	}
}
