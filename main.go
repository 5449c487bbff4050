package main

import (
	"fmt"
	"os"

	"github.com/mrlokans/studysync/internal/cli"
	"github.com/mrlokans/studysync/internal/config"
	"github.com/mrlokans/studysync/internal/entrypoint"
)

// Version information - set at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

type command interface {
	ParseFlags(args []string) error
	Run() error
}

func main() {
	cfg := config.NewConfig()

	// If no arguments or "serve" command, run the local sync engine
	if len(os.Args) < 2 || os.Args[1] == "serve" {
		entrypoint.Run(cfg, Version)
		return
	}

	name := os.Args[1]
	args := os.Args[2:]

	var cmd command
	switch name {
	case "authority":
		entrypoint.RunAuthority(cfg)
		return
	case "sync-once":
		cmd = cli.NewSyncOnceCommand(cfg)
	case "evict":
		cmd = cli.NewEvictCommand(cfg)
	case "dead-letters":
		cmd = cli.NewDeadLettersCommand(cfg)
	case "version":
		fmt.Printf("studysync %s (%s)\n", Version, Commit)
		return
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.ParseFlags(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve         Start the local sync engine and its HTTP API (default if no command given)\n")
	fmt.Fprintf(os.Stderr, "  authority     Start the remote authority backed by Redis\n")
	fmt.Fprintf(os.Stderr, "  sync-once     Deliver queued actions once and exit\n")
	fmt.Fprintf(os.Stderr, "  evict         Remove stale cached quizzes and flashcards\n")
	fmt.Fprintf(os.Stderr, "  dead-letters  List, retry or discard dead-lettered actions\n")
	fmt.Fprintf(os.Stderr, "  version       Print version information\n")
	fmt.Fprintf(os.Stderr, "\nUse '%s <command> -h' for help on a specific command.\n", os.Args[0])
}
