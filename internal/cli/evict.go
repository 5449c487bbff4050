package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mrlokans/studysync/internal/config"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/entrypoint"
)

// EvictCommand removes stale cached content.
type EvictCommand struct {
	DatabasePath string
	Kind         string
	MaxAge       time.Duration

	Out io.Writer
	cfg *config.Config
}

func NewEvictCommand(cfg *config.Config) *EvictCommand {
	return &EvictCommand{cfg: cfg, Out: os.Stdout}
}

func (cmd *EvictCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("evict", flag.ContinueOnError)

	fs.StringVar(&cmd.DatabasePath, "db", cmd.cfg.Database.Path, "Path to the local database file")
	fs.StringVar(&cmd.Kind, "kind", "", "Only evict this kind (quiz or flashcard)")
	fs.DurationVar(&cmd.MaxAge, "max-age", 0, "Override the configured maximum age (requires -kind)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s evict [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Delete cached quizzes and flashcards older than their maximum age.\n")
		fmt.Fprintf(os.Stderr, "Queued actions are never touched.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s evict\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s evict -kind flashcard -max-age 48h\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.Kind != "" && !entities.ContentKind(cmd.Kind).Valid() {
		return fmt.Errorf("unknown kind %q", cmd.Kind)
	}
	if cmd.MaxAge != 0 && cmd.Kind == "" {
		return fmt.Errorf("-max-age requires -kind")
	}
	return nil
}

func (cmd *EvictCommand) Run() error {
	cfg := *cmd.cfg
	cfg.Database.Path = cmd.DatabasePath

	engine, err := entrypoint.NewEngine(&cfg, false)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if cmd.Kind != "" {
		kind := entities.ContentKind(cmd.Kind)
		maxAge := cmd.MaxAge
		if maxAge == 0 {
			maxAge = engine.Freshness.MaxAge(kind)
		}
		n, err := engine.Freshness.EvictOlderThan(ctx, kind, maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.Out, "%s: %d evicted\n", kind, n)
		return nil
	}

	counts, err := engine.Freshness.EvictAll(ctx)
	if err != nil {
		return err
	}
	for _, kind := range entities.ContentKinds {
		fmt.Fprintf(cmd.Out, "%s: %d evicted\n", kind, counts[kind])
	}
	return nil
}
