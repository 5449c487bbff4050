package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mrlokans/studysync/internal/config"
	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
)

// DeadLettersCommand lists, retries or discards dead-lettered queue entries.
type DeadLettersCommand struct {
	DatabasePath string
	Action       string
	IDs          []string

	Out io.Writer
	cfg *config.Config
}

func NewDeadLettersCommand(cfg *config.Config) *DeadLettersCommand {
	return &DeadLettersCommand{cfg: cfg, Out: os.Stdout}
}

func (cmd *DeadLettersCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("dead-letters", flag.ContinueOnError)

	fs.StringVar(&cmd.DatabasePath, "db", cmd.cfg.Database.Path, "Path to the local database file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s dead-letters [options] <list|retry|discard> [id...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Inspect actions the remote authority refused or that ran out of retries.\n\n")
		fmt.Fprintf(os.Stderr, "  list            Show dead-lettered entries (default)\n")
		fmt.Fprintf(os.Stderr, "  retry <id...>   Queue entries for delivery again with a fresh retry budget\n")
		fmt.Fprintf(os.Stderr, "  discard <id...> Drop entries; their local history is kept\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	cmd.Action = "list"
	if len(rest) > 0 {
		cmd.Action, cmd.IDs = rest[0], rest[1:]
	}
	switch cmd.Action {
	case "list":
	case "retry", "discard":
		if len(cmd.IDs) == 0 {
			return fmt.Errorf("%s needs at least one entry id", cmd.Action)
		}
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
	return nil
}

func (cmd *DeadLettersCommand) Run() error {
	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	queue := syncqueue.NewRepository(db.DB)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch cmd.Action {
	case "retry":
		for _, id := range cmd.IDs {
			if err := queue.Requeue(ctx, id); err != nil {
				return fmt.Errorf("retry %s: %w", id, err)
			}
			fmt.Fprintf(cmd.Out, "requeued %s\n", id)
		}
		return nil
	case "discard":
		for _, id := range cmd.IDs {
			if err := queue.Discard(ctx, id); err != nil {
				return fmt.Errorf("discard %s: %w", id, err)
			}
			fmt.Fprintf(cmd.Out, "discarded %s\n", id)
		}
		return nil
	}

	entries, err := queue.ListDeadLettered(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.Out, "No dead-lettered entries")
		return nil
	}

	w := tabwriter.NewWriter(cmd.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tKEY\tRETRIES\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.Kind, e.NaturalKey, e.RetryCount, e.LastError)
	}
	return w.Flush()
}
