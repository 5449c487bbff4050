package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mrlokans/studysync/internal/config"
	"github.com/mrlokans/studysync/internal/entrypoint"
)

// SyncOnceCommand drains the sync queue once and exits.
type SyncOnceCommand struct {
	DatabasePath string
	RemoteURL    string
	Force        bool
	Timeout      time.Duration

	Out io.Writer
	cfg *config.Config
}

func NewSyncOnceCommand(cfg *config.Config) *SyncOnceCommand {
	return &SyncOnceCommand{cfg: cfg, Out: os.Stdout}
}

func (cmd *SyncOnceCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ContinueOnError)

	fs.StringVar(&cmd.DatabasePath, "db", cmd.cfg.Database.Path, "Path to the local database file")
	fs.StringVar(&cmd.RemoteURL, "remote", cmd.cfg.Remote.BaseURL, "Base URL of the remote authority")
	fs.BoolVar(&cmd.Force, "force", false, "Deliver even if the health probe fails")
	fs.DurationVar(&cmd.Timeout, "timeout", 10*time.Minute, "Give up after this long")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync-once [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Deliver queued study actions to the remote authority until no progress is made.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

func (cmd *SyncOnceCommand) Run() error {
	cfg := *cmd.cfg
	cfg.Database.Path = cmd.DatabasePath
	cfg.Remote.BaseURL = cmd.RemoteURL

	engine, err := entrypoint.NewEngine(&cfg, false)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	if !engine.Prober.Probe(ctx) && !cmd.Force {
		return fmt.Errorf("remote authority %s is unreachable (use -force to try anyway)", cfg.Remote.BaseURL)
	}

	report, err := engine.Coordinator.Drain(ctx)
	fmt.Fprintf(cmd.Out, "Applied:       %d\n", report.Applied)
	fmt.Fprintf(cmd.Out, "Retried:       %d\n", report.Retried)
	fmt.Fprintf(cmd.Out, "Dead-lettered: %d\n", report.DeadLettered)
	fmt.Fprintf(cmd.Out, "Deferred:      %d\n", report.Deferred)
	if err != nil {
		return fmt.Errorf("sync interrupted: %w", err)
	}

	stats, err := engine.Queue.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Out, "Still pending: %d\n", stats.Pending)
	return nil
}
