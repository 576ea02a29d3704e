package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/whisper/sessiond/internal/store"
)

var gcHwd = &GCRunner{}

type GCRunner struct{}

func (r *GCRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "gc",
		Usage:  "Remove expired sessions once",
		Action: r.run,
	}
}

func (r *GCRunner) run(ctx context.Context, cmd *cli.Command) error {
	a, err := openAdmin(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	collector, ok := a.svc.Collector()
	if !ok {
		fmt.Fprintf(cmd.Root().Writer, "%s backend expires sessions itself, nothing to do\n", cmd.String("backend"))
		return nil
	}

	removed, err := store.RunGC(ctx, collector)
	if err != nil {
		return fmt.Errorf("gc: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "removed %d expired session(s)\n", removed)
	return nil
}
