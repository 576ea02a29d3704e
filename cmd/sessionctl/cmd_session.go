package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
)

var sessionHwd = &SessionRunner{}

type SessionRunner struct{}

func (r *SessionRunner) showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print the stored data of a session as JSON",
		ArgsUsage: "<session-id>",
		Action:    r.show,
	}
}

func (r *SessionRunner) destroyCmd() *cli.Command {
	return &cli.Command{
		Name:      "destroy",
		Usage:     "Delete a session, waiting for any request holding it",
		ArgsUsage: "<session-id>",
		Action:    r.destroy,
	}
}

func (r *SessionRunner) show(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("show: session id required")
	}

	a, err := openAdmin(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	values, found, err := a.mgr.Inspect(ctx, id)
	if err != nil {
		return fmt.Errorf("show %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("session %s not found", id)
	}

	out, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("show %s: %w", id, err)
	}
	fmt.Fprintln(cmd.Root().Writer, string(out))
	return nil
}

func (r *SessionRunner) destroy(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("destroy: session id required")
	}

	a, err := openAdmin(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	found, err := a.mgr.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("session %s not found", id)
	}
	if err := a.mgr.Destroy(ctx, id); err != nil {
		return fmt.Errorf("destroy %s: %w", id, err)
	}
	fmt.Fprintf(cmd.Root().Writer, "destroyed %s\n", id)
	return nil
}
