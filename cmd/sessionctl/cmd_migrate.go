package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/whisper/sessiond/internal/store/pgstore"
)

var migrateHwd = &MigrateRunner{}

type MigrateRunner struct{}

func (r *MigrateRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply the postgres session schema migrations",
		Action: r.run,
	}
}

func (r *MigrateRunner) run(_ context.Context, cmd *cli.Command) error {
	dsn := cmd.String("database-url")
	if dsn == "" {
		return errors.New("migrate: --database-url or DATABASE_URL required")
	}
	if err := pgstore.Migrate(dsn); err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, "schema up to date")
	return nil
}
