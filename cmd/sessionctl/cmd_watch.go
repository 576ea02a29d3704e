package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/whisper/sessiond/internal/messaging"
	"github.com/whisper/sessiond/internal/session"
)

var watchHwd = &WatchRunner{}

type WatchRunner struct{}

func (r *WatchRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Stream session lifecycle events from NATS until interrupted",
		Action: r.run,
	}
}

func (r *WatchRunner) run(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("nats-url")
	if url == "" {
		return errors.New("watch: --nats-url or NATS_URL required")
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = url
	natsConfig.Name = "sessionctl-watch"
	client, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.Root().Writer
	err = client.SubscribeSessionEvents(func(ev session.Event) {
		fmt.Fprintln(out, formatEvent(ev))
	})
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-signalCh:
	case <-ctx.Done():
	}
	return nil
}

func formatEvent(ev session.Event) string {
	ts := time.Unix(ev.Ts, 0).UTC().Format(time.RFC3339)
	switch ev.Type {
	case session.EventRegenerated:
		return fmt.Sprintf("%s %-11s %s (was %s)", ts, ev.Type, ev.SessionID, ev.OldSessionID)
	case session.EventStarted:
		state := "resumed"
		if ev.New {
			state = "new"
		}
		return fmt.Sprintf("%s %-11s %s (%s)", ts, ev.Type, ev.SessionID, state)
	default:
		return fmt.Sprintf("%s %-11s %s", ts, ev.Type, ev.SessionID)
	}
}
