package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/whisper/sessiond/internal/config"
	"github.com/whisper/sessiond/internal/messaging"
	"github.com/whisper/sessiond/internal/session"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Printf("sessionctl: %v", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	def := config.DefaultConfig()

	return &cli.Command{
		Name:  "sessionctl",
		Usage: "Inspect and maintain sessiond session storage",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Value: def.Backend, Usage: "memory, redis, bolt or postgres", Sources: cli.EnvVars("SESSION_BACKEND")},
			&cli.StringFlag{Name: "redis-addr", Value: def.RedisAddr, Sources: cli.EnvVars("REDIS_ADDR")},
			&cli.StringFlag{Name: "bolt-path", Value: def.BoltPath, Sources: cli.EnvVars("BOLT_PATH")},
			&cli.StringFlag{Name: "database-url", Usage: "postgres DSN", Sources: cli.EnvVars("DATABASE_URL")},
			&cli.StringFlag{Name: "codec", Value: def.Codec, Usage: "json or cbor", Sources: cli.EnvVars("SESSION_CODEC")},
			&cli.StringFlag{Name: "nats-url", Usage: "publish and watch lifecycle events", Sources: cli.EnvVars("NATS_URL")},
		},
		Commands: []*cli.Command{
			sessionHwd.showCmd(),
			sessionHwd.destroyCmd(),
			gcHwd.cmd(),
			migrateHwd.cmd(),
			watchHwd.cmd(),
		},
	}
}

// configFrom builds the storage configuration from the root flags.
func configFrom(cmd *cli.Command) config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = cmd.String("backend")
	cfg.RedisAddr = cmd.String("redis-addr")
	cfg.BoltPath = cmd.String("bolt-path")
	cfg.DatabaseURL = cmd.String("database-url")
	cfg.Codec = cmd.String("codec")
	cfg.NATSURL = cmd.String("nats-url")
	return cfg
}

// admin bundles what the storage commands need and how to release it.
type admin struct {
	svc  *config.Services
	mgr  *session.Manager
	nats *messaging.NATSClient
}

func openAdmin(cmd *cli.Command) (*admin, error) {
	cfg := configFrom(cmd)

	svc, err := config.Open(cfg)
	if err != nil {
		return nil, err
	}
	a := &admin{svc: svc}

	mc := session.ManagerConfig{
		Backend:    svc.Backend,
		Serializer: svc.Serializer,
		Locker:     svc.Locker,
	}
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "sessionctl"
		a.nats, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			svc.Close()
			return nil, err
		}
		mc.Notifier = a.nats
	}

	a.mgr, err = session.NewManager(mc)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *admin) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if err := a.svc.Close(); err != nil {
		log.Printf("sessionctl: close storage: %v", err)
	}
}
