package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bizdesk/bizdesk/cmd/bizctl/cli"
	"github.com/bizdesk/bizdesk/internal/app"
	"github.com/bizdesk/bizdesk/internal/platform/db"
	"github.com/bizdesk/bizdesk/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	root := cli.NewRootCommand(cli.Deps{
		Out:    os.Stdout,
		Logger: logger,
		Migrations: func(cfg *app.Config) (cli.Migrations, error) {
			return db.NewMigrator(migrations.FS, cfg.PGDSN, logger)
		},
		Queue: func(cfg *app.Config) (cli.Queue, error) {
			return cli.NewJobsCLI(cfg.RedisAddr), nil
		},
		Ledger: func(ctx context.Context, cfg *app.Config) (cli.Ledger, func(), error) {
			pool, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return nil, nil, err
			}
			services := app.NewServices(app.ServiceDeps{Config: cfg, Logger: logger, Pool: pool})
			return services.Ledger, pool.Close, nil
		},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "bizctl:", err)
		os.Exit(1)
	}
}
