package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"sheetledger/internal/app"
	"sheetledger/internal/config"
	"sheetledger/internal/infrastructure"
	"sheetledger/internal/middleware"
	"sheetledger/internal/store"
	contracts "sheetledger/pkg/contracts"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		slog.Error("ledgerworker failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "ledgerworker",
		Usage:   "Google Sheets revenue ledger worker",
		Version: contracts.GetFullVersionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars(config.EnvPrefix + "_CONFIG_FILE"),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Consume operations and serve HTTP until interrupted",
				Action: func(ctx context.Context, c *cli.Command) error {
					return serve(ctx, c.String("config"))
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply store migrations and exit",
				Action: func(ctx context.Context, c *cli.Command) error {
					return migrate(ctx, c.String("config"))
				},
			},
			{
				Name:  "token",
				Usage: "Issue a bearer token for a marketplace user",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "user", Usage: "user id placed in the subject claim", Required: true},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour, Usage: "token lifetime"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return issueToken(c, c.String("config"), c.Int64("user"), c.Duration("ttl"))
				},
			},
		},
	}
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer infrastructure.CloseLogFile()

	return application.Run(ctx)
}

func migrate(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer infrastructure.CloseLogFile()

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("store migrated", slog.String("driver", cfg.Store.Driver))
	return nil
}

func issueToken(c *cli.Command, path string, userID int64, ttl time.Duration) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	auth, err := middleware.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, nil)
	if err != nil {
		return err
	}
	token, err := auth.Sign(userID, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.Root().Writer, token)
	return err
}
