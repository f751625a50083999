// Command blingsync-admin runs operational tasks against the blingsync
// database: migrations, development seeding, and tenant credential
// provisioning.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/setalabs/blingsync/internal/bootstrap"
	"github.com/setalabs/blingsync/internal/data"
	"github.com/setalabs/blingsync/internal/devseed"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
}

const commandTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmdName)
		printUsage()
		os.Exit(2)
	}

	cmdCtx := &commandContext{Ctx: context.Background(), Logger: logger}
	if err := cmd.run(cmdCtx, os.Args[2:]); err != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", err)
		os.Exit(1)
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run migrations and seed development tenants",
			run:         runDBSeed,
		},
		"set-credentials": {
			name:        "set-credentials",
			description: "Store or replace a tenant's Bling refresh token",
			run:         runSetCredentials,
		},
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, "Usage: blingsync-admin <command> [flags]\n\n")
	fmt.Fprintf(os.Stdout, "Available commands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(os.Stdout, "  %-18s %s\n", cmd.name, cmd.description)
	}
}

// withDB loads config, connects the database, and runs fn with a bounded,
// signal-aware context.
func withDB(cmdCtx *commandContext, fn func(ctx context.Context, db *sql.DB) error) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(cfg.Postgres, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	return fn(ctx, db)
}

func runMigrate(cmdCtx *commandContext, _ []string) error {
	return withDB(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if err := bootstrap.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runDBSeed(cmdCtx *commandContext, _ []string) error {
	return withDB(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		if err := bootstrap.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return devseed.Run(ctx, db, cmdCtx.Logger)
	})
}

func runSetCredentials(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("set-credentials", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant ID (required)")
	token := fs.String("refresh-token", "", "Bling refresh token (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *token == "" {
		return fmt.Errorf("both -tenant and -refresh-token are required")
	}

	return withDB(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		creds := data.NewCredentialRepo(db)
		if err := creds.UpsertRefreshToken(ctx, *tenantID, *token); err != nil {
			return err
		}
		cmdCtx.Logger.Info("tenant credentials stored", "tenant_id", *tenantID)
		return nil
	})
}
