// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, database opening, queue setup and actor
// resolution to reduce boilerplate across commands.
package appctx

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/db"
	"github.com/lherron/fieldsync/internal/queue"
	"github.com/spf13/cobra"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration
	Config *config.Config

	// DB is the opened database connection (nil if NeedsDB is false)
	DB *db.DB

	// Queue is the offline queue (nil if NeedsQueue is false)
	Queue *queue.Store

	// Actor is the actor recorded on new updates (empty if NeedsActor is false)
	Actor string

	// Logger writes structured diagnostics to stderr at the configured level
	Logger *slog.Logger
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB indicates whether to open the database.
	NeedsDB bool

	// NeedsQueue opens the offline queue. Every queue operation holds the
	// queue's lock file, so concurrent fieldsync processes stay consistent.
	// Implies NeedsDB.
	NeedsQueue bool

	// NeedsActor indicates whether to resolve the current actor.
	NeedsActor bool
}

// DefaultOptions returns default options (DB required, no queue, no actor).
func DefaultOptions() Options {
	return Options{NeedsDB: true}
}

// WithQueue returns options that open the offline queue.
func WithQueue() Options {
	return Options{NeedsDB: true, NeedsQueue: true}
}

// WithActor returns options that require the queue and an actor.
func WithActor() Options {
	return Options{NeedsDB: true, NeedsQueue: true, NeedsActor: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// It loads config, opens the database, and optionally opens the queue and
// resolves the actor. The database is closed when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	app := &App{}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	// Override DB path from --db flag if provided
	if dbFlag := cmd.Flag("db"); dbFlag != nil {
		if dbPath := dbFlag.Value.String(); dbPath != "" {
			app.Config.DBPath = dbPath
		}
	}
	if outFlag := cmd.Flag("output"); outFlag != nil && outFlag.Changed {
		app.Config.Output = outFlag.Value.String()
	}

	app.Logger = NewLogger(cfg)

	if opts.NeedsQueue {
		opts.NeedsDB = true
	}

	if opts.NeedsDB {
		database, err := db.Open(app.Config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Check for pending migrations
		_, pending, err := database.MigrationStatus()
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to check migration status: %w", err)
		}
		if len(pending) > 0 {
			database.Close()
			return nil, fmt.Errorf("database requires migration: %d pending migration(s). Run 'fieldsyncadm migrate' to update", len(pending))
		}

		app.DB = database
	}

	if opts.NeedsQueue {
		app.Queue = queue.New(
			queue.NewSQLitePersister(app.DB, queue.DefaultBlobKey),
			queue.WithLockFile(app.Config.QueueLockPath()),
		)
	}

	if opts.NeedsActor {
		actor, err := resolveActor(app.Config, cmd)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Actor = actor
	}

	return app, nil
}

// NewLogger returns a text logger on stderr at the configured level
func NewLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// resolveActor resolves the current actor from the --as flag, env, or config.
func resolveActor(cfg *config.Config, cmd *cobra.Command) (string, error) {
	if asFlag := cmd.Flag("as"); asFlag != nil {
		if actor := asFlag.Value.String(); actor != "" {
			return actor, nil
		}
	}
	if actor := cfg.ActorID(); actor != "" {
		return actor, nil
	}
	return "", fmt.Errorf("no actor configured (set FIELDSYNC_ACTOR, actor in config.yaml, or use --as flag)")
}
