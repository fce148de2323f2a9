package cli

import (
	"fmt"
	"os"

	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/db"
	"github.com/lherron/fieldsync/internal/queue"
	"github.com/spf13/cobra"
)

var initAdmCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the fieldsync database",
	Long: `Initialize creates the SQLite database, runs migrations, and writes an
empty offline queue. Running it against an existing database only applies
pending migrations.

With --local the database is created at .fieldsync/fieldsync.db in the current
directory, which fieldsync picks up automatically when run from here.`,
	Args: cobra.NoArgs,
	RunE: runInitAdm,
}

var initAdmLocal bool

func init() {
	rootAdmCmd.AddCommand(initAdmCmd)
	initAdmCmd.Flags().BoolVar(&initAdmLocal, "local", false, "Create a project-local database in .fieldsync/")
}

func runInitAdm(cmd *cobra.Command, args []string) error {
	cfg, err := loadAdmConfig(cmd)
	if err != nil {
		return err
	}
	if initAdmLocal && cmd.Flag("db").Value.String() == "" {
		cfg.DBPath = config.LocalDBPath
	}

	dbExists := false
	if _, err := os.Stat(cfg.DBPath); err == nil {
		dbExists = true
	}

	database, err := db.OpenMigrated(cfg.DBPath)
	if err != nil {
		return exitError(ExitGeneral, fmt.Errorf("failed to initialize database: %w", err))
	}
	defer database.Close()

	q := queue.New(queue.NewSQLitePersister(database, queue.DefaultBlobKey), queue.WithLockFile(cfg.QueueLockPath()))
	if !dbExists {
		// Saving the empty snapshot pins the blob at the current layout version.
		if err := q.Clear(cmd.Context()); err != nil {
			return exitError(ExitGeneral, fmt.Errorf("failed to initialize queue: %w", err))
		}
	}

	out := cmd.OutOrStdout()
	if dbExists {
		fmt.Fprintf(out, "✓ Database at %s is up to date\n", cfg.DBPath)
	} else {
		fmt.Fprintf(out, "✓ Initialized database at %s\n", cfg.DBPath)
	}
	fmt.Fprintf(out, "  queue capacity: %d updates (failed list keeps %d)\n", q.Capacity(), queue.DefaultFailedCapacity)
	return nil
}
