package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/db"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/gateway"
	"github.com/lherron/fieldsync/internal/queue"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the device database, offline queue and gateway",
	Long: `Performs health checks on the local database, the offline queue and the
gateway connection. Exits 1 when any check fails.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{}, runDoctor),
}

var (
	doctorVerbose bool
	doctorOffline bool
)

const (
	checkOK      = "ok"
	checkWarning = "warning"
	checkError   = "error"
)

type checkResult struct {
	Category string   `json:"category" yaml:"category"`
	Name     string   `json:"name" yaml:"name"`
	Status   string   `json:"status" yaml:"status"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
	Details  []string `json:"details,omitempty" yaml:"details,omitempty"`
}

type doctorReport struct {
	Version       string        `json:"version" yaml:"version"`
	DBPath        string        `json:"db_path" yaml:"db_path"`
	Checks        []checkResult `json:"checks" yaml:"checks"`
	Warnings      int           `json:"warnings" yaml:"warnings"`
	Errors        int           `json:"errors" yaml:"errors"`
	OverallStatus string        `json:"overall_status" yaml:"overall_status"`
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "Verbose output")
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip the gateway check")
}

func runDoctor(app *appctx.App, cmd *cobra.Command, args []string) error {
	report := buildDoctorReport(cmd.Context(), app.Config, !doctorOffline)

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	if r.Format() == render.FormatTable {
		printHumanReport(cmd, report)
	} else {
		rows := make([][]string, 0, len(report.Checks))
		for _, c := range report.Checks {
			rows = append(rows, []string{c.Category, c.Name, c.Status, c.Message})
		}
		if err := r.Render(report, []string{"CATEGORY", "CHECK", "STATUS", "MESSAGE"}, rows); err != nil {
			return err
		}
	}

	if report.Errors > 0 {
		return exitError(ExitGeneral, fmt.Errorf("%d check(s) failed", report.Errors))
	}
	return nil
}

func buildDoctorReport(ctx context.Context, cfg *config.Config, probeGateway bool) *doctorReport {
	if ctx == nil {
		ctx = context.Background()
	}
	report := &doctorReport{
		Version:       Version,
		DBPath:        cfg.DBPath,
		Checks:        []checkResult{},
		OverallStatus: checkOK,
	}

	report.Checks = append(report.Checks, checkDatabaseFile(cfg.DBPath)...)
	if _, err := os.Stat(cfg.DBPath); err == nil {
		database, err := db.Open(cfg.DBPath)
		if err == nil {
			defer database.Close()
			report.Checks = append(report.Checks, checkDatabasePragmas(database)...)
			report.Checks = append(report.Checks, checkMigrations(database)...)
			report.Checks = append(report.Checks, checkQueue(ctx, database, cfg)...)
		} else {
			report.Checks = append(report.Checks, checkResult{
				Category: "Database File",
				Name:     "database_open",
				Status:   checkError,
				Message:  fmt.Sprintf("Failed to open database: %v", err),
			})
		}
	}
	if probeGateway {
		report.Checks = append(report.Checks, checkGateway(ctx, cfg))
	}

	for _, check := range report.Checks {
		switch check.Status {
		case checkWarning:
			report.Warnings++
		case checkError:
			report.Errors++
			report.OverallStatus = checkError
		}
	}
	if report.Warnings > 0 && report.OverallStatus == checkOK {
		report.OverallStatus = checkWarning
	}
	return report
}

func checkDatabaseFile(dbPath string) []checkResult {
	info, err := os.Stat(dbPath)
	if err != nil {
		return []checkResult{{
			Category: "Database File",
			Name:     "db_file_exists",
			Status:   checkError,
			Message:  fmt.Sprintf("Database file not found: %s", dbPath),
			Details:  []string{"Run 'fieldsyncadm init' to create it"},
		}}
	}

	results := []checkResult{{
		Category: "Database File",
		Name:     "db_file_exists",
		Status:   checkOK,
		Message:  fmt.Sprintf("Database file: %s (%.1f MB)", dbPath, float64(info.Size())/(1024*1024)),
	}}

	f, err := os.OpenFile(dbPath, os.O_RDWR, 0)
	if err != nil {
		results = append(results, checkResult{
			Category: "Database File",
			Name:     "db_file_permissions",
			Status:   checkError,
			Message:  fmt.Sprintf("Database file not writable: %v", err),
		})
	} else {
		f.Close()
		results = append(results, checkResult{
			Category: "Database File",
			Name:     "db_file_permissions",
			Status:   checkOK,
			Message:  "Database file is readable and writable",
		})
	}
	return results
}

func checkDatabasePragmas(database *db.DB) []checkResult {
	var results []checkResult

	var journalMode string
	_ = database.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if journalMode == "wal" {
		results = append(results, checkResult{Category: "Database Health", Name: "wal_mode", Status: checkOK, Message: "WAL mode enabled"})
	} else {
		results = append(results, checkResult{
			Category: "Database Health",
			Name:     "wal_mode",
			Status:   checkWarning,
			Message:  fmt.Sprintf("WAL mode not enabled (current: %s)", journalMode),
		})
	}

	// 2 is FULL: every queue commit survives power loss.
	var synchronous int
	_ = database.QueryRow("PRAGMA synchronous").Scan(&synchronous)
	if synchronous >= 2 {
		results = append(results, checkResult{Category: "Database Health", Name: "synchronous", Status: checkOK, Message: "Durable commits (synchronous=FULL)"})
	} else {
		results = append(results, checkResult{
			Category: "Database Health",
			Name:     "synchronous",
			Status:   checkWarning,
			Message:  fmt.Sprintf("Commits may be lost on power failure (synchronous=%d)", synchronous),
		})
	}

	var integrity string
	_ = database.QueryRow("PRAGMA integrity_check").Scan(&integrity)
	if integrity == "ok" {
		results = append(results, checkResult{Category: "Database Health", Name: "integrity_check", Status: checkOK, Message: "Database integrity check passed"})
	} else {
		results = append(results, checkResult{
			Category: "Database Health",
			Name:     "integrity_check",
			Status:   checkError,
			Message:  fmt.Sprintf("Database integrity check failed: %s", integrity),
			Details:  []string{"Database may be corrupted", "Sync pending updates from a backup copy if possible"},
		})
	}
	return results
}

func checkMigrations(database *db.DB) []checkResult {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return []checkResult{{Category: "Schema", Name: "migrations", Status: checkError, Message: err.Error()}}
	}
	if len(pending) > 0 {
		return []checkResult{{
			Category: "Schema",
			Name:     "migrations",
			Status:   checkError,
			Message:  fmt.Sprintf("%d pending migration(s)", len(pending)),
			Details:  append([]string{"Run 'fieldsyncadm migrate'"}, pending...),
		}}
	}
	return []checkResult{{
		Category: "Schema",
		Name:     "migrations",
		Status:   checkOK,
		Message:  fmt.Sprintf("Schema up to date (%d migrations)", len(applied)),
	}}
}

func checkQueue(ctx context.Context, database *db.DB, cfg *config.Config) []checkResult {
	var results []checkResult

	lock, err := queue.AcquireLock(cfg.QueueLockPath())
	switch {
	case errors.Is(err, queue.ErrLocked):
		results = append(results, checkResult{
			Category: "Offline Queue",
			Name:     "queue_lock",
			Status:   checkWarning,
			Message:  "Queue is in use by another fieldsync process",
		})
	case err != nil:
		results = append(results, checkResult{Category: "Offline Queue", Name: "queue_lock", Status: checkError, Message: err.Error()})
	default:
		lock.Release()
		results = append(results, checkResult{Category: "Offline Queue", Name: "queue_lock", Status: checkOK, Message: "Queue lock is free"})
	}

	blob, err := queue.NewSQLitePersister(database, queue.DefaultBlobKey).Load(ctx)
	if err != nil {
		return append(results, checkResult{Category: "Offline Queue", Name: "queue_blob", Status: checkError, Message: err.Error()})
	}
	snap, err := queue.Decode(blob)
	if err != nil {
		return append(results, checkResult{
			Category: "Offline Queue",
			Name:     "queue_blob",
			Status:   checkError,
			Message:  fmt.Sprintf("Queue cannot be read: %v", err),
		})
	}

	results = append(results, checkResult{
		Category: "Offline Queue",
		Name:     "queue_blob",
		Status:   checkOK,
		Message:  fmt.Sprintf("%d pending of %d, %d failed", len(snap.Updates), queue.DefaultCapacity, len(snap.FailedUpdates)),
	})
	if len(snap.Updates) >= queue.DefaultCapacity {
		results = append(results, checkResult{
			Category: "Offline Queue",
			Name:     "queue_capacity",
			Status:   checkWarning,
			Message:  "Queue is full; new updates are refused until it syncs",
		})
	}
	if snap.SyncStatus == domain.SyncStatusError {
		results = append(results, checkResult{
			Category: "Offline Queue",
			Name:     "sync_status",
			Status:   checkWarning,
			Message:  "Last sync ended with failed updates",
			Details:  []string{"Run 'fieldsync retry' to resend them"},
		})
	}
	if snap.SyncStatus == domain.SyncStatusSyncing {
		results = append(results, checkResult{
			Category: "Offline Queue",
			Name:     "sync_status",
			Status:   checkWarning,
			Message:  "A sync is running or was interrupted",
		})
	}
	return results
}

func checkGateway(ctx context.Context, cfg *config.Config) checkResult {
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	client := gateway.NewClient(cfg.GatewayURL, gateway.WithToken(cfg.GatewayToken), gateway.WithTimeout(cfg.RequestTimeout))
	start := time.Now()
	err := client.Health(ctx)
	switch {
	case err == nil:
		return checkResult{
			Category: "Gateway",
			Name:     "gateway_health",
			Status:   checkOK,
			Message:  fmt.Sprintf("%s reachable (%s)", cfg.GatewayURL, time.Since(start).Round(time.Millisecond)),
		}
	case domain.IsAuth(err):
		return checkResult{
			Category: "Gateway",
			Name:     "gateway_health",
			Status:   checkError,
			Message:  fmt.Sprintf("%s rejected the configured token", cfg.GatewayURL),
			Details:  []string{"Set FIELDSYNC_GATEWAY_TOKEN or FIELDSYNC_GATEWAY_TOKEN_FILE"},
		}
	default:
		return checkResult{
			Category: "Gateway",
			Name:     "gateway_health",
			Status:   checkWarning,
			Message:  fmt.Sprintf("%s unreachable; updates stay queued", cfg.GatewayURL),
			Details:  []string{err.Error()},
		}
	}
}

func printHumanReport(cmd *cobra.Command, report *doctorReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fieldsync doctor %s\n\n", report.Version)
	fmt.Fprintf(out, "Database: %s\n\n", report.DBPath)

	categories := []string{"Database File", "Database Health", "Schema", "Offline Queue", "Gateway"}
	for _, category := range categories {
		var checks []checkResult
		for _, check := range report.Checks {
			if check.Category == category {
				checks = append(checks, check)
			}
		}
		if len(checks) == 0 {
			continue
		}

		fmt.Fprintf(out, "%s\n", category)
		for _, check := range checks {
			icon := "✓"
			if check.Status == checkWarning {
				icon = "⚠"
			} else if check.Status == checkError {
				icon = "✗"
			}
			fmt.Fprintf(out, "  %s %s\n", icon, check.Message)

			if doctorVerbose {
				for _, detail := range check.Details {
					fmt.Fprintf(out, "      %s\n", detail)
				}
			}
		}
		fmt.Fprintln(out)
	}

	if report.Errors > 0 {
		fmt.Fprintf(out, "Summary: %d error(s), %d warning(s)\n", report.Errors, report.Warnings)
	} else if report.Warnings > 0 {
		fmt.Fprintf(out, "Summary: %d warning(s)\n", report.Warnings)
	} else {
		fmt.Fprintf(out, "Summary: All checks passed ✓\n")
	}
}
