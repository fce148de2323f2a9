package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/lherron/fieldsync/internal/config"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/spf13/cobra"
)

var configAdmCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management and introspection",
	Long:  `Commands for inspecting and validating configuration. These are administrative operations.`,
}

var configDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Show effective configuration and validate settings",
	Long: `Displays the effective configuration values and their sources, and validates
that the database, templates and gateway credentials are usable.`,
	Args: cobra.NoArgs,
	RunE: runConfigDoctor,
}

var configDoctorJSON bool

type configValue struct {
	Value  string `json:"value"`
	Source string `json:"source"`
	Valid  bool   `json:"valid"`
	Note   string `json:"note,omitempty"`
}

type configDoctorReport struct {
	Config   map[string]configValue `json:"config"`
	Warnings []string               `json:"warnings"`
}

func init() {
	rootAdmCmd.AddCommand(configAdmCmd)
	configAdmCmd.AddCommand(configDoctorCmd)

	configDoctorCmd.Flags().BoolVar(&configDoctorJSON, "json", false, "Output as JSON")
}

// envSource names the environment variable that set a value, or fallback
func envSource(fallback string, vars ...string) string {
	for _, v := range vars {
		if os.Getenv(v) != "" {
			return "environment variable " + v
		}
	}
	return fallback
}

func runConfigDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dbFlag := cmd.Flag("db"); dbFlag != nil && dbFlag.Changed {
		cfg.DBPath = dbFlag.Value.String()
	}

	report := buildConfigReport(cmd, cfg)

	if configDoctorJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration Report")
	fmt.Fprintln(out, "====================")
	fmt.Fprintln(out)

	keys := make([]string, 0, len(report.Config))
	for k := range report.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := report.Config[k]
		fmt.Fprintf(out, "%s: %s\n", k, v.Value)
		fmt.Fprintf(out, "    Source: %s\n", v.Source)
		if v.Valid {
			fmt.Fprintln(out, "    Status: ✓ Valid")
		} else {
			fmt.Fprintf(out, "    Status: ✗ %s\n", v.Note)
		}
	}
	fmt.Fprintln(out)

	if len(report.Warnings) > 0 {
		fmt.Fprintln(out, "Warnings:")
		for _, warning := range report.Warnings {
			fmt.Fprintf(out, "  ⚠  %s\n", warning)
		}
	} else {
		fmt.Fprintln(out, "✓ No warnings")
	}
	return nil
}

func buildConfigReport(cmd *cobra.Command, cfg *config.Config) *configDoctorReport {
	report := &configDoctorReport{
		Config:   make(map[string]configValue),
		Warnings: []string{},
	}

	dbSource := envSource("default", "FIELDSYNC_DB_PATH", "FIELDSYNC_DB_PATH_FILE")
	if dbFlag := cmd.Flag("db"); dbFlag != nil && dbFlag.Changed {
		dbSource = "command-line flag --db"
	}
	dbValue := configValue{Value: cfg.DBPath, Source: dbSource, Valid: true}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		dbValue.Valid = false
		dbValue.Note = "File does not exist"
		report.Warnings = append(report.Warnings, "Database file does not exist - run 'fieldsyncadm init' to create it")
	}
	report.Config["db_path"] = dbValue

	report.Config["gateway_url"] = configValue{
		Value:  cfg.GatewayURL,
		Source: envSource("default", "FIELDSYNC_GATEWAY_URL"),
		Valid:  cfg.GatewayURL != "",
	}

	token := configValue{Value: "(not set)", Source: envSource("config file", "FIELDSYNC_GATEWAY_TOKEN", "FIELDSYNC_GATEWAY_TOKEN_FILE")}
	if cfg.GatewayToken != "" {
		token.Value = "(redacted)"
		token.Valid = true
	} else {
		token.Note = "Not configured"
		report.Warnings = append(report.Warnings, "No gateway token - sync will fail with an auth error")
	}
	report.Config["gateway_token"] = token

	actorFallback := "environment variable USER"
	if cfg.Actor != "" {
		actorFallback = "config file"
	}
	actor := configValue{Value: cfg.ActorID(), Source: envSource(actorFallback, "FIELDSYNC_ACTOR"), Valid: true}
	if actor.Value == "" {
		actor.Value = "(not set)"
		actor.Valid = false
		actor.Note = "Not configured"
		report.Warnings = append(report.Warnings, "No actor configured - set FIELDSYNC_ACTOR or use --as flag")
	}
	report.Config["actor"] = actor

	templates := configValue{Value: "(built-in)", Source: envSource("default", "FIELDSYNC_TEMPLATES_PATH"), Valid: true}
	if cfg.TemplatesPath != "" {
		templates.Value = cfg.TemplatesPath
	}
	if reg, err := milestone.LoadRegistry(cfg.TemplatesPath); err != nil {
		templates.Valid = false
		templates.Note = err.Error()
		report.Warnings = append(report.Warnings, "Templates file is invalid - run 'fieldsyncadm templates check'")
	} else {
		templates.Note = fmt.Sprintf("%d templates", len(reg.Names()))
	}
	report.Config["templates_path"] = templates

	report.Config["log_level"] = configValue{Value: cfg.LogLevel, Source: envSource("default", "FIELDSYNC_LOG_LEVEL"), Valid: true}
	report.Config["request_timeout"] = configValue{Value: cfg.RequestTimeout.String(), Source: envSource("default", "FIELDSYNC_REQUEST_TIMEOUT"), Valid: true}
	report.Config["probe_interval"] = configValue{Value: cfg.ProbeInterval.String(), Source: envSource("default", "FIELDSYNC_PROBE_INTERVAL"), Valid: true}

	return report
}
