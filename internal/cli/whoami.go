package cli

import (
	"fmt"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the current actor",
	Long:  `Displays the actor that queued updates are attributed to, with the database and gateway in use.`,
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.Options{NeedsActor: true}, runWhoami),
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

type whoamiReport struct {
	Actor      string `json:"actor" yaml:"actor"`
	DBPath     string `json:"db_path" yaml:"db_path"`
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`
	Token      bool   `json:"token_configured" yaml:"token_configured"`
}

func runWhoami(app *appctx.App, cmd *cobra.Command, args []string) error {
	report := whoamiReport{
		Actor:      app.Actor,
		DBPath:     app.Config.DBPath,
		GatewayURL: app.Config.GatewayURL,
		Token:      app.Config.GatewayToken != "",
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	if r.Format() != render.FormatTable {
		return r.Render(report, []string{"ACTOR", "DB", "GATEWAY"},
			[][]string{{report.Actor, report.DBPath, report.GatewayURL}})
	}

	token := "not configured"
	if report.Token {
		token = "configured"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Actor:   %s\n", report.Actor)
	fmt.Fprintf(out, "DB:      %s\n", report.DBPath)
	fmt.Fprintf(out, "Gateway: %s (token %s)\n", report.GatewayURL, token)
	return nil
}
