package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/spf13/cobra"
)

var templatesAdmCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect milestone templates",
}

var templatesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a milestone template file",
	Long: `Validates every template in a YAML template file: each needs a name,
uniquely named milestones of kind discrete or partial, and weights that sum
to exactly 100.

Without a file, checks FIELDSYNC_TEMPLATES_PATH. Exit code 2 when a template
is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: appctx.WithApp(appctx.Options{}, runTemplatesCheck),
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and configured templates",
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.Options{}, runTemplatesList),
}

func init() {
	rootAdmCmd.AddCommand(templatesAdmCmd)
	templatesAdmCmd.AddCommand(templatesCheckCmd, templatesListCmd)
}

func runTemplatesCheck(app *appctx.App, cmd *cobra.Command, args []string) error {
	path := app.Config.TemplatesPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return exitError(ExitUsage, fmt.Errorf("no template file given (pass a file or set FIELDSYNC_TEMPLATES_PATH)"))
	}

	templates, err := milestone.LoadTemplates(path)
	if err != nil {
		if domain.IsTemplateInvalid(err) {
			return exitError(ExitUsage, err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	for _, tpl := range templates {
		fmt.Fprintf(out, "✓ %s (%d milestones)\n", tpl.Name, len(tpl.Milestones))
	}
	fmt.Fprintf(out, "\n%d template(s) valid in %s\n", len(templates), path)
	return nil
}

func runTemplatesList(app *appctx.App, cmd *cobra.Command, args []string) error {
	reg, err := milestone.LoadRegistry(app.Config.TemplatesPath)
	if err != nil {
		return err
	}

	var templates []domain.Template
	rows := make([][]string, 0)
	for _, name := range reg.Names() {
		tpl, err := reg.Get(name)
		if err != nil {
			return err
		}
		templates = append(templates, tpl)
		names := make([]string, 0, len(tpl.Milestones))
		for _, m := range tpl.Milestones {
			names = append(names, fmt.Sprintf("%s(%d)", m.Name, m.Weight))
		}
		rows = append(rows, []string{tpl.Name, strconv.Itoa(len(tpl.Milestones)), strings.Join(names, " ")})
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	return r.Render(templates, []string{"TEMPLATE", "MILESTONES", "WEIGHTS"}, rows)
}
