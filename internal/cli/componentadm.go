package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/ledger"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/spf13/cobra"
)

var componentAdmCmd = &cobra.Command{
	Use:   "component",
	Short: "Manage components on the milestone ledger",
	Long:  `Commands for registering and inspecting the components tracked by the ledger that fieldsyncd serves.`,
}

var componentAddCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Register a component",
	Long: `Registers a component with an empty milestone state. The template decides
which milestones the component has and how they are weighted. A UUID is
generated when no id is given.

Examples:
  fieldsyncadm component add SP-1042 --template spool --drawing P-101
  fieldsyncadm component add --template field-weld`,
	Args: cobra.MaximumNArgs(1),
	RunE: appctx.WithApp(appctx.Options{NeedsDB: true, NeedsActor: true}, runComponentAdd),
}

var componentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List components",
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runComponentList),
}

var componentShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a component's milestone state",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runComponentShow),
}

var componentHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a component's audit events",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runComponentHistory),
}

var drawingProgressCmd = &cobra.Command{
	Use:   "progress <drawing>",
	Short: "Show the rolled-up progress of a drawing",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runDrawingProgress),
}

var (
	componentTemplate string
	componentDrawing  string
	componentFilter   string
	componentLimit    int
)

func init() {
	rootAdmCmd.AddCommand(componentAdmCmd)
	componentAdmCmd.AddCommand(componentAddCmd, componentListCmd, componentShowCmd, componentHistoryCmd)
	rootAdmCmd.AddCommand(drawingProgressCmd)

	componentAddCmd.Flags().StringVarP(&componentTemplate, "template", "t", "", "Milestone template (required)")
	componentAddCmd.Flags().StringVar(&componentDrawing, "drawing", "", "Drawing the component belongs to")
	_ = componentAddCmd.MarkFlagRequired("template")

	componentListCmd.Flags().StringVar(&componentFilter, "drawing", "", "Only list components of this drawing")
	componentHistoryCmd.Flags().IntVar(&componentLimit, "limit", 50, "Maximum number of events")
}

// openLedger builds a ledger over the app database with the configured templates
func openLedger(app *appctx.App) (*ledger.Ledger, error) {
	reg, err := milestone.LoadRegistry(app.Config.TemplatesPath)
	if err != nil {
		return nil, err
	}
	return ledger.New(app.DB, reg), nil
}

var componentHeaders = []string{"ID", "DRAWING", "TEMPLATE", "PERCENT", "ETAG", "UPDATED"}

func componentRows(comps []domain.Component) [][]string {
	rows := make([][]string, 0, len(comps))
	for _, c := range comps {
		rows = append(rows, []string{
			c.ID,
			c.DrawingID,
			c.Template,
			render.Percent(c.PercentComplete),
			strconv.FormatInt(c.ETag, 10),
			render.Timestamp(c.UpdatedAt),
		})
	}
	return rows
}

func runComponentAdd(app *appctx.App, cmd *cobra.Command, args []string) error {
	l, err := openLedger(app)
	if err != nil {
		return err
	}
	params := ledger.RegisterParams{DrawingID: componentDrawing, Template: componentTemplate}
	if len(args) == 1 {
		params.ID = args[0]
	}

	comp, err := l.RegisterComponent(cmd.Context(), app.Actor, params)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) || errors.Is(err, ledger.ErrComponentExists) {
			return exitError(ExitUsage, err)
		}
		return err
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	if r.Format() == render.FormatTable {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Registered %s (%s)\n", comp.ID, comp.Template)
		return nil
	}
	return r.Render(comp, componentHeaders, componentRows([]domain.Component{*comp}))
}

func runComponentList(app *appctx.App, cmd *cobra.Command, args []string) error {
	l, err := openLedger(app)
	if err != nil {
		return err
	}
	comps, err := l.Components(cmd.Context(), componentFilter)
	if err != nil {
		return err
	}
	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	return r.Render(comps, componentHeaders, componentRows(comps))
}

func runComponentShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	l, err := openLedger(app)
	if err != nil {
		return err
	}
	comp, err := l.Component(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	tpl, err := l.Templates().Get(comp.Template)
	if err != nil {
		return err
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(tpl.Milestones))
	for _, m := range tpl.Milestones {
		value := "-"
		if v, ok := comp.State[m.Name]; ok {
			value = v.String()
		}
		rows = append(rows, []string{m.Name, strconv.Itoa(m.Weight), value})
	}
	headers := []string{"MILESTONE", "WEIGHT", "VALUE"}
	if r.Format() != render.FormatTable {
		return r.Render(comp, headers, rows)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s  %s complete\n\n", comp.ID, comp.Template, render.Percent(comp.PercentComplete))
	return r.RenderTable(headers, rows)
}

func runComponentHistory(app *appctx.App, cmd *cobra.Command, args []string) error {
	l, err := openLedger(app)
	if err != nil {
		return err
	}
	if _, err := l.Component(cmd.Context(), args[0]); err != nil {
		return err
	}
	evs, err := l.History(cmd.Context(), args[0], componentLimit)
	if err != nil {
		return err
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(evs))
	for _, ev := range evs {
		actor, payload := "-", ""
		if ev.ActorID != nil {
			actor = *ev.ActorID
		}
		if ev.Payload != nil {
			payload = *ev.Payload
		}
		rows = append(rows, []string{strconv.FormatInt(ev.ID, 10), render.Timestamp(ev.Timestamp), actor, ev.EventType, payload})
	}
	return r.Render(evs, []string{"ID", "TIME", "ACTOR", "EVENT", "PAYLOAD"}, rows)
}

func runDrawingProgress(app *appctx.App, cmd *cobra.Command, args []string) error {
	l, err := openLedger(app)
	if err != nil {
		return err
	}
	rollup, err := l.DrawingProgress(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	return r.Render(rollup,
		[]string{"DRAWING", "COMPONENTS", "COMPLETE", "PERCENT"},
		[][]string{{rollup.DrawingID, strconv.Itoa(rollup.Components), strconv.Itoa(rollup.Complete), render.Percent(rollup.PercentComplete)}})
}
