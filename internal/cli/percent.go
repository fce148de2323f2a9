package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/ledger"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/lherron/fieldsync/internal/render"
	"github.com/spf13/cobra"
)

var percentCmd = &cobra.Command{
	Use:   "percent milestone=value...",
	Short: "Compute percent complete for a milestone state",
	Long: `Computes the weighted percent complete of a component state against a
milestone template, the same way the gateway scores components. Milestones
not given count as not started.

Examples:
  fieldsync percent --template spool Receive=true Erect=true
  fieldsync percent --template threaded-pipe Fabricate=100 Install=50
  fieldsync percent --template field-weld "Weld Made=true" Rejected=true`,
	RunE: appctx.WithApp(appctx.Options{}, runPercent),
}

var (
	percentTemplate  string
	percentTemplates string
)

func init() {
	rootCmd.AddCommand(percentCmd)
	percentCmd.Flags().StringVarP(&percentTemplate, "template", "t", "", "Template name (required)")
	percentCmd.Flags().StringVar(&percentTemplates, "templates", "", "Extra templates YAML file (overrides FIELDSYNC_TEMPLATES_PATH)")
	_ = percentCmd.MarkFlagRequired("template")
}

// percentReport is the machine-readable form of fieldsync percent
type percentReport struct {
	Template        string                `json:"template" yaml:"template"`
	State           domain.MilestoneState `json:"state" yaml:"state"`
	PercentComplete float64               `json:"percent_complete" yaml:"percent_complete"`
}

func runPercent(app *appctx.App, cmd *cobra.Command, args []string) error {
	path := app.Config.TemplatesPath
	if percentTemplates != "" {
		path = percentTemplates
	}
	reg, err := milestone.LoadRegistry(path)
	if err != nil {
		return exitError(ExitUsage, err)
	}
	tpl, err := reg.Get(percentTemplate)
	if err != nil {
		return exitError(ExitUsage, fmt.Errorf("%w (known: %s)", err, strings.Join(reg.Names(), ", ")))
	}

	state, err := parseState(tpl, args)
	if err != nil {
		return exitError(ExitUsage, err)
	}

	calc := milestone.Calculator{Override: milestone.TerminalOn(ledger.RejectedMilestone)}
	percent, err := calc.ComputePercent(tpl, state)
	if err != nil {
		return err
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(tpl.Milestones))
	for _, m := range tpl.Milestones {
		value, earned := "-", 0.0
		if v, ok := state[m.Name]; ok {
			value = v.String()
			earned, err = milestone.ComputePercent(tpl, domain.MilestoneState{m.Name: v})
			if err != nil {
				return err
			}
		}
		rows = append(rows, []string{m.Name, strconv.Itoa(m.Weight), string(m.Kind), value, render.Percent(earned)})
	}
	headers := []string{"MILESTONE", "WEIGHT", "KIND", "VALUE", "EARNED"}

	report := percentReport{Template: tpl.Name, State: state, PercentComplete: percent}
	if r.Format() != render.FormatTable {
		return r.Render(report, headers, rows)
	}
	if err := r.RenderTable(headers, rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %s complete\n", tpl.Name, render.Percent(percent))
	return nil
}

// parseState reads milestone=value pairs, checking names against tpl
func parseState(tpl domain.Template, args []string) (domain.MilestoneState, error) {
	state := domain.MilestoneState{}
	for _, arg := range args {
		i := strings.LastIndexByte(arg, '=')
		if i <= 0 {
			return nil, fmt.Errorf("expected milestone=value, got %q", arg)
		}
		name, raw := strings.TrimSpace(arg[:i]), strings.TrimSpace(arg[i+1:])
		if _, ok := tpl.Milestone(name); !ok {
			return nil, fmt.Errorf("%q is not a milestone of template %q", name, tpl.Name)
		}
		v, err := domain.ParseValue(raw)
		if err != nil {
			return nil, err
		}
		state[name] = v
	}
	return state, nil
}
