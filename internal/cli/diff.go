package cli

import (
	"fmt"
	"sort"

	"github.com/lherron/fieldsync/internal/cli/appctx"
	"github.com/lherron/fieldsync/internal/domain"
	"github.com/lherron/fieldsync/internal/ledger"
	"github.com/lherron/fieldsync/internal/milestone"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <component>",
	Short: "Show what pending updates would change on the server",
	Long: `Fetches the component's milestone state from the gateway and prints a
unified diff against the state after the queued updates for that component
are applied, including the resulting percent complete.

The gateway must be reachable.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.WithQueue(), runDiff),
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(app *appctx.App, cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	pending, err := app.Queue.Pending(ctx)
	if err != nil {
		return err
	}
	var mine []domain.QueuedUpdate
	for _, u := range pending {
		if u.TargetID == id {
			mine = append(mine, u)
		}
	}
	if len(mine) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No pending updates for %s.\n", id)
		return nil
	}

	remote, err := newGatewayClient(app).Component(ctx, id)
	if err != nil {
		if domain.IsTransient(err) {
			return exitError(ExitOffline, fmt.Errorf("failed to fetch %s: %w", id, err))
		}
		return fmt.Errorf("failed to fetch %s: %w", id, err)
	}

	reg, err := milestone.LoadRegistry(app.Config.TemplatesPath)
	if err != nil {
		return err
	}
	text, err := stateDiff(remote, mine, reg)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

// stateDiff renders a unified diff of remote's state against remote with
// updates applied. Milestones are listed in template order when the
// template is known, otherwise by name.
func stateDiff(remote *domain.Component, updates []domain.QueuedUpdate, reg *milestone.Registry) (string, error) {
	local := remote.State.Clone()
	for _, u := range updates {
		local[u.MilestoneName] = u.Value
	}

	tpl, tplErr := reg.Get(remote.Template)
	localPercent := remote.PercentComplete
	if tplErr == nil {
		calc := milestone.Calculator{Override: milestone.TerminalOn(ledger.RejectedMilestone)}
		p, err := calc.ComputePercent(tpl, local)
		if err != nil {
			return "", err
		}
		localPercent = p
	}

	names := milestoneOrder(tpl, remote.State, local)
	diff := difflib.UnifiedDiff{
		A:        stateLines(names, remote.State, remote.PercentComplete),
		B:        stateLines(names, local, localPercent),
		FromFile: "remote/" + remote.ID,
		ToFile:   "local/" + remote.ID,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func milestoneOrder(tpl domain.Template, states ...domain.MilestoneState) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range tpl.Milestones {
		names = append(names, m.Name)
		seen[m.Name] = true
	}
	var extra []string
	for _, s := range states {
		for name := range s {
			if !seen[name] {
				extra = append(extra, name)
				seen[name] = true
			}
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func stateLines(names []string, state domain.MilestoneState, percent float64) []string {
	lines := make([]string, 0, len(names)+1)
	for _, name := range names {
		value := "-"
		if v, ok := state[name]; ok {
			value = v.String()
		}
		lines = append(lines, fmt.Sprintf("%s: %s\n", name, value))
	}
	lines = append(lines, fmt.Sprintf("percent_complete: %.2f\n", percent))
	return lines
}
