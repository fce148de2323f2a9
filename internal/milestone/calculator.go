// Package milestone computes weighted percent-complete for tracked components
// and loads the milestone templates those computations run against.
package milestone

import (
	"math"

	"github.com/lherron/fieldsync/internal/domain"
)

// Override reports whether a component's state forces every milestone to be
// treated as satisfied. Rejected or failed items use this so rollups report
// no remaining work for them.
type Override func(state domain.MilestoneState) bool

// Calculator computes percent-complete with an optional terminal override.
// The zero value applies no override.
type Calculator struct {
	Override Override
}

// ComputePercent computes percent-complete without any override.
func ComputePercent(tpl domain.Template, state domain.MilestoneState) (float64, error) {
	return Calculator{}.ComputePercent(tpl, state)
}

// ComputePercent returns the weighted percent-complete of state against tpl,
// rounded to two decimals. Milestones missing from state count as not
// started; state entries the template does not name are ignored.
func (c Calculator) ComputePercent(tpl domain.Template, state domain.MilestoneState) (float64, error) {
	if err := Validate(tpl); err != nil {
		return 0, err
	}
	if c.Override != nil && c.Override(state) {
		return 100, nil
	}

	var total float64
	for _, m := range tpl.Milestones {
		v, ok := state[m.Name]
		if !ok {
			continue
		}
		total += float64(m.Weight) * satisfaction(m.Kind, v)
	}

	return round2(total), nil
}

// satisfaction maps a value onto [0, 1] for the given milestone kind.
func satisfaction(kind domain.MilestoneKind, v domain.Value) float64 {
	switch kind {
	case domain.MilestoneKindDiscrete:
		if v.Bool() {
			return 1
		}
		return 0
	case domain.MilestoneKindPartial:
		p := v.Percent()
		if p <= 0 {
			return 0
		}
		if p >= 100 {
			return 1
		}
		return float64(p) / 100
	default:
		return 0
	}
}

// TerminalOn returns an Override that fires when any of the named milestones
// is satisfied, e.g. TerminalOn("Rejected", "Failed").
func TerminalOn(names ...string) Override {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(state domain.MilestoneState) bool {
		for name := range set {
			if v, ok := state[name]; ok && v.Bool() {
				return true
			}
		}
		return false
	}
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r > 100 {
		return 100
	}
	return r
}
