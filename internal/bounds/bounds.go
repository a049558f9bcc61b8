// Package bounds resolves the search box and the acceptable constraint
// ranges for one optimization run under a named limit profile.
package bounds

import (
	"context"
	"math"

	apperrors "github.com/copyleftdev/setpoint/internal/errors"
	"github.com/copyleftdev/setpoint/internal/plant"
)

// Range is an inclusive [Lo, Hi] interval.
type Range = plant.Range

// Profile names.
const (
	Operating = "operating"
	Safety    = "safety"
)

// Origin records which rule produced a resolved range.
type Origin string

const (
	FromOverride  Origin = "override"
	FromProfile   Origin = "profile"
	FromEmpirical Origin = "empirical"
	FromHard      Origin = "hard"
)

// Empirical widening factors applied to the observed min and max.
const (
	EmpiricalLow  = 0.9
	EmpiricalHigh = 1.1
)

// Profile holds explicit ranges keyed by variable name.
type Profile struct {
	Name   string
	Ranges map[string]Range
}

// Override is a user-supplied range that beats every other rule.
type Override struct {
	Variable string  `json:"variable"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Source supplies the externally maintained operating limits.
type Source interface {
	OperatingLimits(ctx context.Context) ([]plant.Limit, error)
}

// Static is a fixed limit table, typically loaded from the plant file.
type Static []plant.Limit

// OperatingLimits implements Source.
func (s Static) OperatingLimits(context.Context) ([]plant.Limit, error) {
	return []plant.Limit(s), nil
}

// canonical maps a name or telemetry path to the variable name.
func canonical(key string) (string, bool) {
	if c, ok := plant.ControlByKey(key); ok {
		return c.String(), true
	}
	if k, ok := plant.ConstraintByKey(key); ok {
		return k.String(), true
	}
	return "", false
}

// OperatingProfile builds the operating profile. Every constraint starts at
// its declared operating range; configured limits replace those and may add
// control entries. Controls without an entry resolve empirically.
func OperatingProfile(limits []plant.Limit) (Profile, error) {
	p := Profile{Name: Operating, Ranges: make(map[string]Range, plant.NumConstraints+len(limits))}
	for _, k := range plant.Constraints() {
		p.Ranges[k.String()] = k.Spec().Operating
	}
	for _, l := range limits {
		name, ok := canonical(l.Key)
		if !ok {
			return Profile{}, apperrors.Errorf(apperrors.KindInvalidRequest, "operating limit for unknown variable %q", l.Key)
		}
		p.Ranges[name] = Range{Lo: l.Low, Hi: l.High}
	}
	return p, nil
}

// SafetyProfile is the widest permissible envelope. It has an explicit entry
// for every variable, so it never depends on recent history.
func SafetyProfile() Profile {
	p := Profile{Name: Safety, Ranges: make(map[string]Range, plant.NumControls+plant.NumConstraints)}
	for _, c := range plant.Controls() {
		p.Ranges[c.String()] = c.Spec().Hard
	}
	for _, k := range plant.Constraints() {
		p.Ranges[k.String()] = k.Spec().Safety
	}
	return p
}

// Resolved is the outcome of bound resolution for one run.
type Resolved struct {
	Profile     string
	Controls    [plant.NumControls]Range
	Constraints [plant.NumConstraints]Range
	Origins     map[string]Origin
}

// Map returns every resolved range keyed by variable name.
func (r Resolved) Map() map[string]Range {
	m := make(map[string]Range, plant.NumControls+plant.NumConstraints)
	for i, rg := range r.Controls {
		m[plant.Control(i).String()] = rg
	}
	for i, rg := range r.Constraints {
		m[plant.Constraint(i).String()] = rg
	}
	return m
}

// Resolve computes every range for profile p.
//
// Controls: override, then profile entry, then [min*0.9, max*1.1] over
// window, then the hard range. Constraints: override, then profile entry,
// then the hard range. Control ranges are intersected with the hard range.
// Any range with lo >= hi fails with KindBoundDegenerate.
func Resolve(p Profile, overrides []Override, window []plant.Snapshot) (Resolved, error) {
	byName := make(map[string]Range, len(overrides))
	for _, o := range overrides {
		name, ok := canonical(o.Variable)
		if !ok {
			return Resolved{}, apperrors.Errorf(apperrors.KindInvalidRequest, "override for unknown variable %q", o.Variable)
		}
		byName[name] = Range{Lo: o.Min, Hi: o.Max}
	}

	r := Resolved{Profile: p.Name, Origins: make(map[string]Origin, plant.NumControls+plant.NumConstraints)}

	for _, c := range plant.Controls() {
		name := c.String()
		hard := c.Spec().Hard
		rg, origin := hard, FromHard
		if o, ok := byName[name]; ok {
			rg, origin = o, FromOverride
		} else if e, ok := p.Ranges[name]; ok {
			rg, origin = e, FromProfile
		} else if e, ok := empirical(window, c); ok {
			rg, origin = e, FromEmpirical
		}
		rg = Range{Lo: math.Max(rg.Lo, hard.Lo), Hi: math.Min(rg.Hi, hard.Hi)}
		if !rg.Valid() {
			return Resolved{}, degenerate(p.Name, name, rg, origin)
		}
		r.Controls[c] = rg
		r.Origins[name] = origin
	}

	for _, k := range plant.Constraints() {
		name := k.String()
		rg, origin := k.Spec().Hard, FromHard
		if o, ok := byName[name]; ok {
			rg, origin = o, FromOverride
		} else if e, ok := p.Ranges[name]; ok {
			rg, origin = e, FromProfile
		}
		if !rg.Valid() {
			return Resolved{}, degenerate(p.Name, name, rg, origin)
		}
		r.Constraints[k] = rg
		r.Origins[name] = origin
	}
	return r, nil
}

func empirical(window []plant.Snapshot, c plant.Control) (Range, bool) {
	if len(window) == 0 {
		return Range{}, false
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range window {
		v := s.Controls[c]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return Range{Lo: lo * EmpiricalLow, Hi: hi * EmpiricalHigh}, true
}

func degenerate(profile, variable string, rg Range, origin Origin) error {
	return apperrors.Errorf(apperrors.KindBoundDegenerate,
		"%s bound for %s is degenerate: %s from %s", profile, variable, rg, origin).
		WithComponent("bounds")
}
