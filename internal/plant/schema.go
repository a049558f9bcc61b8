// Package plant declares the process variables of the kiln line, their
// telemetry paths and hard safety ranges, and the snapshot type every other
// package consumes.
package plant

import (
	"fmt"
	"math"
	"strings"
)

// Range is a closed interval [Lo, Hi].
type Range struct {
	Lo float64 `json:"min" yaml:"min"`
	Hi float64 `json:"max" yaml:"max"`
}

// Valid reports whether the range is finite and non-degenerate.
func (r Range) Valid() bool {
	return !math.IsNaN(r.Lo) && !math.IsNaN(r.Hi) &&
		!math.IsInf(r.Lo, 0) && !math.IsInf(r.Hi, 0) && r.Lo < r.Hi
}

// Contains reports whether v lies inside the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Lo && v <= r.Hi
}

// Clamp limits v to the range. NaN maps to the lower bound.
func (r Range) Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < r.Lo:
		return r.Lo
	case v > r.Hi:
		return r.Hi
	}
	return v
}

// Excess is how far v lies outside the range, zero when inside.
func (r Range) Excess(v float64) float64 {
	return math.Max(0, math.Max(r.Lo-v, v-r.Hi))
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Lo, r.Hi)
}

// Severity classifies how hard a constraint violation is penalized.
type Severity string

const (
	Critical    Severity = "critical"
	Operational Severity = "operational"
)

// Variable describes one declared process variable.
type Variable struct {
	Name string
	Path string
	Unit string
	Hard Range
}

// ConstraintVariable adds the penalty and limit metadata of a constraint.
type ConstraintVariable struct {
	Variable
	Severity Severity
	// Scale normalizes a violation to "one unit of concern".
	Scale float64
	// Safety is the widest range the safety profile tolerates.
	Safety Range
	// Operating is used when no operating limit is configured for the variable.
	Operating Range
}

// Control indexes the manipulated variables.
type Control int

const (
	TradFuel Control = iota
	AltFuel
	FeedRate
	KilnSpeed
	FanSpeed
	MixRatio
)

// NumControls is the length of a ControlVector.
const NumControls = int(MixRatio) + 1

// Constraint indexes the predicted process variables.
type Constraint int

const (
	BurningZoneTemp Constraint = iota
	KilnTorque
	KilnO2
	FanPower
)

// NumConstraints is the length of a ConstraintVector.
const NumConstraints = int(FanPower) + 1

var controls = [NumControls]Variable{
	TradFuel:  {Name: "trad_fuel_rate_kg_hr", Path: "kiln.trad_fuel_rate_kg_hr", Unit: "kg/h", Hard: Range{3000, 12000}},
	AltFuel:   {Name: "alt_fuel_rate_kg_hr", Path: "kiln.alt_fuel_rate_kg_hr", Unit: "kg/h", Hard: Range{0, 8000}},
	FeedRate:  {Name: "feed_rate_tph", Path: "raw_mill.feed_rate_tph", Unit: "t/h", Hard: Range{100, 200}},
	KilnSpeed: {Name: "kiln_speed_rpm", Path: "kiln.kiln_speed_rpm", Unit: "rpm", Hard: Range{2, 5}},
	FanSpeed:  {Name: "id_fan_speed_rpm", Path: "kiln.id_fan_speed_rpm", Unit: "rpm", Hard: Range{500, 1000}},
	MixRatio:  {Name: "limestone_to_clay_ratio", Path: "kiln.limestone_to_clay_ratio", Unit: "", Hard: Range{3.0, 5.5}},
}

var constraints = [NumConstraints]ConstraintVariable{
	BurningZoneTemp: {
		Variable:  Variable{Name: "burning_zone_temp_c", Path: "kiln.burning_zone_temp_c", Unit: "°C", Hard: Range{1250, 1650}},
		Severity:  Critical,
		Scale:     10,
		Safety:    Range{1380, 1520},
		Operating: Range{1430, 1470},
	},
	KilnTorque: {
		Variable:  Variable{Name: "kiln_torque_pct", Path: "kiln.kiln_torque_pct", Unit: "%", Hard: Range{0, 100}},
		Severity:  Critical,
		Scale:     1,
		Safety:    Range{30, 90},
		Operating: Range{50, 80},
	},
	KilnO2: {
		Variable:  Variable{Name: "kiln_o2_pct", Path: "kiln.kiln_o2_pct", Unit: "%", Hard: Range{0, 21}},
		Severity:  Critical,
		Scale:     0.1,
		Safety:    Range{0.8, 5.0},
		Operating: Range{1.5, 3.5},
	},
	FanPower: {
		Variable:  Variable{Name: "id_fan_power_kw", Path: "kiln.id_fan_power_kw", Unit: "kW", Hard: Range{0, 3000}},
		Severity:  Operational,
		Scale:     20,
		Safety:    Range{300, 1400},
		Operating: Range{600, 1100},
	},
}

// Spec returns the declared metadata of c.
func (c Control) Spec() Variable { return controls[c] }

func (c Control) String() string {
	if c < 0 || int(c) >= NumControls {
		return fmt.Sprintf("control(%d)", int(c))
	}
	return controls[c].Name
}

// Spec returns the declared metadata of c.
func (c Constraint) Spec() ConstraintVariable { return constraints[c] }

func (c Constraint) String() string {
	if c < 0 || int(c) >= NumConstraints {
		return fmt.Sprintf("constraint(%d)", int(c))
	}
	return constraints[c].Name
}

// Controls lists every control in vector order.
func Controls() []Control {
	out := make([]Control, NumControls)
	for i := range out {
		out[i] = Control(i)
	}
	return out
}

// Constraints lists every constraint in vector order.
func Constraints() []Constraint {
	out := make([]Constraint, NumConstraints)
	for i := range out {
		out[i] = Constraint(i)
	}
	return out
}

// ControlByKey finds a control by name or telemetry path, ignoring case.
func ControlByKey(key string) (Control, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i, v := range controls {
		if key == v.Name || key == v.Path {
			return Control(i), true
		}
	}
	return 0, false
}

// ConstraintByKey finds a constraint by name or telemetry path, ignoring case.
func ConstraintByKey(key string) (Constraint, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i, v := range constraints {
		if key == v.Name || key == v.Path {
			return Constraint(i), true
		}
	}
	return 0, false
}

// Derived soft-sensor keys carried on snapshots and predictions.
const (
	QualityIndex          = "quality_index"
	SpecificEnergy        = "specific_energy"
	FuelSubstitutionRatio = "fuel_substitution_ratio"
	ProductionRate        = "production_rate"
)

// derived maps soft-sensor keys to their telemetry paths. They are optional
// on ingestion.
var derived = map[string]string{
	QualityIndex:          "kpi.lsf",
	SpecificEnergy:        "kpi.shc_kcal_kg",
	FuelSubstitutionRatio: "kpi.tsr_pct",
	ProductionRate:        "production.clinker_rate_tph",
}

// MinorComponentPct is the fixed share of the raw meal that is neither
// limestone nor clay.
const MinorComponentPct = 4.0

// Composition splits the limestone-to-clay ratio into feed percentages.
func Composition(ratio float64) (limestonePct, clayPct float64) {
	if ratio <= 0 || math.IsNaN(ratio) {
		return 0, 100 - MinorComponentPct
	}
	major := 100 - MinorComponentPct
	clayPct = major / (1 + ratio)
	return major - clayPct, clayPct
}

// ControlVector holds one value per Control.
type ControlVector [NumControls]float64

// ConstraintVector holds one value per Constraint.
type ConstraintVector [NumConstraints]float64

// Map returns the vector keyed by variable name.
func (v ControlVector) Map() map[string]float64 {
	m := make(map[string]float64, NumControls)
	for i, x := range v {
		m[controls[i].Name] = x
	}
	return m
}

// Map returns the vector keyed by variable name.
func (v ConstraintVector) Map() map[string]float64 {
	m := make(map[string]float64, NumConstraints)
	for i, x := range v {
		m[constraints[i].Name] = x
	}
	return m
}

// ClampHard limits every control to its hard range.
func (v ControlVector) ClampHard() ControlVector {
	for i := range v {
		v[i] = controls[i].Hard.Clamp(v[i])
	}
	return v
}

// ClampHard limits every constraint to its hard range.
func (v ConstraintVector) ClampHard() ConstraintVector {
	for i := range v {
		v[i] = constraints[i].Hard.Clamp(v[i])
	}
	return v
}
