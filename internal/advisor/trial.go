package advisor

import (
	"encoding/json"
	"fmt"

	"github.com/copyleftdev/setpoint/internal/economics"
	"github.com/copyleftdev/setpoint/internal/hybrid"
	"github.com/copyleftdev/setpoint/internal/optimization"
	"github.com/copyleftdev/setpoint/internal/physics"
	"github.com/copyleftdev/setpoint/internal/plant"
)

// Penalty weights per unit of scaled violation.
const (
	CriticalWeight    = 1000.0
	OperationalWeight = 50.0
)

func severityWeight(s plant.Severity) float64 {
	if s == plant.Critical {
		return CriticalWeight
	}
	return OperationalWeight
}

// Penalty sums the weighted, scaled excess of every predicted constraint
// over its acceptable range. It is never negative.
func Penalty(predicted plant.ConstraintVector, limits [plant.NumConstraints]plant.Range) float64 {
	total := 0.0
	for _, k := range plant.Constraints() {
		spec := k.Spec()
		total += severityWeight(spec.Severity) / spec.Scale * limits[k].Excess(predicted[k])
	}
	return total
}

// Violations describes every predicted constraint outside its range.
func Violations(predicted plant.ConstraintVector, limits [plant.NumConstraints]plant.Range) []string {
	var out []string
	for _, k := range plant.Constraints() {
		if limits[k].Excess(predicted[k]) > 0 {
			out = append(out, fmt.Sprintf("%s=%.3f outside %s", k, predicted[k], limits[k]))
		}
	}
	return out
}

// Trial is one evaluated candidate.
type Trial struct {
	Number        int
	Profile       string
	Phase         optimization.Phase
	Controls      plant.ControlVector
	Constraints   plant.ConstraintVector
	Source        hybrid.Source
	SoftSensors   physics.SoftSensors
	Economics     economics.Breakdown
	EconomicValue float64
	Penalty       float64
	Score         float64
}

type trialJSON struct {
	Number        int                 `json:"number"`
	Profile       string              `json:"profile"`
	Phase         optimization.Phase  `json:"phase"`
	Controls      map[string]float64  `json:"controls"`
	Constraints   map[string]float64  `json:"constraints"`
	Source        hybrid.Source       `json:"source"`
	SoftSensors   physics.SoftSensors `json:"soft_sensors"`
	Economics     economics.Breakdown `json:"economics"`
	EconomicValue float64             `json:"economic_value"`
	Penalty       float64             `json:"penalty"`
	Score         float64             `json:"score"`
}

// MarshalJSON encodes the vectors keyed by variable name.
func (t Trial) MarshalJSON() ([]byte, error) {
	return json.Marshal(trialJSON{
		Number:        t.Number,
		Profile:       t.Profile,
		Phase:         t.Phase,
		Controls:      t.Controls.Map(),
		Constraints:   t.Constraints.Map(),
		Source:        t.Source,
		SoftSensors:   t.SoftSensors,
		Economics:     t.Economics,
		EconomicValue: t.EconomicValue,
		Penalty:       t.Penalty,
		Score:         t.Score,
	})
}

// UnmarshalJSON reverses MarshalJSON. Unknown variable names are rejected.
func (t *Trial) UnmarshalJSON(data []byte) error {
	var raw trialJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Trial{
		Number:        raw.Number,
		Profile:       raw.Profile,
		Phase:         raw.Phase,
		Source:        raw.Source,
		SoftSensors:   raw.SoftSensors,
		Economics:     raw.Economics,
		EconomicValue: raw.EconomicValue,
		Penalty:       raw.Penalty,
		Score:         raw.Score,
	}
	for name, v := range raw.Controls {
		c, ok := plant.ControlByKey(name)
		if !ok {
			return fmt.Errorf("unknown control %q", name)
		}
		out.Controls[c] = v
	}
	for name, v := range raw.Constraints {
		k, ok := plant.ConstraintByKey(name)
		if !ok {
			return fmt.Errorf("unknown constraint %q", name)
		}
		out.Constraints[k] = v
	}
	*t = out
	return nil
}

// evaluator scores candidates for one profile run against a fixed current
// state, constraint limits and pricing.
type evaluator struct {
	predictor *hybrid.Predictor
	current   plant.ConstraintVector
	limits    [plant.NumConstraints]plant.Range
	pricing   economics.Pricing
}

// predict fills the prediction and economics of a trial without scoring it.
func (e evaluator) predict(c plant.ControlVector) Trial {
	p := e.predictor.Predict(c, e.current)
	b := economics.Evaluate(c, p.Constraints, p.SoftSensors, e.pricing)
	return Trial{
		Controls:      c,
		Constraints:   p.Constraints,
		Source:        p.Source,
		SoftSensors:   p.SoftSensors,
		Economics:     b,
		EconomicValue: b.Net,
	}
}

func (e evaluator) evaluate(c plant.ControlVector) Trial {
	t := e.predict(c)
	t.Penalty = Penalty(t.Constraints, e.limits)
	t.Score = t.EconomicValue - t.Penalty
	return t
}

func toControls(x []float64) plant.ControlVector {
	var c plant.ControlVector
	copy(c[:], x)
	return c
}
