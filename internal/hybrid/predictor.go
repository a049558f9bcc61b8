// Package hybrid blends the physics model with the regression ensemble.
package hybrid

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/copyleftdev/setpoint/internal/physics"
	"github.com/copyleftdev/setpoint/internal/plant"
)

// Source tells which models contributed to a prediction.
type Source string

const (
	SourcePhysics Source = "physics"
	SourceHybrid  Source = "hybrid"
)

// DefaultQuality is reported when the quality regression is untrained.
const DefaultQuality = 98.0

// Regressor is the data-driven model the predictor blends in.
type Regressor interface {
	Trained() bool
	Predict(c plant.ControlVector) (plant.ConstraintVector, error)
	PredictQuality(ratio, temp, feed float64) (float64, error)
}

// Prediction is the predictor's output for one control vector.
type Prediction struct {
	// Raw is the blend before the hard-range clamp.
	Raw         plant.ConstraintVector
	Constraints plant.ConstraintVector
	Source      Source
	SoftSensors physics.SoftSensors
}

// Predictor evaluates (1-w)*physics + w*regression. It holds no mutable
// state and may be shared between goroutines.
type Predictor struct {
	weight float64
	model  Regressor
	logger *zap.Logger
}

// New creates a predictor. A nil or untrained model makes every prediction
// physics-only.
func New(weight float64, model Regressor, logger *zap.Logger) (*Predictor, error) {
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("hybrid weight must be in [0,1], got %g", weight)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{weight: weight, model: model, logger: logger}, nil
}

// Weight returns the regression share of the blend.
func (p *Predictor) Weight() float64 { return p.weight }

// PhysicsOnly reports whether predictions ignore the regression model.
func (p *Predictor) PhysicsOnly() bool {
	return p.weight == 0 || p.model == nil || !p.model.Trained()
}

// Predict returns the constraint response and soft sensors at c, given the
// current measured constraints.
func (p *Predictor) Predict(c plant.ControlVector, current plant.ConstraintVector) Prediction {
	phys := physics.Predict(c, current)
	out := Prediction{Raw: phys, Source: SourcePhysics}

	if !p.PhysicsOnly() {
		ml, err := p.model.Predict(c)
		if err != nil {
			p.logger.Debug("Regression prediction unavailable, using physics", zap.Error(err))
		} else {
			for k := range out.Raw {
				out.Raw[k] = (1-p.weight)*phys[k] + p.weight*ml[k]
			}
			out.Source = SourceHybrid
		}
	}

	out.Constraints = out.Raw.ClampHard()
	out.SoftSensors = physics.Sensors(c, out.Constraints)
	out.SoftSensors.QualityIndex = p.quality(c, out.Constraints[plant.BurningZoneTemp])
	return out
}

func (p *Predictor) quality(c plant.ControlVector, temp float64) float64 {
	if p.model == nil {
		return DefaultQuality
	}
	q, err := p.model.PredictQuality(c[plant.MixRatio], temp, c[plant.FeedRate])
	if err != nil {
		return DefaultQuality
	}
	return physics.QualityRange.Clamp(q)
}
