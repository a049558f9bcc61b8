// Package regression fits the data-driven half of the hybrid predictor: one
// ridge regression per constraint over standardized control features, and
// a quality regression over raw-meal composition and kiln state.
package regression

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/setpoint/internal/plant"
)

// ErrUntrained is returned by predictions before a successful fit.
var ErrUntrained = errors.New("regression ensemble is not trained")

const (
	// MinSamples is the fewest distinct snapshots a fit accepts.
	MinSamples = 10
	// DefaultLambda is the ridge penalty applied to standardized features.
	DefaultLambda = 1e-3
)

// Options tunes a fit.
type Options struct {
	Lambda     float64
	MinSamples int
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Lambda <= 0 {
		o.Lambda = DefaultLambda
	}
	if o.MinSamples <= 0 {
		o.MinSamples = MinSamples
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Ensemble is an immutable set of fitted models and is safe for concurrent
// use once returned by Fit.
type Ensemble struct {
	scaler  Scaler
	models  [plant.NumConstraints]ridge
	trained bool

	qualityScaler  Scaler
	quality        ridge
	qualityTrained bool

	samples        int
	qualitySamples int
	fittedAt       time.Time
}

// Status summarizes an ensemble for reporting.
type Status struct {
	Trained        bool               `json:"trained"`
	QualityTrained bool               `json:"quality_trained"`
	Samples        int                `json:"samples"`
	QualitySamples int                `json:"quality_samples"`
	R2             map[string]float64 `json:"r2,omitempty"`
	FittedAt       time.Time          `json:"fitted_at"`
}

// Fit trains a new ensemble from window. Too few distinct snapshots or a
// degenerate design leave the ensemble untrained; that is logged, never
// returned as an error.
func Fit(window []plant.Snapshot, opts Options) *Ensemble {
	opts = opts.withDefaults()
	log := opts.Logger
	e := &Ensemble{fittedAt: time.Now()}

	snaps := distinct(window)
	e.samples = len(snaps)
	if len(snaps) < opts.MinSamples {
		log.Info("Not enough distinct snapshots to train ensemble",
			zap.Int("distinct", len(snaps)),
			zap.Int("required", opts.MinSamples),
		)
	} else {
		e.fitConstraints(snaps, opts)
	}

	e.fitQuality(snaps, opts)
	return e
}

// distinct keeps the last snapshot seen for each timestamp, in time order.
func distinct(window []plant.Snapshot) []plant.Snapshot {
	byTime := make(map[int64]int, len(window))
	out := make([]plant.Snapshot, 0, len(window))
	for _, s := range window {
		key := s.Timestamp.UnixNano()
		if i, ok := byTime[key]; ok {
			out[i] = s
			continue
		}
		byTime[key] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (e *Ensemble) fitConstraints(snaps []plant.Snapshot, opts Options) {
	log := opts.Logger
	X := make([][]float64, len(snaps))
	for i, s := range snaps {
		X[i] = append([]float64(nil), s.Controls[:]...)
	}

	scaler, varying := fitScaler(X)
	if varying == 0 {
		log.Warn("Every control feature is constant, ensemble left untrained",
			zap.Int("samples", len(snaps)))
		return
	}

	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = scaler.Transform(row)
	}

	var models [plant.NumConstraints]ridge
	y := make([]float64, len(snaps))
	for _, k := range plant.Constraints() {
		for i, s := range snaps {
			y[i] = s.Constraints[k]
		}
		m, err := fitRidge(Z, y, opts.Lambda)
		if err != nil {
			log.Warn("Ridge fit failed, ensemble left untrained",
				zap.String("constraint", k.String()),
				zap.Error(err))
			return
		}
		models[k] = m
	}

	e.scaler = scaler
	e.models = models
	e.trained = true

	fields := []zap.Field{zap.Int("samples", len(snaps))}
	for _, k := range plant.Constraints() {
		fields = append(fields, zap.Float64("r2_"+k.String(), models[k].r2))
	}
	log.Info("Regression ensemble trained", fields...)
}

func qualityFeatures(ratio, temp, feed float64) []float64 {
	limestone, clay := plant.Composition(ratio)
	return []float64{limestone, clay, temp, feed}
}

func (e *Ensemble) fitQuality(snaps []plant.Snapshot, opts Options) {
	log := opts.Logger
	var X [][]float64
	var y []float64
	for _, s := range snaps {
		q, ok := s.Derive(plant.QualityIndex)
		if !ok {
			continue
		}
		X = append(X, qualityFeatures(
			s.Controls[plant.MixRatio],
			s.Constraints[plant.BurningZoneTemp],
			s.Controls[plant.FeedRate],
		))
		y = append(y, q)
	}
	e.qualitySamples = len(X)
	if len(X) < opts.MinSamples {
		log.Debug("Quality model skipped", zap.Int("samples", len(X)))
		return
	}

	scaler, varying := fitScaler(X)
	if varying == 0 {
		log.Warn("Quality features are constant, quality model left untrained")
		return
	}
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = scaler.Transform(row)
	}
	m, err := fitRidge(Z, y, opts.Lambda)
	if err != nil {
		log.Warn("Quality fit failed", zap.Error(err))
		return
	}

	e.qualityScaler = scaler
	e.quality = m
	e.qualityTrained = true
	log.Debug("Quality model trained", zap.Int("samples", len(X)), zap.Float64("r2", m.r2))
}

// Trained reports whether the constraint models are usable.
func (e *Ensemble) Trained() bool { return e != nil && e.trained }

// Predict returns the regression estimate of every constraint at c.
func (e *Ensemble) Predict(c plant.ControlVector) (plant.ConstraintVector, error) {
	var out plant.ConstraintVector
	if !e.Trained() {
		return out, ErrUntrained
	}
	z := e.scaler.Transform(c[:])
	for k := range out {
		out[k] = e.models[k].predict(z)
	}
	return out, nil
}

// PredictQuality estimates the quality index from the mix ratio and the
// kiln state it will be burned at.
func (e *Ensemble) PredictQuality(ratio, temp, feed float64) (float64, error) {
	if e == nil || !e.qualityTrained {
		return 0, ErrUntrained
	}
	z := e.qualityScaler.Transform(qualityFeatures(ratio, temp, feed))
	return e.quality.predict(z), nil
}

// Status reports training state and per-model fit quality.
func (e *Ensemble) Status() Status {
	if e == nil {
		return Status{}
	}
	s := Status{
		Trained:        e.trained,
		QualityTrained: e.qualityTrained,
		Samples:        e.samples,
		QualitySamples: e.qualitySamples,
		FittedAt:       e.fittedAt,
	}
	if e.trained || e.qualityTrained {
		s.R2 = make(map[string]float64, plant.NumConstraints+1)
	}
	if e.trained {
		for _, k := range plant.Constraints() {
			s.R2[k.String()] = e.models[k].r2
		}
	}
	if e.qualityTrained {
		s.R2[plant.QualityIndex] = e.quality.r2
	}
	return s
}
