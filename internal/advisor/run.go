package advisor

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/setpoint/internal/bounds"
	apperrors "github.com/copyleftdev/setpoint/internal/errors"
	"github.com/copyleftdev/setpoint/internal/optimization"
	"github.com/copyleftdev/setpoint/internal/optimization/bayesian"
	"github.com/copyleftdev/setpoint/internal/optimization/kernels"
	"github.com/copyleftdev/setpoint/internal/plant"
)

// Result is the outcome of one profile run. A failed run carries Err and
// no trials.
type Result struct {
	Profile            string
	Best               *Trial
	Trials             []Trial
	ResidualViolations []string
	Bounds             bounds.Resolved
	Err                error
	Duration           time.Duration
}

// OK reports whether the run produced a best trial.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil && r.Best != nil
}

// MarshalJSON encodes bounds by variable name and the error as a string.
func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Profile            string                   `json:"profile"`
		Best               *Trial                   `json:"best,omitempty"`
		Trials             int                      `json:"trials"`
		ResidualViolations []string                 `json:"residual_violations,omitempty"`
		Bounds             map[string]bounds.Range  `json:"bounds,omitempty"`
		Origins            map[string]bounds.Origin `json:"bound_origins,omitempty"`
		Error              string                   `json:"error,omitempty"`
		ErrorKind          string                   `json:"error_kind,omitempty"`
		DurationMS         int64                    `json:"duration_ms"`
	}{
		Profile:            r.Profile,
		Best:               r.Best,
		Trials:             len(r.Trials),
		ResidualViolations: r.ResidualViolations,
		DurationMS:         r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
		out.ErrorKind = apperrors.KindOf(r.Err).String()
	} else {
		out.Bounds = r.Bounds.Map()
		out.Origins = r.Bounds.Origins
	}
	return json.Marshal(out)
}

// runSpec is everything one profile run needs. The predictor, current state
// and window are shared read-only between concurrent runs.
type runSpec struct {
	profile   bounds.Profile
	overrides []bounds.Override
	window    []plant.Snapshot
	eval      evaluator
	budget    int
	warmup    int
	seed      int64
}

// run resolves bounds and searches one profile. Only a context error is
// returned; every other failure is reported in Result.Err.
func (e *Engine) run(ctx context.Context, spec runSpec) (*Result, error) {
	start := time.Now()
	name := spec.profile.Name
	logger := e.logger.With(zap.String("profile", name))
	res := &Result{Profile: name}

	finish := func(outcome string) {
		res.Duration = time.Since(start)
		e.metrics.RecordRun(name, outcome, res.Duration)
	}

	resolved, err := bounds.Resolve(spec.profile, spec.overrides, spec.window)
	if err != nil {
		logger.Warn("Bound resolution failed", zap.Error(err))
		res.Err = err
		finish(apperrors.KindOf(err).String())
		return res, nil
	}
	res.Bounds = resolved

	ev := spec.eval
	ev.limits = resolved.Constraints

	searchBounds := make([][2]float64, plant.NumControls)
	for i, rg := range resolved.Controls {
		searchBounds[i] = [2]float64{rg.Lo, rg.Hi}
	}

	trials := make([]Trial, 0, spec.budget)
	config := optimization.OptimizerConfig{
		Objective: func(x []float64) (float64, error) {
			t := ev.evaluate(toControls(x))
			trials = append(trials, t)
			return t.Score, nil
		},
		Bounds:       searchBounds,
		Budget:       spec.budget,
		WarmupTrials: spec.warmup,
		Maximize:     true,
		RandomSeed:   spec.seed,
	}

	bo, err := e.newOptimizer(config, logger)
	if err != nil {
		res.Err = apperrors.Wrap(err, apperrors.KindUnknown, "create optimizer").WithComponent("advisor")
		finish("error")
		return res, nil
	}

	result, err := bo.Optimize(ctx, config)
	if err != nil {
		if ctx.Err() != nil {
			finish("cancelled")
			return nil, ctx.Err()
		}
		res.Err = apperrors.Wrap(err, apperrors.KindUnknown, "search failed").WithComponent("advisor")
		finish("error")
		return res, nil
	}

	best := 0
	for i, eval := range result.History {
		trials[i].Number = i + 1
		trials[i].Profile = name
		trials[i].Phase = eval.Phase
		e.metrics.RecordTrial(name, string(eval.Phase))
		if trials[i].Score > trials[best].Score {
			best = i
		}
	}
	res.Trials = trials

	// The report re-predicts the winner; penalty and score stay as searched.
	report := ev.predict(trials[best].Controls)
	report.Number = trials[best].Number
	report.Profile = name
	report.Phase = trials[best].Phase
	report.Penalty = trials[best].Penalty
	report.Score = trials[best].Score
	res.Best = &report
	res.ResidualViolations = Violations(report.Constraints, resolved.Constraints)

	e.metrics.SetBestScore(name, report.Score)
	finish("ok")
	logger.Info("Profile run completed",
		zap.Int("trials", len(trials)),
		zap.Float64("best_score", report.Score),
		zap.Float64("economic_value", report.EconomicValue),
		zap.Int("residual_violations", len(res.ResidualViolations)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// newOptimizer builds the search with the configured surrogate settings.
func (e *Engine) newOptimizer(config optimization.OptimizerConfig, logger *zap.Logger) (optimization.Optimizer, error) {
	kernel, err := kernels.ByName(e.opts.Kernel, len(config.Bounds), bayesian.DefaultLengthScale)
	if err != nil {
		return nil, err
	}
	opts := []bayesian.Option{bayesian.WithLogger(logger), bayesian.WithKernel(kernel)}
	if e.opts.ExplorationXi > 0 {
		opts = append(opts, bayesian.WithXi(e.opts.ExplorationXi))
	}
	if e.opts.GPNoise > 0 {
		opts = append(opts, bayesian.WithNoise(e.opts.GPNoise))
	}
	bo, err := bayesian.NewBayesianOptimizer(config, opts...)
	if err != nil {
		return nil, err
	}
	return bo, nil
}
