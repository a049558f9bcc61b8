// Package advisor orchestrates setpoint optimization: it retrains the
// regression ensemble from recent history, resolves pricing and limits, and
// searches the control space under the operating and safety profiles.
package advisor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/setpoint/internal/bounds"
	"github.com/copyleftdev/setpoint/internal/economics"
	apperrors "github.com/copyleftdev/setpoint/internal/errors"
	"github.com/copyleftdev/setpoint/internal/history"
	"github.com/copyleftdev/setpoint/internal/hybrid"
	"github.com/copyleftdev/setpoint/internal/metrics"
	"github.com/copyleftdev/setpoint/internal/optimization/bayesian"
	"github.com/copyleftdev/setpoint/internal/optimization/kernels"
	"github.com/copyleftdev/setpoint/internal/plant"
	"github.com/copyleftdev/setpoint/internal/regression"
)

const (
	// MaxTrainingWindow caps the snapshots one retrain uses.
	MaxTrainingWindow = 50
	// DefaultSegment names the production segment when a request has none.
	DefaultSegment = "Clinkerization"
)

// Options configures an Engine.
type Options struct {
	HybridWeight float64
	TrialBudget  int
	WarmupTrials int
	DefaultNData int
	MinSnapshots int
	// RandomSeed fixes the search; zero seeds every request from the clock.
	RandomSeed int64
	Segment    string

	// Kernel names the GP surrogate kernel (matern52 or rbf). ExplorationXi
	// and GPNoise override the search defaults when positive.
	Kernel        string
	ExplorationXi float64
	GPNoise       float64

	// Limits and Pricing are the external sources. On failure the engine
	// falls back to FallbackLimits and FallbackPricing.
	Limits          bounds.Source
	Pricing         economics.Source
	FallbackLimits  []plant.Limit
	FallbackPricing *economics.Pricing

	Sinks   []ResultSink
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.TrialBudget < 1 {
		o.TrialBudget = 100
	}
	if o.WarmupTrials < 1 {
		o.WarmupTrials = 15
	}
	if o.DefaultNData < 1 {
		o.DefaultNData = MaxTrainingWindow
	}
	if o.MinSnapshots < 1 {
		o.MinSnapshots = 5
	}
	if o.Segment == "" {
		o.Segment = DefaultSegment
	}
	if o.FallbackPricing == nil {
		p := economics.DefaultPricing()
		o.FallbackPricing = &p
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Request asks for one optimization.
type Request struct {
	Segment   string             `json:"segment"`
	NData     int                `json:"n_data"`
	Overrides []bounds.Override  `json:"override_ranges"`
	Pricing   map[string]float64 `json:"pricing"`
}

// Response carries both profile results and the combined trial history.
type Response struct {
	ID             string             `json:"id"`
	Segment        string             `json:"segment"`
	Operating      *Result            `json:"operating"`
	Safety         *Result            `json:"safety"`
	EconomicDelta  *float64           `json:"economic_delta,omitempty"`
	History        []Trial            `json:"history"`
	Pricing        economics.Pricing  `json:"pricing"`
	PhysicsOnly    bool               `json:"physics_only"`
	TrainedSamples int                `json:"trained_samples"`
	Current        map[string]float64 `json:"current_state"`
	StartedAt      time.Time          `json:"started_at"`
	Duration       time.Duration      `json:"duration_ns"`
}

// Engine is the advisor's context object: the history store, the latest
// ensemble and the configured collaborators.
type Engine struct {
	store   *history.Store
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	ensemble *regression.Ensemble
}

// New creates an engine over store.
func New(store *history.Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if opts.HybridWeight < 0 || opts.HybridWeight > 1 {
		return nil, fmt.Errorf("hybrid weight must be in [0,1], got %g", opts.HybridWeight)
	}
	if _, err := kernels.ByName(opts.Kernel, plant.NumControls, bayesian.DefaultLengthScale); err != nil {
		return nil, err
	}
	if opts.ExplorationXi < 0 || opts.GPNoise < 0 {
		return nil, fmt.Errorf("exploration margin and GP noise must not be negative")
	}
	opts = opts.withDefaults()
	if opts.WarmupTrials >= opts.TrialBudget {
		return nil, fmt.Errorf("warmup trials (%d) must be less than the trial budget (%d)",
			opts.WarmupTrials, opts.TrialBudget)
	}
	return &Engine{
		store:   store,
		opts:    opts,
		logger:  opts.Logger.Named("advisor"),
		metrics: opts.Metrics,
	}, nil
}

// Ingest appends snapshots to the history in order.
func (e *Engine) Ingest(snaps ...plant.Snapshot) int {
	for _, s := range snaps {
		e.store.Append(s)
	}
	n := e.store.Len()
	e.metrics.SetHistorySize(n)
	e.logger.Debug("Ingested snapshots", zap.Int("count", len(snaps)), zap.Int("history", n))
	return n
}

// Store returns the history store.
func (e *Engine) Store() *history.Store { return e.store }

// ModelStatus describes the ensemble from the latest optimization.
func (e *Engine) ModelStatus() regression.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ensemble.Status()
}

// Pricing returns the current pricing from the source, or the fallback
// when the source fails.
func (e *Engine) Pricing(ctx context.Context) economics.Pricing {
	if e.opts.Pricing != nil {
		p, err := e.opts.Pricing.Pricing(ctx)
		if err == nil {
			return p
		}
		e.upstreamFailed("pricing", err)
	}
	return *e.opts.FallbackPricing
}

func (e *Engine) operatingLimits(ctx context.Context) []plant.Limit {
	if e.opts.Limits != nil {
		limits, err := e.opts.Limits.OperatingLimits(ctx)
		if err == nil {
			return limits
		}
		e.upstreamFailed("limits", err)
	}
	return e.opts.FallbackLimits
}

func (e *Engine) upstreamFailed(component string, err error) {
	wrapped := apperrors.Wrap(err, apperrors.KindUpstreamUnavailable, component+" source failed").
		WithComponent(component)
	e.logger.Warn("Upstream unavailable, using fallback", zap.String("source", component), zap.Error(wrapped))
	e.metrics.RecordError(component, apperrors.KindUpstreamUnavailable.String())
}

func (e *Engine) retrain(window []plant.Snapshot) *regression.Ensemble {
	train := window
	if len(train) > MaxTrainingWindow {
		train = train[len(train)-MaxTrainingWindow:]
	}
	ens := regression.Fit(train, regression.Options{Logger: e.logger})

	e.mu.Lock()
	e.ensemble = ens
	e.mu.Unlock()

	status := ens.Status()
	e.metrics.SetEnsemble(status.Trained, status.Samples)
	if !status.Trained {
		e.metrics.RecordError("regression", apperrors.KindModelUntrained.String())
	}
	return ens
}

func (e *Engine) operatingProfile(ctx context.Context) bounds.Profile {
	p, err := bounds.OperatingProfile(e.operatingLimits(ctx))
	if err == nil {
		return p
	}
	e.logger.Warn("Operating limits rejected, using fallback", zap.Error(err))
	e.metrics.RecordError("limits", apperrors.KindOf(err).String())
	if p, err = bounds.OperatingProfile(e.opts.FallbackLimits); err == nil {
		return p
	}
	p, _ = bounds.OperatingProfile(nil)
	return p
}

// Optimize runs one optimization cycle: retrain once, capture the current
// state once, then search the operating and safety profiles concurrently.
// It fails with KindDataInsufficient before any sampling when the history
// is too short, and with the joined run errors when both profiles fail.
// Cancellation discards both runs.
func (e *Engine) Optimize(ctx context.Context, req Request) (*Response, error) {
	const op = "Engine.Optimize"
	startedAt := time.Now()

	if req.NData < 0 {
		return nil, apperrors.Errorf(apperrors.KindInvalidRequest, "n_data must not be negative, got %d", req.NData).
			WithOperation(op)
	}
	if req.Segment == "" {
		req.Segment = e.opts.Segment
	}
	nData := req.NData
	if nData == 0 {
		nData = e.opts.DefaultNData
	}

	if have := e.store.Len(); have < e.opts.MinSnapshots {
		e.metrics.RecordError("advisor", apperrors.KindDataInsufficient.String())
		return nil, apperrors.Errorf(apperrors.KindDataInsufficient,
			"need at least %d snapshots, have %d", e.opts.MinSnapshots, have).
			WithOperation(op).WithComponent("advisor")
	}

	window := e.store.Recent(nData)
	current := window[len(window)-1]

	ensemble := e.retrain(window)
	predictor, err := hybrid.New(e.opts.HybridWeight, ensemble, e.logger.Named("hybrid"))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnknown, "create predictor").WithOperation(op)
	}

	pricing, err := e.Pricing(ctx).With(req.Pricing)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInvalidRequest, "invalid pricing override").WithOperation(op)
	}

	base := evaluator{predictor: predictor, current: current.Constraints, pricing: pricing}
	seed := e.opts.RandomSeed
	if seed == 0 {
		seed = startedAt.UnixNano()
	}
	specs := []runSpec{
		{profile: e.operatingProfile(ctx), seed: seed},
		{profile: bounds.SafetyProfile(), seed: seed + 1},
	}

	results := make([]*Result, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range specs {
		i := i
		spec := specs[i]
		spec.overrides = req.Overrides
		spec.window = window
		spec.eval = base
		spec.budget = e.opts.TrialBudget
		spec.warmup = e.opts.WarmupTrials
		g.Go(func() error {
			res, err := e.run(gctx, spec)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Info("Optimization cancelled", zap.Error(err))
		return nil, err
	}

	operating, safety := results[0], results[1]
	if operating.Err != nil && safety.Err != nil {
		return nil, stderrors.Join(operating.Err, safety.Err)
	}

	resp := &Response{
		ID:             uuid.NewString(),
		Segment:        req.Segment,
		Operating:      operating,
		Safety:         safety,
		History:        append(append([]Trial(nil), operating.Trials...), safety.Trials...),
		Pricing:        pricing,
		PhysicsOnly:    predictor.PhysicsOnly(),
		TrainedSamples: ensemble.Status().Samples,
		Current:        current.Constraints.Map(),
		StartedAt:      startedAt,
		Duration:       time.Since(startedAt),
	}
	if operating.OK() && safety.OK() {
		delta := safety.Best.EconomicValue - operating.Best.EconomicValue
		resp.EconomicDelta = &delta
		e.metrics.SetEconomicDelta(delta)
	}

	e.logger.Info("Optimization completed",
		zap.String("id", resp.ID),
		zap.String("segment", resp.Segment),
		zap.Bool("physics_only", resp.PhysicsOnly),
		zap.Int("trials", len(resp.History)),
		zap.Duration("duration", resp.Duration),
	)

	e.publish(ctx, resp)
	return resp, nil
}

func (e *Engine) publish(ctx context.Context, resp *Response) {
	for _, sink := range e.opts.Sinks {
		if err := sink.Publish(ctx, resp); err != nil {
			e.logger.Warn("Failed to publish result", zap.String("id", resp.ID), zap.Error(err))
			e.metrics.RecordError("sink", apperrors.KindUpstreamUnavailable.String())
		}
	}
}
