package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/setpoint/internal/advisor"
	"github.com/copyleftdev/setpoint/internal/bounds"
	"github.com/copyleftdev/setpoint/internal/economics"
	"github.com/copyleftdev/setpoint/internal/history"
	"github.com/copyleftdev/setpoint/internal/plant"
)

type optimizeOptions struct {
	snapshots string
	weight    float64
	budget    int
	warmup    int
	nData     int
	seed      int64
	segment   string
	kernel    string
	overrides []string
	prices    []string
	summary   bool
}

func newOptimizeCmd(g *globalOptions) *cobra.Command {
	o := &optimizeOptions{}
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Recommend setpoints from recorded snapshots",
		Long: `Loads telemetry snapshots (a JSON array, a single object, or one object per
line), retrains the regression ensemble and searches the operating and safety
profiles. The result is printed as JSON.`,
		Example: `  advisorctl optimize --snapshots kiln.jsonl --seed 42
  advisorctl optimize --snapshots kiln.json --override kiln_o2_pct=2:3 --price clinker_usd_per_t=72`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOptimize(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.snapshots, "snapshots", "s", "", "file of telemetry snapshots, - for stdin")
	f.Float64Var(&o.weight, "weight", 0.5, "hybrid weight of the regression ensemble in [0,1]")
	f.IntVar(&o.budget, "budget", 100, "trials per profile")
	f.IntVar(&o.warmup, "warmup", 15, "random warmup trials per profile")
	f.IntVar(&o.nData, "n-data", 0, "snapshots used for empirical bounds (0 uses all up to 50)")
	f.Int64Var(&o.seed, "seed", 0, "random seed (0 seeds from the clock)")
	f.StringVar(&o.segment, "segment", "", "production segment name")
	f.StringVar(&o.kernel, "kernel", "matern52", "GP surrogate kernel (matern52 or rbf)")
	f.StringArrayVar(&o.overrides, "override", nil, "bound override variable=min:max (repeatable)")
	f.StringArrayVar(&o.prices, "price", nil, "pricing override key=value (repeatable)")
	f.BoolVar(&o.summary, "summary", false, "print the compact result record instead of the full response")
	_ = cmd.MarkFlagRequired("snapshots")
	return cmd
}

func runOptimize(cmd *cobra.Command, g *globalOptions, o *optimizeOptions) error {
	req, err := o.request()
	if err != nil {
		return err
	}

	snaps, err := readSnapshots(cmd.InOrStdin(), o.snapshots)
	if err != nil {
		return err
	}

	profile, err := g.profile()
	if err != nil {
		return err
	}
	pricing, err := basePricing(profile)
	if err != nil {
		return err
	}
	if req.Segment == "" {
		req.Segment = profile.Segment
	}

	opts := advisor.Options{
		HybridWeight:    o.weight,
		TrialBudget:     o.budget,
		WarmupTrials:    o.warmup,
		RandomSeed:      o.seed,
		Kernel:          o.kernel,
		Limits:          bounds.Static(profile.OperatingLimits),
		Pricing:         economics.Static(pricing),
		FallbackLimits:  profile.OperatingLimits,
		FallbackPricing: &pricing,
		Logger:          g.logger(cmd.ErrOrStderr()),
	}

	store, err := g.openRedis(pricing)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		opts.Limits = store
		opts.Pricing = store
	}

	capacity := len(snaps)
	if capacity < 1 {
		capacity = 1
	}
	engine, err := advisor.New(history.New(capacity), opts)
	if err != nil {
		return err
	}
	engine.Ingest(snaps...)

	resp, err := engine.Optimize(cmd.Context(), req)
	if err != nil {
		return err
	}

	if o.summary {
		return writeJSON(cmd.OutOrStdout(), resp.Record())
	}
	return writeJSON(cmd.OutOrStdout(), resp)
}

func (o *optimizeOptions) request() (advisor.Request, error) {
	req := advisor.Request{Segment: o.segment, NData: o.nData}

	for _, s := range o.overrides {
		name, rng, ok := strings.Cut(s, "=")
		loText, hiText, ok2 := strings.Cut(rng, ":")
		if !ok || !ok2 {
			return req, fmt.Errorf("override %q: expected variable=min:max", s)
		}
		lo, err := strconv.ParseFloat(strings.TrimSpace(loText), 64)
		if err != nil {
			return req, fmt.Errorf("override %q: %w", s, err)
		}
		hi, err := strconv.ParseFloat(strings.TrimSpace(hiText), 64)
		if err != nil {
			return req, fmt.Errorf("override %q: %w", s, err)
		}
		req.Overrides = append(req.Overrides, bounds.Override{Variable: strings.TrimSpace(name), Min: lo, Max: hi})
	}

	for _, s := range o.prices {
		key, val, ok := strings.Cut(s, "=")
		if !ok {
			return req, fmt.Errorf("price %q: expected key=value", s)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return req, fmt.Errorf("price %q: %w", s, err)
		}
		if req.Pricing == nil {
			req.Pricing = make(map[string]float64)
		}
		req.Pricing[strings.TrimSpace(key)] = v
	}
	return req, nil
}

// readSnapshots reads path (or stdin for "-"). A payload that starts with
// '[' is one JSON array; anything else is one snapshot object per line.
func readSnapshots(stdin io.Reader, path string) ([]plant.Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}

	now := time.Now()
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return plant.DecodeSnapshots(trimmed, now)
	}

	var out []plant.Snapshot
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		snap, err := plant.DecodeSnapshot(text, now)
		if err != nil {
			return nil, fmt.Errorf("snapshots line %d: %w", line, err)
		}
		out = append(out, snap)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	return out, nil
}
