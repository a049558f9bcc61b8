// Package economics turns a predicted operating point into an hourly
// economic value.
package economics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/copyleftdev/setpoint/internal/physics"
	"github.com/copyleftdev/setpoint/internal/plant"
)

// Pricing holds every unit rate the value function uses.
type Pricing struct {
	LimestoneUSDPerT  float64 `json:"limestone_usd_per_t" yaml:"limestone_usd_per_t"`
	ClayUSDPerT       float64 `json:"clay_usd_per_t" yaml:"clay_usd_per_t"`
	AdditiveUSDPerT   float64 `json:"additive_usd_per_t" yaml:"additive_usd_per_t"`
	TradFuelUSDPerT   float64 `json:"trad_fuel_usd_per_t" yaml:"trad_fuel_usd_per_t"`
	AltFuelUSDPerT    float64 `json:"alt_fuel_usd_per_t" yaml:"alt_fuel_usd_per_t"`
	ElectricityUSDKWh float64 `json:"electricity_usd_per_kwh" yaml:"electricity_usd_per_kwh"`
	ClinkerUSDPerT    float64 `json:"clinker_usd_per_t" yaml:"clinker_usd_per_t"`
	ByproductFraction float64 `json:"byproduct_fraction" yaml:"byproduct_fraction"`
	ByproductUSDPerT  float64 `json:"byproduct_credit_usd_per_t" yaml:"byproduct_credit_usd_per_t"`
}

// DefaultPricing is used when no pricing source answers.
func DefaultPricing() Pricing {
	return Pricing{
		LimestoneUSDPerT:  4,
		ClayUSDPerT:       6,
		AdditiveUSDPerT:   25,
		TradFuelUSDPerT:   120,
		AltFuelUSDPerT:    30,
		ElectricityUSDKWh: 0.10,
		ClinkerUSDPerT:    60,
		ByproductFraction: 0.03,
		ByproductUSDPerT:  12,
	}
}

func (p *Pricing) fields() map[string]*float64 {
	return map[string]*float64{
		"limestone_usd_per_t":        &p.LimestoneUSDPerT,
		"clay_usd_per_t":             &p.ClayUSDPerT,
		"additive_usd_per_t":         &p.AdditiveUSDPerT,
		"trad_fuel_usd_per_t":        &p.TradFuelUSDPerT,
		"alt_fuel_usd_per_t":         &p.AltFuelUSDPerT,
		"electricity_usd_per_kwh":    &p.ElectricityUSDKWh,
		"clinker_usd_per_t":          &p.ClinkerUSDPerT,
		"byproduct_fraction":         &p.ByproductFraction,
		"byproduct_credit_usd_per_t": &p.ByproductUSDPerT,
	}
}

// Keys lists the rate names accepted by With.
func Keys() []string {
	var p Pricing
	keys := make([]string, 0, 9)
	for k := range p.fields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of p with the given rates replaced. Unknown names,
// negative or non-finite rates, and a byproduct fraction above one are
// rejected.
func (p Pricing) With(overrides map[string]float64) (Pricing, error) {
	orig := p
	fields := p.fields()
	for k, v := range overrides {
		dst, ok := fields[k]
		if !ok {
			return orig, fmt.Errorf("unknown pricing key %q", k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return orig, fmt.Errorf("pricing %s must be a non-negative number, got %v", k, v)
		}
		if k == "byproduct_fraction" && v > 1 {
			return orig, fmt.Errorf("byproduct_fraction must not exceed 1, got %v", v)
		}
		*dst = v
	}
	return p, nil
}

// Source supplies current market pricing.
type Source interface {
	Pricing(ctx context.Context) (Pricing, error)
}

// Static always returns the same pricing.
type Static Pricing

// Pricing implements Source.
func (s Static) Pricing(context.Context) (Pricing, error) {
	return Pricing(s), nil
}

// Breakdown is the hourly value split by term, in USD/h.
type Breakdown struct {
	Revenue         float64 `json:"revenue"`
	ByproductCredit float64 `json:"byproduct_credit"`
	FeedCost        float64 `json:"feed_cost"`
	FuelCost        float64 `json:"fuel_cost"`
	ElectricityCost float64 `json:"electricity_cost"`
	Net             float64 `json:"net"`
}

// Value computes the hourly economic value of running at c. production is
// the clinker output soft sensor in t/h and fanPowerKW the predicted fan
// power.
func Value(c plant.ControlVector, production, fanPowerKW float64, p Pricing) Breakdown {
	feed := c[plant.FeedRate]
	limestonePct, clayPct := plant.Composition(c[plant.MixRatio])

	var b Breakdown
	b.Revenue = production * p.ClinkerUSDPerT
	b.ByproductCredit = production * p.ByproductFraction * p.ByproductUSDPerT
	b.FeedCost = feed * (limestonePct*p.LimestoneUSDPerT +
		clayPct*p.ClayUSDPerT +
		plant.MinorComponentPct*p.AdditiveUSDPerT) / 100
	b.FuelCost = c[plant.TradFuel]/1000*p.TradFuelUSDPerT + c[plant.AltFuel]/1000*p.AltFuelUSDPerT
	b.ElectricityCost = fanPowerKW * p.ElectricityUSDKWh
	b.Net = b.Revenue + b.ByproductCredit - b.FeedCost - b.FuelCost - b.ElectricityCost
	return b
}

// Evaluate is Value with the production and fan power taken from a
// predicted operating point.
func Evaluate(c plant.ControlVector, predicted plant.ConstraintVector, sensors physics.SoftSensors, p Pricing) Breakdown {
	return Value(c, sensors.ProductionRate, predicted[plant.FanPower], p)
}
