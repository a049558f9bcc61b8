package physics

import (
	"math"

	"github.com/copyleftdev/setpoint/internal/plant"
)

// SoftSensors are the KPIs inferred from a control vector and its predicted
// constraints.
type SoftSensors struct {
	QualityIndex          float64 `json:"quality_index"`
	ProductionRate        float64 `json:"production_rate"`
	SpecificEnergy        float64 `json:"specific_energy"`
	FuelSubstitutionRatio float64 `json:"fuel_substitution_ratio"`
}

// Map returns the sensors keyed by their derived-variable names.
func (s SoftSensors) Map() map[string]float64 {
	return map[string]float64{
		plant.QualityIndex:          s.QualityIndex,
		plant.ProductionRate:        s.ProductionRate,
		plant.SpecificEnergy:        s.SpecificEnergy,
		plant.FuelSubstitutionRatio: s.FuelSubstitutionRatio,
	}
}

// oxide mass fractions of each raw material.
type oxides struct{ CaO, SiO2, Al2O3, Fe2O3 float64 }

var (
	limestoneOxides = oxides{CaO: 0.53, SiO2: 0.04, Al2O3: 0.01, Fe2O3: 0.005}
	clayOxides      = oxides{CaO: 0.02, SiO2: 0.48, Al2O3: 0.15, Fe2O3: 0.06}
	minorOxides     = oxides{CaO: 0, SiO2: 0.10, Al2O3: 0, Fe2O3: 0.50}
)

// LimeSaturation computes the lime saturation factor of the raw meal blended
// at the given limestone-to-clay ratio.
func LimeSaturation(ratio float64) float64 {
	limestone, clay := plant.Composition(ratio)
	minor := plant.MinorComponentPct

	mix := func(f func(oxides) float64) float64 {
		return limestone*f(limestoneOxides) + clay*f(clayOxides) + minor*f(minorOxides)
	}
	cao := mix(func(o oxides) float64 { return o.CaO })
	sio2 := mix(func(o oxides) float64 { return o.SiO2 })
	al2o3 := mix(func(o oxides) float64 { return o.Al2O3 })
	fe2o3 := mix(func(o oxides) float64 { return o.Fe2O3 })

	den := 2.8*sio2 + 1.18*al2o3 + 0.65*fe2o3
	if den <= 0 {
		return QualityRange.Hi
	}
	return QualityRange.Clamp(100 * cao / den)
}

// Yield is the fraction of nominal clinker output achieved at temperature t.
func Yield(t float64) float64 {
	d := (t - ReferenceTemp) / 400
	return yieldRange.Clamp(1 - 0.5*d*d)
}

// ProductionRate is clinker output in t/h.
func ProductionRate(c plant.ControlVector, temp float64) float64 {
	return ProductionRange.Clamp(c[plant.FeedRate] * ClinkerFactor * Yield(temp))
}

// SpecificEnergy is heat consumption in kcal per kg of clinker.
func SpecificEnergy(c plant.ControlVector, production float64) float64 {
	if production <= 0 {
		return SpecificEnergyRange.Hi
	}
	return SpecificEnergyRange.Clamp(EnergyInput(c) / (production * 1000))
}

// SubstitutionRatio is the share of heat supplied by alternative fuel, in %.
func SubstitutionRatio(c plant.ControlVector) float64 {
	total := EnergyInput(c)
	if total <= 0 || math.IsNaN(total) {
		return 0
	}
	return SubstitutionRange.Clamp(100 * c[plant.AltFuel] * AltFuelNCV / total)
}

// Sensors evaluates every soft sensor for c given its predicted constraints.
func Sensors(c plant.ControlVector, predicted plant.ConstraintVector) SoftSensors {
	production := ProductionRate(c, predicted[plant.BurningZoneTemp])
	return SoftSensors{
		QualityIndex:          LimeSaturation(c[plant.MixRatio]),
		ProductionRate:        production,
		SpecificEnergy:        SpecificEnergy(c, production),
		FuelSubstitutionRatio: SubstitutionRatio(c),
	}
}
