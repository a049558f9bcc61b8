// Package physics is the first-principles kiln model: steady-state responses
// of the predicted variables to a control move, plus the soft sensors derived
// from them. Every function is pure.
package physics

import (
	"math"

	"github.com/copyleftdev/setpoint/internal/plant"
)

const (
	// Net calorific values, kcal/kg.
	TradFuelNCV = 7000.0
	AltFuelNCV  = 4500.0

	// ClinkerFactor is tonnes of clinker per tonne of raw meal.
	ClinkerFactor = 0.65
	// NominalHeatConsumption is the reference specific heat, kcal/kg clinker.
	NominalHeatConsumption = 740.0

	// TempGain is °C of burning-zone response per Gcal/h of energy surplus.
	TempGain = 8.0

	NominalKilnSpeed = 3.5
	NominalFeedRate  = 150.0
	// TorqueSpeedGain is % torque per rpm away from nominal speed.
	TorqueSpeedGain = 6.0
	// TorqueLoadGain is % torque per unit of relative feed load.
	TorqueLoadGain = 25.0

	// AirPerRPM is Nm³/h of combustion air moved per fan rpm.
	AirPerRPM = 125.0
	// StoichAir is Nm³ of air needed per kg of blended fuel.
	StoichAir = 7.0

	NominalFanSpeed = 750.0
	NominalFanPower = 850.0

	ReferenceTemp = 1450.0
)

// SoftSensor plausibility ranges.
var (
	QualityRange        = plant.Range{Lo: 85, Hi: 110}
	ProductionRange     = plant.Range{Lo: 0, Hi: 200 * ClinkerFactor}
	SpecificEnergyRange = plant.Range{Lo: 500, Hi: 1200}
	SubstitutionRange   = plant.Range{Lo: 0, Hi: 100}
	yieldRange          = plant.Range{Lo: 0.9, Hi: 1}
)

// EnergyInput returns the fuel heat release in kcal/h.
func EnergyInput(c plant.ControlVector) float64 {
	return c[plant.TradFuel]*TradFuelNCV + c[plant.AltFuel]*AltFuelNCV
}

// EnergyDemand returns the heat the feed needs at nominal consumption, kcal/h.
func EnergyDemand(c plant.ControlVector) float64 {
	return c[plant.FeedRate] * 1000 * ClinkerFactor * NominalHeatConsumption
}

// Temperature predicts the burning-zone temperature from the energy balance.
func Temperature(c plant.ControlVector, current float64) float64 {
	surplusGcal := (EnergyInput(c) - EnergyDemand(c)) / 1e6
	return clampConstraint(plant.BurningZoneTemp, current+TempGain*surplusGcal)
}

// Torque predicts kiln drive torque from speed and relative load.
func Torque(c plant.ControlVector, current float64) float64 {
	t := current +
		TorqueSpeedGain*(c[plant.KilnSpeed]-NominalKilnSpeed) +
		TorqueLoadGain*(c[plant.FeedRate]/NominalFeedRate-1)
	return clampConstraint(plant.KilnTorque, t)
}

// O2 predicts excess oxygen at the kiln inlet from the air-to-fuel ratio.
func O2(c plant.ControlVector) float64 {
	fuel := c[plant.TradFuel] + c[plant.AltFuel]
	if fuel <= 0 {
		return clampConstraint(plant.KilnO2, 21)
	}
	ratio := AirPerRPM * c[plant.FanSpeed] / (StoichAir * fuel)
	if ratio <= 0 {
		return clampConstraint(plant.KilnO2, 0)
	}
	return clampConstraint(plant.KilnO2, 21*(ratio-1)/ratio)
}

// FanPower applies the fan affinity law. The result is not clamped.
func FanPower(speed float64) float64 {
	return NominalFanPower * math.Pow(speed/NominalFanSpeed, 3)
}

// Predict returns every constraint's steady-state response to c, given the
// current measured state, clamped to hard ranges.
func Predict(c plant.ControlVector, current plant.ConstraintVector) plant.ConstraintVector {
	var out plant.ConstraintVector
	out[plant.BurningZoneTemp] = Temperature(c, current[plant.BurningZoneTemp])
	out[plant.KilnTorque] = Torque(c, current[plant.KilnTorque])
	out[plant.KilnO2] = O2(c)
	out[plant.FanPower] = clampConstraint(plant.FanPower, FanPower(c[plant.FanSpeed]))
	return out
}

func clampConstraint(k plant.Constraint, v float64) float64 {
	return k.Spec().Hard.Clamp(v)
}
