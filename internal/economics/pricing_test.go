package economics

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/setpoint/internal/physics"
	"github.com/copyleftdev/setpoint/internal/plant"
)

var nominal = plant.ControlVector{7730, 4008, 150, 3.5, 750, 4.0}

func TestValueBreakdown(t *testing.T) {
	b := Value(nominal, 97.5, 850, DefaultPricing())

	assert.InDelta(t, 97.5*60, b.Revenue, 1e-9)
	assert.InDelta(t, 97.5*0.03*12, b.ByproductCredit, 1e-9)
	// 76.8% limestone, 19.2% clay, 4% additive
	assert.InDelta(t, 150*(76.8*4+19.2*6+4*25)/100, b.FeedCost, 1e-9)
	assert.InDelta(t, 7.73*120+4.008*30, b.FuelCost, 1e-9)
	assert.InDelta(t, 85, b.ElectricityCost, 1e-9)
	assert.InDelta(t, b.Revenue+b.ByproductCredit-b.FeedCost-b.FuelCost-b.ElectricityCost, b.Net, 1e-9)
	assert.Positive(t, b.Net)
}

func TestValueMonotonicInPrices(t *testing.T) {
	base := Value(nominal, 97.5, 850, DefaultPricing())

	dearFuel, err := DefaultPricing().With(map[string]float64{"trad_fuel_usd_per_t": 200})
	require.NoError(t, err)
	assert.Less(t, Value(nominal, 97.5, 850, dearFuel).Net, base.Net)

	dearClinker, err := DefaultPricing().With(map[string]float64{"clinker_usd_per_t": 90})
	require.NoError(t, err)
	assert.Greater(t, Value(nominal, 97.5, 850, dearClinker).Net, base.Net)
}

func TestEvaluateUsesPredictedPoint(t *testing.T) {
	predicted := plant.ConstraintVector{1450, 70, 2.6, 1000}
	sensors := physics.SoftSensors{ProductionRate: 90}

	got := Evaluate(nominal, predicted, sensors, DefaultPricing())
	assert.Equal(t, Value(nominal, 90, 1000, DefaultPricing()), got)
}

func TestPricingWith(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]float64
		wantErr   bool
	}{
		{"empty", nil, false},
		{"known key", map[string]float64{"alt_fuel_usd_per_t": 10}, false},
		{"zero allowed", map[string]float64{"trad_fuel_usd_per_t": 0}, false},
		{"unknown key", map[string]float64{"gold_usd_per_t": 1}, true},
		{"negative", map[string]float64{"clay_usd_per_t": -1}, true},
		{"nan", map[string]float64{"clay_usd_per_t": math.NaN()}, true},
		{"fraction above one", map[string]float64{"byproduct_fraction": 1.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := DefaultPricing()
			got, err := base.With(tt.overrides)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, base, got)
				return
			}
			require.NoError(t, err)
			for k, v := range tt.overrides {
				assert.Equal(t, v, *got.fields()[k])
			}
		})
	}
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := DefaultPricing()
	_, err := base.With(map[string]float64{"clinker_usd_per_t": 1})
	require.NoError(t, err)
	assert.Equal(t, 60.0, base.ClinkerUSDPerT)
}

func TestKeysCoverEveryRate(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, 9)
	assert.Contains(t, keys, "electricity_usd_per_kwh")
}

func TestStaticSource(t *testing.T) {
	p := DefaultPricing()
	p.ClinkerUSDPerT = 70
	got, err := Static(p).Pricing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
