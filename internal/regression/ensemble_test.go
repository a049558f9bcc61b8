package regression

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/setpoint/internal/plant"
)

// linearPlant produces snapshots whose constraints are exact linear
// functions of the controls.
func linearPlant(n int, seed int64, withQuality bool) []plant.Snapshot {
	rng := rand.New(rand.NewSource(seed))
	base := time.Unix(1700000000, 0)
	out := make([]plant.Snapshot, n)
	for i := range out {
		var c plant.ControlVector
		for j := range c {
			hard := plant.Control(j).Spec().Hard
			c[j] = hard.Lo + rng.Float64()*(hard.Hi-hard.Lo)
		}
		var k plant.ConstraintVector
		k[plant.BurningZoneTemp] = 1100 + 0.02*c[plant.TradFuel] + 0.01*c[plant.AltFuel] - 0.5*c[plant.FeedRate]
		k[plant.KilnTorque] = 40 + 6*c[plant.KilnSpeed] + 0.1*c[plant.FeedRate]
		k[plant.KilnO2] = 1 + 0.004*c[plant.FanSpeed] - 0.0001*c[plant.TradFuel]
		k[plant.FanPower] = -500 + 2*c[plant.FanSpeed]

		s := plant.Snapshot{Timestamp: base.Add(time.Duration(i) * time.Minute), Controls: c, Constraints: k}
		if withQuality {
			limestone, _ := plant.Composition(c[plant.MixRatio])
			s.Derived = map[string]float64{plant.QualityIndex: 20 + 1.0*limestone + 0.001*k[plant.BurningZoneTemp]}
		}
		out[i] = s
	}
	return out
}

func TestFitRecoversLinearResponse(t *testing.T) {
	train := linearPlant(40, 1, true)
	e := Fit(train, Options{Logger: zaptest.NewLogger(t)})
	require.True(t, e.Trained())

	for _, s := range linearPlant(10, 2, false) {
		got, err := e.Predict(s.Controls)
		require.NoError(t, err)
		assert.InDelta(t, s.Constraints[plant.BurningZoneTemp], got[plant.BurningZoneTemp], 1.0)
		assert.InDelta(t, s.Constraints[plant.KilnTorque], got[plant.KilnTorque], 0.1)
		assert.InDelta(t, s.Constraints[plant.KilnO2], got[plant.KilnO2], 0.01)
		assert.InDelta(t, s.Constraints[plant.FanPower], got[plant.FanPower], 1.0)
	}

	status := e.Status()
	assert.True(t, status.Trained)
	assert.True(t, status.QualityTrained)
	assert.Equal(t, 40, status.Samples)
	assert.Greater(t, status.R2[plant.BurningZoneTemp.String()], 0.99)
	assert.Greater(t, status.R2[plant.QualityIndex], 0.99)

	q, err := e.PredictQuality(4.0, 1450, 150)
	require.NoError(t, err)
	limestone, _ := plant.Composition(4.0)
	assert.InDelta(t, 20+limestone+1.45, q, 0.2)
}

func TestFitRequiresDistinctSnapshots(t *testing.T) {
	snaps := linearPlant(20, 3, true)
	for i := range snaps {
		snaps[i].Timestamp = time.Unix(1700000000+int64(i%5), 0)
	}

	e := Fit(snaps, Options{Logger: zaptest.NewLogger(t)})
	assert.False(t, e.Trained())
	assert.Equal(t, 5, e.Status().Samples)

	_, err := e.Predict(snaps[0].Controls)
	assert.ErrorIs(t, err, ErrUntrained)
	_, err = e.PredictQuality(4, 1450, 150)
	assert.ErrorIs(t, err, ErrUntrained)
}

func TestFitConstantFeaturesLeavesUntrained(t *testing.T) {
	snaps := linearPlant(1, 4, false)
	for i := 1; i < 20; i++ {
		s := snaps[0]
		s.Timestamp = s.Timestamp.Add(time.Duration(i) * time.Second)
		snaps = append(snaps, s)
	}

	e := Fit(snaps, Options{Logger: zaptest.NewLogger(t)})
	assert.False(t, e.Trained())
	assert.Nil(t, e.Status().R2)
}

func TestFitToleratesSomeConstantFeatures(t *testing.T) {
	snaps := linearPlant(30, 5, false)
	for i := range snaps {
		snaps[i].Controls[plant.MixRatio] = 4.0
	}

	e := Fit(snaps, Options{})
	require.True(t, e.Trained())
	got, err := e.Predict(snaps[0].Controls)
	require.NoError(t, err)
	assert.InDelta(t, snaps[0].Constraints[plant.KilnTorque], got[plant.KilnTorque], 0.1)
}

func TestNilEnsemble(t *testing.T) {
	var e *Ensemble
	assert.False(t, e.Trained())
	_, err := e.Predict(plant.ControlVector{})
	assert.ErrorIs(t, err, ErrUntrained)
	assert.Equal(t, Status{}, e.Status())
}

func TestDistinctKeepsLatestPerTimestamp(t *testing.T) {
	ts := time.Unix(100, 0)
	a := plant.Snapshot{Timestamp: ts}
	a.Controls[plant.FeedRate] = 1
	b := plant.Snapshot{Timestamp: ts}
	b.Controls[plant.FeedRate] = 2
	c := plant.Snapshot{Timestamp: ts.Add(-time.Second)}

	out := distinct([]plant.Snapshot{a, b, c})
	require.Len(t, out, 2)
	assert.Equal(t, c.Timestamp, out[0].Timestamp)
	assert.Equal(t, 2.0, out[1].Controls[plant.FeedRate])
}
