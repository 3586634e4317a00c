package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatSeries(n int, price float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = price
	}
	return s
}

func rampSeries(n int, start, step float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = start + float64(i)*step
	}
	return s
}

func TestPartialWindowAverages(t *testing.T) {
	closes := []float64{10, 20, 30}

	// With only 3 entries both averages cover the whole prefix.
	snap := At(closes, 2)
	assert.InDelta(t, 20.0, snap.MA50, 1e-9)
	assert.InDelta(t, 20.0, snap.MA200, 1e-9)

	// First entry: average of a single value.
	snap = At(closes, 0)
	assert.InDelta(t, 10.0, snap.MA50, 1e-9)
	assert.InDelta(t, 10.0, snap.MA200, 1e-9)
}

func TestMA50FullWindow(t *testing.T) {
	closes := rampSeries(120, 1, 1) // 1..120
	snap := At(closes, 119)

	// Mean of the last 50 values: 71..120.
	assert.InDelta(t, (71.0+120.0)/2.0, snap.MA50, 1e-9)
	// MA200 still partial: mean of 1..120.
	assert.InDelta(t, (1.0+120.0)/2.0, snap.MA200, 1e-9)
}

func TestRSIBounds(t *testing.T) {
	series := [][]float64{
		rampSeries(100, 100, 1),
		rampSeries(100, 200, -1),
		{100, 105, 95, 110, 90, 120, 80, 130, 85, 125, 95, 115, 100, 108, 97},
	}

	for _, closes := range series {
		snap := Latest(closes)
		assert.GreaterOrEqual(t, snap.RSI14, 0.0)
		assert.LessOrEqual(t, snap.RSI14, 100.0)
		assert.False(t, math.IsNaN(snap.RSI14))
	}
}

func TestRSIMonotonicSeries(t *testing.T) {
	// Strictly rising prices: no losses, RSI saturates at 100.
	snap := Latest(rampSeries(60, 100, 1))
	assert.InDelta(t, 100.0, snap.RSI14, 1e-9)

	// Strictly falling prices: no gains, RSI is 0.
	snap = Latest(rampSeries(60, 200, -1))
	assert.InDelta(t, 0.0, snap.RSI14, 1e-9)
}

func TestFlatSeriesFallbacks(t *testing.T) {
	snap := Latest(flatSeries(300, 50))

	assert.Equal(t, 50.0, snap.Close)
	assert.Equal(t, 50.0, snap.MA50)
	assert.Equal(t, 50.0, snap.MA200)
	assert.Equal(t, 50.0, snap.RSI14, "flat series RSI is undefined and must fall back to neutral")
	assert.Equal(t, 0.0, snap.Drawdown90)
	assert.Equal(t, 0.0, snap.Vol20)
	assert.Equal(t, 0.0, snap.Momentum30)
}

func TestMomentumWarmup(t *testing.T) {
	closes := rampSeries(100, 100, 1)

	// Undefined for the first 30 entries.
	for i := 0; i < 30; i++ {
		assert.Equal(t, 0.0, At(closes, i).Momentum30, "index %d", i)
	}

	// Defined from entry 30 onward: close[30]/close[0] - 1.
	snap := At(closes, 30)
	assert.InDelta(t, 130.0/100.0-1.0, snap.Momentum30, 1e-9)
}

func TestVolSingleChangeUndefined(t *testing.T) {
	// One pct change only: sample stddev needs two, falls back to 0.
	assert.Equal(t, 0.0, At([]float64{100, 110}, 1).Vol20)

	// Two changes: defined.
	snap := At([]float64{100, 110, 99}, 2)
	assert.Greater(t, snap.Vol20, 0.0)
}

func TestDrawdownAgainstTrailingHigh(t *testing.T) {
	closes := append(flatSeries(90, 100), 80)
	snap := Latest(closes)

	assert.InDelta(t, 100.0, snap.High90, 1e-9)
	assert.InDelta(t, 0.20, snap.Drawdown90, 1e-9)
}

func TestHigh90WindowExpiry(t *testing.T) {
	// The peak falls out of the 90-entry window.
	closes := append([]float64{200}, flatSeries(95, 100)...)
	snap := Latest(closes)
	assert.InDelta(t, 100.0, snap.High90, 1e-9)
	assert.Equal(t, 0.0, snap.Drawdown90)
}

func TestDeterminism(t *testing.T) {
	closes := []float64{100, 105, 95, 110, 90, 120, 80, 130, 85, 125, 95, 115, 100, 108, 97, 103}

	first := Latest(closes)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, Latest(closes))
	}
}

func TestPrefixIndependence(t *testing.T) {
	// The snapshot at idx must not depend on entries after idx.
	long := rampSeries(250, 100, 0.5)
	short := long[:201]

	assert.Equal(t, At(short, 200), At(long, 200))
}
