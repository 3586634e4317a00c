package indicators

import "math"

// Default lookback windows. These mirror the historical behaviour of the
// scoring bot: moving averages and volatility tolerate partial windows for
// the first entries of a series, so early-history values are averages over
// whatever data exists rather than being rejected.
const (
	maShortWindow  = 50
	maLongWindow   = 200
	rsiPeriod      = 14
	highWindow     = 90
	volWindow      = 20
	momentumWindow = 30
	MinHistoryBars = 200 // MA200 warm-up required for historical scoring
)

// Snapshot holds the derived per-day metrics for one entry of a price
// series, computed against the prefix ending at that entry. All fields are
// finite: undefined readings are resolved to their documented fallbacks
// (RSI 50, drawdown/volatility/momentum 0) before the snapshot is built,
// so formula evaluation never observes NaN.
type Snapshot struct {
	Close      float64
	MA50       float64
	MA200      float64
	RSI14      float64
	High90     float64
	Drawdown90 float64
	Vol20      float64
	Momentum30 float64
}

// At computes the snapshot for the prefix closes[0..idx]. It is
// deterministic and side-effect free; idx must be within range.
func At(closes []float64, idx int) Snapshot {
	c := closes[idx]
	high90 := rollingMax(closes, idx, highWindow)

	drawdown := math.NaN()
	if high90 != 0 {
		drawdown = (high90 - c) / high90
	}

	momentum := math.NaN()
	if idx >= momentumWindow && closes[idx-momentumWindow] != 0 {
		momentum = c/closes[idx-momentumWindow] - 1.0
	}

	return Snapshot{
		Close:      c,
		MA50:       sma(closes, idx, maShortWindow),
		MA200:      sma(closes, idx, maLongWindow),
		RSI14:      finiteOr(rsi(closes, idx, rsiPeriod), 50.0),
		High90:     high90,
		Drawdown90: finiteOr(drawdown, 0.0),
		Vol20:      finiteOr(vol(closes, idx, volWindow), 0.0),
		Momentum30: finiteOr(momentum, 0.0),
	}
}

// Latest computes the snapshot for the last entry of the series
func Latest(closes []float64) Snapshot {
	return At(closes, len(closes)-1)
}

// sma is a simple moving average over the trailing window entries,
// averaging over whatever is available when the prefix is shorter.
func sma(closes []float64, idx, window int) float64 {
	start := idx - window + 1
	if start < 0 {
		start = 0
	}

	var sum float64
	for i := start; i <= idx; i++ {
		sum += closes[i]
	}
	return sum / float64(idx-start+1)
}

// rollingMax is the maximum close over the trailing window entries
func rollingMax(closes []float64, idx, window int) float64 {
	start := idx - window + 1
	if start < 0 {
		start = 0
	}

	max := closes[start]
	for i := start + 1; i <= idx; i++ {
		if closes[i] > max {
			max = closes[i]
		}
	}
	return max
}

// rsi computes a Wilder-style RSI with exponential smoothing over the
// positive and negative daily deltas of the whole prefix. The smoothing
// factor is alpha = 1/period (a period-1 center of mass), seeded with the
// first delta. Returns NaN when no delta exists or the series is flat.
func rsi(closes []float64, idx, period int) float64 {
	if idx < 1 {
		return math.NaN()
	}

	alpha := 1.0 / float64(period)

	var avgGain, avgLoss float64
	for i := 1; i <= idx; i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}

		if i == 1 {
			avgGain, avgLoss = gain, loss
			continue
		}
		avgGain = (1-alpha)*avgGain + alpha*gain
		avgLoss = (1-alpha)*avgLoss + alpha*loss
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN() // flat series, 0/0
		}
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// vol is the sample standard deviation of day-over-day percentage change
// over the trailing window entries. Needs at least two changes in the
// window; returns NaN otherwise.
func vol(closes []float64, idx, window int) float64 {
	// Percentage changes exist from index 1 onward.
	start := idx - window + 1
	if start < 1 {
		start = 1
	}
	n := idx - start + 1
	if n < 2 {
		return math.NaN()
	}

	changes := make([]float64, 0, n)
	for i := start; i <= idx; i++ {
		changes = append(changes, closes[i]/closes[i-1]-1.0)
	}

	var sum float64
	for _, c := range changes {
		sum += c
	}
	mean := sum / float64(n)

	var sq float64
	for _, c := range changes {
		d := c - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
