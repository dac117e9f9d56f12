package indicators

import "math"

// ADX computes the Average Directional Index: true range and ±DM are
// smoothed with rolling means over period, giving ±DI, DX, and ADX as
// the rolling mean of DX. Warmup values are NaN.
func ADX(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := nanSlice(n)
	if period <= 0 || n < 2*period+1 {
		return out
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr[0] = math.NaN()
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))

		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	trMean := SMA(tr[1:], period)
	plusMean := SMA(plusDM[1:], period)
	minusMean := SMA(minusDM[1:], period)

	dx := nanSlice(n - 1)
	for i := period - 1; i < n-1; i++ {
		if trMean[i] == 0 {
			dx[i] = 0
			continue
		}
		plusDI := 100 * plusMean[i] / trMean[i]
		minusDI := 100 * minusMean[i] / trMean[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}

	adx := SMA(dx[period-1:], period)
	// Re-align: adx[j] corresponds to candle index j + period.
	for j, v := range adx {
		idx := j + period
		if idx < n {
			out[idx] = v
		}
	}
	return out
}
