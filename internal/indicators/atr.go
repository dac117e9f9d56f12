package indicators

import "math"

// ATR computes the rolling mean of the high−low range. The previous
// close term of the textbook true range is deliberately omitted; ADX
// uses the full true range where it matters.
func ATR(high, low []float64, period int) []float64 {
	n := len(high)
	if len(low) < n {
		n = len(low)
	}
	ranges := make([]float64, n)
	for i := 0; i < n; i++ {
		ranges[i] = high[i] - low[i]
	}
	return SMA(ranges, period)
}

// Bollinger computes SMA ± k·stddev bands.
func Bollinger(values []float64, period int, k float64) (upper, middle, lower []float64) {
	middle = SMA(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return upper, middle, lower
	}
	for i := period - 1; i < len(values); i++ {
		mean := middle[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(period))
		upper[i] = mean + k*std
		lower[i] = mean - k*std
	}
	return upper, middle, lower
}
