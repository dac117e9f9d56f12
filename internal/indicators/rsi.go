package indicators

// RSI computes the Relative Strength Index over a rolling window of
// simple average gains/losses. The first period values are NaN.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	for i := period; i < len(values); i++ {
		gain := 0.0
		loss := 0.0
		for j := i - period + 1; j <= i; j++ {
			change := values[j] - values[j-1]
			if change > 0 {
				gain += change
			} else {
				loss -= change
			}
		}
		if loss == 0 {
			out[i] = 100
			continue
		}
		rs := gain / loss
		out[i] = 100 - (100 / (1 + rs))
	}
	return out
}
