package indicators

// MACD computes the MACD line (EMA(fast) − EMA(slow)) and its signal
// line (EMA of the MACD line over signalPeriod).
func MACD(values []float64, fast, slow, signalPeriod int) (macd, signal []float64) {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	macd = make([]float64, len(values))
	for i := range values {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	signal = EMA(macd, signalPeriod)
	return macd, signal
}
