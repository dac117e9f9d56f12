package indicators

import "math"

// SMA computes the rolling simple moving average. The first period-1
// values are NaN (insufficient history).
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average with α = 2/(period+1),
// seeded by the first value (no bias adjustment).
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// WMA computes the linearly weighted moving average; weights 1..period,
// newest value heaviest. NaN until a full window is available.
func WMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	denom := float64(period*(period+1)) / 2.0
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-period+1+j] * float64(j+1)
		}
		out[i] = sum / denom
	}
	return out
}

// HMA computes the Hull moving average:
// WMA(2·WMA(period/2) − WMA(period), √period).
func HMA(values []float64, period int) []float64 {
	if period <= 1 || len(values) == 0 {
		return nanSlice(len(values))
	}
	half := WMA(values, period/2)
	full := WMA(values, period)
	raw := make([]float64, len(values))
	for i := range values {
		raw[i] = 2*half[i] - full[i] // NaN propagates
	}
	sqrtPeriod := int(math.Sqrt(float64(period)))
	if sqrtPeriod < 1 {
		sqrtPeriod = 1
	}
	return WMA(raw, sqrtPeriod)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
