package signal

import (
	"math"

	"mt5relay/internal/agent"
	"mt5relay/internal/indicators"
)

// Super layers the EMA cross with MACD, HMA slope and RSI bounds, and
// requires at least one confirmation from {higher-timeframe trend,
// volume spike, ADX strength}. A price gap between the last two bars
// beyond gap_threshold rejects the whole cycle (anti news spike).
type Super struct {
	p Params
}

func (s *Super) Name() string { return "super" }

func (s *Super) Decide(candles []agent.Candle) Decision {
	n := len(candles)
	if n >= 2 {
		prevClose := candles[n-2].Close
		gap := math.Abs(candles[n-1].Open - prevClose)
		if prevClose != 0 && gap > s.p.GapThreshold*math.Abs(prevClose) {
			return DecisionHold
		}
	}

	c := closes(candles)
	emaShort := last(indicators.EMA(c, s.p.EMAShort))
	emaLong := last(indicators.EMA(c, s.p.EMALong))
	rsi := last(indicators.RSI(c, s.p.RSIPeriod))

	macd, sig := indicators.MACD(c, s.p.MACDFast, s.p.MACDSlow, s.p.MACDSignal)
	macdLast := last(macd)
	sigLast := last(sig)

	hma := indicators.HMA(c, s.p.HMAPeriod)
	hmaSlope := math.NaN()
	if len(hma) >= 2 {
		hmaSlope = hma[len(hma)-1] - hma[len(hma)-2]
	}

	coreLong := emaShort > emaLong && macdLast > sigLast && hmaSlope > 0 && rsi < s.p.RSIBuyMax
	coreShort := emaShort < emaLong && macdLast < sigLast && hmaSlope < 0 && rsi > s.p.RSISellMin
	if !coreLong && !coreShort {
		return DecisionHold
	}

	htfUp, htfDown := s.htfTrend(candles)
	volSpike := s.volumeSpike(candles)
	adxOK := last(indicators.ADX(highs(candles), lows(candles), c, s.p.ADXPeriod)) > s.p.ADXMin

	if coreLong && (htfUp || volSpike || adxOK) {
		return DecisionBuy
	}
	if coreShort && (htfDown || volSpike || adxOK) {
		return DecisionSell
	}
	return DecisionHold
}

func (s *Super) ShouldClose(candles []agent.Candle, prev Decision) bool {
	return prev == DecisionBuy || prev == DecisionSell
}

// htfTrend checks the EMA cross on candles compressed into
// higher-timeframe bars (htf_compression source bars each).
func (s *Super) htfTrend(candles []agent.Candle) (up, down bool) {
	factor := s.p.HTFCompression
	if factor <= 1 || len(candles) < factor {
		return false, false
	}
	htfCloses := make([]float64, 0, len(candles)/factor)
	for i := factor - 1; i < len(candles); i += factor {
		htfCloses = append(htfCloses, candles[i].Close)
	}
	emaShort := last(indicators.EMA(htfCloses, s.p.EMAShort))
	emaLong := last(indicators.EMA(htfCloses, s.p.EMALong))
	return emaShort > emaLong, emaShort < emaLong
}

// volumeSpike reports whether the latest bar's volume exceeds
// volume_spike × its lookback average.
func (s *Super) volumeSpike(candles []agent.Candle) bool {
	v := volumes(candles)
	n := len(v)
	lookback := s.p.VolumeLookback
	if lookback <= 0 || n < lookback+1 {
		return false
	}
	sum := 0.0
	for i := n - 1 - lookback; i < n-1; i++ {
		sum += v[i]
	}
	avg := sum / float64(lookback)
	return avg > 0 && v[n-1] > s.p.VolumeSpike*avg
}
