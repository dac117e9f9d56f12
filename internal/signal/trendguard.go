package signal

import (
	"math"

	"mt5relay/internal/agent"
	"mt5relay/internal/indicators"
)

// TrendGuard is the EMA/RSI cross with a volatility floor: when ATR
// drops below atr_floor × its own mean the market is considered too
// quiet to trade. Exits are hysteresis-based: an open position is held
// until the EMA relationship that produced it reverses, regardless of
// momentary RSI readings.
type TrendGuard struct {
	p Params
}

func (t *TrendGuard) Name() string { return "trendguard" }

func (t *TrendGuard) Decide(candles []agent.Candle) Decision {
	atr := indicators.ATR(highs(candles), lows(candles), t.p.ATRPeriod)
	atrLast := last(atr)
	if math.IsNaN(atrLast) || atrLast < t.p.ATRFloor*mean(atr) {
		return DecisionHold
	}

	c := closes(candles)
	emaShort := last(indicators.EMA(c, t.p.EMAShort))
	emaLong := last(indicators.EMA(c, t.p.EMALong))
	rsi := last(indicators.RSI(c, t.p.RSIPeriod))

	switch {
	case emaShort > emaLong && rsi < t.p.RSIBuyMax:
		return DecisionBuy
	case emaShort < emaLong && rsi > t.p.RSISellMin:
		return DecisionSell
	}
	return DecisionHold
}

// ShouldClose keeps the position while the EMA trend that opened it
// still holds; only a trend reversal releases it.
func (t *TrendGuard) ShouldClose(candles []agent.Candle, prev Decision) bool {
	c := closes(candles)
	emaShort := last(indicators.EMA(c, t.p.EMAShort))
	emaLong := last(indicators.EMA(c, t.p.EMALong))

	switch prev {
	case DecisionBuy:
		return emaShort < emaLong
	case DecisionSell:
		return emaShort > emaLong
	}
	return false
}

func mean(series []float64) float64 {
	sum := 0.0
	n := 0
	for _, v := range series {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
