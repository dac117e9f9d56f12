package signal

import (
	"mt5relay/internal/agent"
	"mt5relay/internal/indicators"
)

// Basic trades the short/long EMA cross bounded by RSI: BUY while the
// short EMA is above the long one and RSI has room below rsi_buy_max,
// SELL on the mirror condition.
type Basic struct {
	p Params
}

func (b *Basic) Name() string { return "basic" }

func (b *Basic) Decide(candles []agent.Candle) Decision {
	c := closes(candles)
	emaShort := last(indicators.EMA(c, b.p.EMAShort))
	emaLong := last(indicators.EMA(c, b.p.EMALong))
	rsi := last(indicators.RSI(c, b.p.RSIPeriod))

	// NaN comparisons are false, so insufficient history lands on HOLD.
	switch {
	case emaShort > emaLong && rsi < b.p.RSIBuyMax:
		return DecisionBuy
	case emaShort < emaLong && rsi > b.p.RSISellMin:
		return DecisionSell
	}
	return DecisionHold
}

func (b *Basic) ShouldClose(candles []agent.Candle, prev Decision) bool {
	return prev == DecisionBuy || prev == DecisionSell
}
