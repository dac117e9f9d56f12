package signal

import (
	"fmt"
	"math"

	"mt5relay/internal/agent"
)

// Decision is the outcome of one strategy evaluation.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// Strategy decides BUY/SELL/HOLD from an ordered candle series. Decide
// must be pure with respect to market data: same candles and params
// always give the same decision. ShouldClose implements the
// per-strategy close policy applied when the current decision is HOLD:
// Basic and Super flip to flat whenever the previous cycle held a
// position, TrendGuard only when the trend itself has reversed.
type Strategy interface {
	Name() string
	Decide(candles []agent.Candle) Decision
	ShouldClose(candles []agent.Candle, prev Decision) bool
}

// New builds a strategy by its configured name.
func New(name string, p Params) (Strategy, error) {
	switch name {
	case "basic", "":
		return &Basic{p: p}, nil
	case "super":
		return &Super{p: p}, nil
	case "trendguard":
		return &TrendGuard{p: p}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

func closes(candles []agent.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highs(candles []agent.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lows(candles []agent.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func volumes(candles []agent.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
