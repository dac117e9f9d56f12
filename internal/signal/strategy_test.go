package signal

import (
	"testing"

	"mt5relay/internal/agent"
)

// linearCandles builds a strictly trending series with a fixed bar
// range and flat volume.
func linearCandles(n int, start, step, barRange, volume float64) []agent.Candle {
	out := make([]agent.Candle, n)
	for i := 0; i < n; i++ {
		close := start + float64(i)*step
		out[i] = agent.Candle{
			Time:   int64(i),
			Open:   close - step,
			High:   close + barRange/2,
			Low:    close - barRange/2,
			Close:  close,
			Volume: volume,
		}
	}
	return out
}

// rampThenDrift builds a 26-bar ramp followed by 14 bars of small
// alternating moves, keeping the trend while holding RSI inside the
// 32/68 bounds.
func rampThenDrift(up bool) []agent.Candle {
	sign := 1.0
	start := 1.0
	if !up {
		sign = -1.0
		start = 1.25
	}
	out := make([]agent.Candle, 0, 40)
	close := start
	push := func(c float64) {
		out = append(out, agent.Candle{
			Time: int64(len(out)), Open: close, High: c + 0.001, Low: c - 0.001, Close: c, Volume: 100,
		})
		close = c
	}
	for i := 1; i <= 25; i++ {
		push(start + sign*0.01*float64(i))
	}
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			push(close + sign*0.002)
		} else {
			push(close - sign*0.001)
		}
	}
	return out
}

func TestBasicDecisions(t *testing.T) {
	strat, err := New("basic", baseParams())
	if err != nil {
		t.Fatalf("new basic: %v", err)
	}

	tests := []struct {
		name    string
		candles []agent.Candle
		want    Decision
	}{
		{"uptrend with moderate rsi", rampThenDrift(true), DecisionBuy},
		{"downtrend with moderate rsi", rampThenDrift(false), DecisionSell},
		{"insufficient history", linearCandles(3, 1.0, 0.01, 0.002, 100), DecisionHold},
		{"empty series", nil, DecisionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strat.Decide(tt.candles); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBasicDecideIsPure(t *testing.T) {
	strat, _ := New("basic", baseParams())
	candles := rampThenDrift(true)
	first := strat.Decide(candles)
	for i := 0; i < 5; i++ {
		if got := strat.Decide(candles); got != first {
			t.Fatalf("decision changed on identical input: %v then %v", first, got)
		}
	}
}

func TestBasicClosesOnHold(t *testing.T) {
	strat, _ := New("basic", baseParams())
	candles := rampThenDrift(true)
	if !strat.ShouldClose(candles, DecisionBuy) {
		t.Error("basic must flip to flat after a BUY when the signal cools")
	}
	if !strat.ShouldClose(candles, DecisionSell) {
		t.Error("basic must flip to flat after a SELL when the signal cools")
	}
	if strat.ShouldClose(candles, DecisionHold) {
		t.Error("nothing to close after HOLD")
	}
}

func TestSuperGapForcesHold(t *testing.T) {
	p := baseParams()
	p.RSIBuyMax = 101 // ensure the gap, not RSI, is what blocks the trade
	strat, _ := New("super", p)

	candles := linearCandles(60, 1.0, 0.01, 0.002, 100)
	candles[len(candles)-1].Volume = 1000 // confirmation present

	if got := strat.Decide(candles); got != DecisionBuy {
		t.Fatalf("precondition: gapless series should BUY, got %v", got)
	}

	// 1% opening gap vs a 0.1% threshold.
	prevClose := candles[len(candles)-2].Close
	candles[len(candles)-1].Open = prevClose * 1.01
	if got := strat.Decide(candles); got != DecisionHold {
		t.Errorf("gapped series: Decide() = %v, want HOLD", got)
	}
}

func TestSuperNeedsAConfirmation(t *testing.T) {
	p := baseParams()
	p.RSIBuyMax = 101
	p.ADXMin = 101      // ADX can never confirm
	p.HTFCompression = 0 // higher timeframe disabled
	strat, _ := New("super", p)

	candles := linearCandles(60, 1.0, 0.01, 0.002, 100)
	if got := strat.Decide(candles); got != DecisionHold {
		t.Fatalf("core condition without confirmation must HOLD, got %v", got)
	}

	candles[len(candles)-1].Volume = 1000
	if got := strat.Decide(candles); got != DecisionBuy {
		t.Errorf("volume spike should confirm the BUY, got %v", got)
	}
}

func TestSuperSellSymmetric(t *testing.T) {
	p := baseParams()
	p.RSISellMin = -1
	strat, _ := New("super", p)

	candles := linearCandles(60, 2.0, -0.01, 0.002, 100)
	candles[len(candles)-1].Volume = 1000
	if got := strat.Decide(candles); got != DecisionSell {
		t.Errorf("downtrend with confirmation: Decide() = %v, want SELL", got)
	}
}

func TestTrendGuardVolatilityFloor(t *testing.T) {
	p := baseParams()
	p.RSIBuyMax = 101
	strat, _ := New("trendguard", p)

	// Uniform volatility: the trend trades.
	active := linearCandles(45, 1.0, 0.01, 1.0, 100)
	if got := strat.Decide(active); got != DecisionBuy {
		t.Fatalf("uniform volatility uptrend: Decide() = %v, want BUY", got)
	}

	// Same trend, but the last 15 bars squeeze to a sliver of the
	// earlier range: ATR falls under 0.7× its mean.
	squeezed := linearCandles(45, 1.0, 0.01, 1.0, 100)
	for i := 30; i < 45; i++ {
		mid := squeezed[i].Close
		squeezed[i].High = mid + 0.005
		squeezed[i].Low = mid - 0.005
	}
	if got := strat.Decide(squeezed); got != DecisionHold {
		t.Errorf("volatility squeeze: Decide() = %v, want HOLD", got)
	}
}

func TestTrendGuardHysteresis(t *testing.T) {
	strat, _ := New("trendguard", baseParams())

	rising := linearCandles(45, 1.0, 0.01, 0.02, 100)
	falling := linearCandles(45, 2.0, -0.01, 0.02, 100)

	if strat.ShouldClose(rising, DecisionBuy) {
		t.Error("BUY held while short EMA stays above long EMA")
	}
	if !strat.ShouldClose(falling, DecisionBuy) {
		t.Error("BUY released once the EMA trend reverses")
	}
	if strat.ShouldClose(falling, DecisionSell) {
		t.Error("SELL held while short EMA stays below long EMA")
	}
	if !strat.ShouldClose(rising, DecisionSell) {
		t.Error("SELL released once the EMA trend reverses")
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	if _, err := New("martingale", baseParams()); err == nil {
		t.Fatal("expected error for unknown strategy name")
	}
}
