package agent

// Position side codes as reported by the terminal.
const (
	SideBuy  = 0
	SideSell = 1
)

// SideString maps a terminal side code to its DB/API representation.
func SideString(side int) string {
	if side == SideSell {
		return "sell"
	}
	return "buy"
}

// SideFromString maps "buy"/"sell" to the terminal side code.
func SideFromString(s string) int {
	if s == "sell" {
		return SideSell
	}
	return SideBuy
}

// Position is one open position on a terminal.
type Position struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Side       int     `json:"type"`
	Volume     float64 `json:"volume"`
	PriceOpen  float64 `json:"price_open"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	OpenedAt   int64   `json:"time"`
	Profit     float64 `json:"profit"`
}

// Tick is the current bid/ask for a symbol.
type Tick struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// SymbolInfo describes tradability and pricing granularity of a symbol
// on a particular terminal.
type SymbolInfo struct {
	Visible   bool    `json:"visible"`
	TradeMode int     `json:"trade_mode"`
	Spread    int     `json:"spread"`
	Point     float64 `json:"point"`
}

// Tradable reports whether orders can be sent for the symbol.
func (si SymbolInfo) Tradable() bool {
	return si.Visible && si.TradeMode != 0
}

// Candle is one OHLCV bar, oldest-first in returned slices.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"tick_volume"`
}

// OrderRequest is the payload for opening a position.
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume"`
	Side       int     `json:"type"`
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	Comment    string  `json:"comment,omitempty"`
}

// OrderAck is the broker's response to an order request. Retcode
// "done" means the trade executed.
type OrderAck struct {
	Ticket  int64  `json:"ticket"`
	Retcode string `json:"retcode"`
}

// Done reports broker-side success.
func (a OrderAck) Done() bool { return a.Retcode == "done" }

// LoginResult carries the account state returned by a login.
type LoginResult struct {
	Balance float64 `json:"balance"`
}

// CloseResult carries the realized profit of a closed position.
type CloseResult struct {
	Profit float64 `json:"profit"`
}
