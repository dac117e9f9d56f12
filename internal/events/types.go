package events

import "time"

// Event enumerates high-level topics inside the relay.
type Event string

const (
	EventDecision        Event = "signal.decision"
	EventCycleLog        Event = "cycle.log"
	EventOrderDispatched Event = "order.dispatched"
	EventOrderClosed     Event = "order.closed"
	EventTraderStarted   Event = "trader.started"
	EventTraderStopped   Event = "trader.stopped"
)

// DecisionEvent is published after every strategy evaluation.
type DecisionEvent struct {
	TraderID int64     `json:"trader_id"`
	Symbol   string    `json:"symbol"`
	Strategy string    `json:"strategy"`
	Decision string    `json:"decision"`
	At       time.Time `json:"at"`
}

// CycleLogEvent carries one line of the per-cycle log trail for the UI.
type CycleLogEvent struct {
	TraderID int64     `json:"trader_id"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// OrderEvent describes a dispatched or closed slave order.
type OrderEvent struct {
	TraderID int64     `json:"trader_id"`
	Ticket   int64     `json:"ticket"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Volume   float64   `json:"volume"`
	Price    float64   `json:"price"`
	Profit   float64   `json:"profit,omitempty"`
	At       time.Time `json:"at"`
}
