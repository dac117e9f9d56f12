package db

import "time"

// Server is one MT5 login profile reachable through a terminal agent.
type Server struct {
	ID               int64     `json:"id"`
	Alias            string    `json:"alias"`
	LoginUser        string    `json:"login_user"`
	LoginPassword    string    `json:"-"`
	BrokerServerName string    `json:"broker_server_name"`
	Platform         string    `json:"platform"`
	IP               string    `json:"ip"`
	Port             int       `json:"port"`
	TerminalPath     string    `json:"terminal_path"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Trader is a configured master→slave copy relationship.
type Trader struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Status              string    `json:"status"`
	MasterServerID      int64     `json:"master_server_id"`
	SlaveServerID       int64     `json:"slave_server_id"`
	StopLossPips        float64   `json:"stop_loss_pips"`
	TakeProfitPips      float64   `json:"take_profit_pips"`
	TrailingStopPips    float64   `json:"trailing_stop_pips"`
	VolumeMultiplier    float64   `json:"volume_multiplier"`
	FixedLot            float64   `json:"fixed_lot"`
	SelectedSymbol      string    `json:"selected_symbol"`
	SelectedStrategy    string    `json:"selected_strategy"`
	PollIntervalSeconds int       `json:"poll_interval_seconds"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// MasterOrder is a position observed on the master account and selected
// for replication. At most one row per (trader_id, ticket).
type MasterOrder struct {
	ID         int64     `json:"id"`
	TraderID   int64     `json:"trader_id"`
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Volume     float64   `json:"volume"`
	PriceOpen  float64   `json:"price_open"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

// SlaveOrder is the replicated position on the slave account. While
// ClosedAt is nil the order is live and participates in reconciliation.
type SlaveOrder struct {
	ID            int64      `json:"id"`
	TraderID      int64      `json:"trader_id"`
	MasterOrderID int64      `json:"master_order_id"`
	MasterTicket  int64      `json:"master_ticket"`
	Ticket        int64      `json:"ticket"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Volume        float64    `json:"volume"`
	PriceOpen     float64    `json:"price_open"`
	StopLoss      float64    `json:"stop_loss"`
	TakeProfit    float64    `json:"take_profit"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at"`
	Profit        *float64   `json:"profit"`
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
