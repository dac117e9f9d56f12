package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mt5relay/internal/agent"
	"mt5relay/internal/events"
	"mt5relay/internal/monitor"
	"mt5relay/pkg/db"
)

// fakeAgent is an in-memory terminal agent for relay tests. It records
// every order and close in arrival order.
type fakeAgent struct {
	mu           sync.Mutex
	positions    []agent.Position
	symbols      map[string]agent.SymbolInfo
	tick         agent.Tick
	candles      []agent.Candle
	closeProfit  float64
	nextTicket   int64
	orderRetcode string
	failClose    map[int64]bool

	orders []agent.OrderRequest
	closed []int64
	ops    []string // "close:<ticket>" and "order:<side>" in call order

	srv *httptest.Server
}

func newFakeAgent(t *testing.T) *fakeAgent {
	t.Helper()
	f := &fakeAgent{
		symbols:      map[string]agent.SymbolInfo{},
		tick:         agent.Tick{Bid: 1.1000, Ask: 1.1002},
		nextTicket:   9000,
		orderRetcode: "done",
		failClose:    map[int64]bool{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAgent) client() *agent.Client {
	return agent.New(f.srv.URL, time.Second)
}

func (f *fakeAgent) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/positions":
		json.NewEncoder(w).Encode(f.positions)

	case strings.HasPrefix(r.URL.Path, "/symbol_info/"):
		sym := strings.TrimPrefix(r.URL.Path, "/symbol_info/")
		info, ok := f.symbols[sym]
		if !ok {
			http.Error(w, "symbol not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(info)

	case strings.HasPrefix(r.URL.Path, "/symbol_tick/"):
		json.NewEncoder(w).Encode(f.tick)

	case r.URL.Path == "/candle/last":
		json.NewEncoder(w).Encode(f.candles)

	case r.URL.Path == "/order":
		var req agent.OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.orders = append(f.orders, req)
		f.ops = append(f.ops, "order:"+agent.SideString(req.Side))
		f.nextTicket++
		json.NewEncoder(w).Encode(agent.OrderAck{Ticket: f.nextTicket, Retcode: f.orderRetcode})

	case strings.HasPrefix(r.URL.Path, "/close_order/"):
		ticket, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/close_order/"), 10, 64)
		f.ops = append(f.ops, "close:"+strconv.FormatInt(ticket, 10))
		if f.failClose[ticket] {
			http.Error(w, "close rejected", http.StatusConflict)
			return
		}
		f.closed = append(f.closed, ticket)
		json.NewEncoder(w).Encode(agent.CloseResult{Profit: f.closeProfit})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAgent) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeAgent) lastOrder() agent.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[len(f.orders)-1]
}

func (f *fakeAgent) closedTickets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.closed...)
}

func (f *fakeAgent) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeAgent) setCloseFailure(ticket int64, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failClose[ticket] = fail
}

func (f *fakeAgent) setPositions(positions []agent.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = positions
}

func newTestService(t *testing.T) (*Service, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := NewService(database, events.NewBus(), monitor.NewMetrics(), "M5", 50)
	return svc, database
}

func testTrader(t *testing.T, database *db.Database) db.Trader {
	t.Helper()
	trader := db.Trader{
		Name:                "test relay",
		Status:              "active",
		StopLossPips:        200,
		TakeProfitPips:      400,
		VolumeMultiplier:    1,
		SelectedSymbol:      "EURUSD",
		SelectedStrategy:    "basic",
		PollIntervalSeconds: 60,
	}
	id, err := database.CreateTrader(context.Background(), trader)
	if err != nil {
		t.Fatalf("create trader: %v", err)
	}
	trader.ID = id
	return trader
}
