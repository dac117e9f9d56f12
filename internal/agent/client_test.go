package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPositionsEmptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/positions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	positions, err := c.Positions(context.Background())
	if err != nil {
		t.Fatalf("flat terminal must not error: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected 0 positions, got %d", len(positions))
	}
}

func TestPositionsUnreachableWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := New(srv.URL, time.Second)
	_, err := c.Positions(context.Background())
	if err == nil {
		t.Fatal("expected error for dead agent")
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestPositionsDecodesTerminalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"ticket":42,"symbol":"EURUSD","type":1,"volume":0.5,"price_open":1.1,"sl":1.2,"tp":1.0,"time":1700000000,"profit":-3.5}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	positions, err := c.Positions(context.Background())
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.Ticket != 42 || p.Symbol != "EURUSD" || p.Side != SideSell || p.Volume != 0.5 {
		t.Errorf("unexpected position: %+v", p)
	}
	if SideString(p.Side) != "sell" {
		t.Errorf("side mapping broken: %q", SideString(p.Side))
	}
}

func TestSendOrderAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ticket":9001,"retcode":"done"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ack, err := c.SendOrder(context.Background(), OrderRequest{Symbol: "EURUSD", Volume: 0.1, Side: SideBuy, Price: 1.1})
	if err != nil {
		t.Fatalf("send order: %v", err)
	}
	if !ack.Done() || ack.Ticket != 9001 {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestCloseBySymbolSendsSymbolAndDecodesAcks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/close_order_by_symbol" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["symbol"] != "EURUSD" {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"ticket":1,"retcode":"done"},{"ticket":2,"retcode":"done"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	acks, err := c.CloseBySymbol(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("close by symbol: %v", err)
	}
	if len(acks) != 2 {
		t.Fatalf("expected 2 acks, got %d", len(acks))
	}
	for _, a := range acks {
		if !a.Done() {
			t.Errorf("ack %d not done: %+v", a.Ticket, a)
		}
	}
}

func TestAgentErrorStatusIsDomainErrorNotUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "symbol not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.SymbolInfo(context.Background(), "NOPE")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnreachable) {
		t.Fatalf("4xx must not look like a transport failure: %v", err)
	}
}
