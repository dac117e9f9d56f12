package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mt5relay/pkg/crypto"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func seedTrader(t *testing.T, database *Database) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := database.CreateTrader(ctx, Trader{
		Name:                "eurusd relay",
		Status:              "active",
		StopLossPips:        200,
		TakeProfitPips:      400,
		VolumeMultiplier:    1,
		SelectedSymbol:      "EURUSD",
		SelectedStrategy:    "basic",
		PollIntervalSeconds: 60,
	})
	if err != nil {
		t.Fatalf("Failed to create trader: %v", err)
	}
	return id
}

func TestRecordLinkageDedupsMasterTicket(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	traderID := seedTrader(t, database)

	master := MasterOrder{
		TraderID: traderID,
		Ticket:   42,
		Symbol:   "EURUSD",
		Side:     "buy",
		Volume:   0.5,
		OpenedAt: time.Now().UTC(),
	}
	slave := SlaveOrder{
		TraderID:     traderID,
		MasterTicket: 42,
		Ticket:       9001,
		Symbol:       "EURUSD",
		Side:         "buy",
		Volume:       0.5,
		OpenedAt:     time.Now().UTC(),
	}

	if _, err := database.RecordLinkage(ctx, master, slave); err != nil {
		t.Fatalf("first linkage: %v", err)
	}

	// A second replication of the same master ticket must not create a
	// second master_orders row.
	slave.Ticket = 9002
	if _, err := database.RecordLinkage(ctx, master, slave); err != nil {
		t.Fatalf("second linkage: %v", err)
	}

	var masterRows int
	if err := database.DB.QueryRow(`SELECT COUNT(*) FROM master_orders WHERE trader_id = ? AND ticket = 42`, traderID).Scan(&masterRows); err != nil {
		t.Fatalf("count master orders: %v", err)
	}
	if masterRows != 1 {
		t.Errorf("expected 1 master order row, got %d", masterRows)
	}

	live, err := database.ListLiveSlaveOrders(ctx, traderID)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live slave orders, got %d", len(live))
	}
	if live[0].MasterOrderID != live[1].MasterOrderID {
		t.Errorf("slave orders link to different master rows: %d vs %d", live[0].MasterOrderID, live[1].MasterOrderID)
	}
}

func TestCloseSlaveOrderIsWrittenExactlyOnce(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	traderID := seedTrader(t, database)

	slaveID, err := database.RecordLinkage(ctx,
		MasterOrder{TraderID: traderID, Ticket: 7, Symbol: "XAUUSD", Side: "sell", Volume: 0.1, OpenedAt: time.Now().UTC()},
		SlaveOrder{TraderID: traderID, MasterTicket: 7, Ticket: 70, Symbol: "XAUUSD", Side: "sell", Volume: 0.1, OpenedAt: time.Now().UTC()},
	)
	if err != nil {
		t.Fatalf("linkage: %v", err)
	}

	if err := database.CloseSlaveOrder(ctx, slaveID, 12.34); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := database.CloseSlaveOrder(ctx, slaveID, 99.99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second close: expected ErrNotFound, got %v", err)
	}

	orders, err := database.ListSlaveOrders(ctx, traderID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 slave order, got %d", len(orders))
	}
	o := orders[0]
	if o.ClosedAt == nil {
		t.Fatal("closed_at not set")
	}
	if o.Profit == nil || *o.Profit != 12.34 {
		t.Errorf("profit from first close expected, got %v", o.Profit)
	}

	live, err := database.ListLiveSlaveOrders(ctx, traderID)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("closed order still listed as live")
	}
}

func TestGetTraderNotFound(t *testing.T) {
	database := newTestDB(t)

	if _, err := database.GetTrader(context.Background(), 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServerPasswordEncryptedAtRest(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	database.SetEncryptor(enc)

	id, err := database.CreateServer(ctx, Server{
		Alias: "demo", LoginUser: "100200", LoginPassword: "Tr@der-2024!",
		BrokerServerName: "Broker-Demo", IP: "10.0.0.5", Port: 5000, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	var stored string
	if err := database.DB.QueryRow(`SELECT login_password FROM servers WHERE id = ?`, id).Scan(&stored); err != nil {
		t.Fatalf("raw select: %v", err)
	}
	if !crypto.IsEncrypted(stored) || strings.Contains(stored, "Tr@der-2024!") {
		t.Fatalf("password not encrypted at rest: %q", stored)
	}

	srv, err := database.GetServer(ctx, id)
	if err != nil {
		t.Fatalf("get server: %v", err)
	}
	if srv.LoginPassword != "Tr@der-2024!" {
		t.Fatalf("decrypted password = %q", srv.LoginPassword)
	}
}

func TestServerPasswordPlaintextWithoutKey(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	id, err := database.CreateServer(ctx, Server{
		Alias: "demo", LoginUser: "100200", LoginPassword: "pw",
		IP: "10.0.0.5", Port: 5000,
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	srv, err := database.GetServer(ctx, id)
	if err != nil {
		t.Fatalf("get server: %v", err)
	}
	if srv.LoginPassword != "pw" {
		t.Fatalf("password = %q, want plaintext passthrough", srv.LoginPassword)
	}
}

func TestCloseSlaveOrderByTicketIgnoresUnknownTicket(t *testing.T) {
	database := newTestDB(t)
	traderID := seedTrader(t, database)

	// Positions opened outside the relay have no slave_orders row.
	if err := database.CloseSlaveOrderByTicket(context.Background(), traderID, 999, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
