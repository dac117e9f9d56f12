package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateServer inserts a broker login profile and returns its id. The
// login password is encrypted at rest when a credential key is set.
func (d *Database) CreateServer(ctx context.Context, s Server) (int64, error) {
	password, err := d.sealPassword(s.LoginPassword)
	if err != nil {
		return 0, fmt.Errorf("seal password: %w", err)
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO servers (
			alias, login_user, login_password, broker_server_name, platform, ip, port, terminal_path, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Alias, s.LoginUser, password, s.BrokerServerName, s.Platform, s.IP, s.Port, s.TerminalPath, s.IsActive)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetServer returns a server row or ErrNotFound.
func (d *Database) GetServer(ctx context.Context, id int64) (*Server, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, alias, login_user, login_password, broker_server_name, platform, ip, port, terminal_path, is_active, created_at, updated_at
		FROM servers WHERE id = ?
	`, id)
	var s Server
	if err := row.Scan(&s.ID, &s.Alias, &s.LoginUser, &s.LoginPassword, &s.BrokerServerName, &s.Platform, &s.IP, &s.Port, &s.TerminalPath, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("server %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	password, err := d.openPassword(s.LoginPassword)
	if err != nil {
		return nil, fmt.Errorf("server %d password: %w", id, err)
	}
	s.LoginPassword = password
	return &s, nil
}

// ListServers returns all configured servers.
func (d *Database) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, alias, login_user, login_password, broker_server_name, platform, ip, port, terminal_path, is_active, created_at, updated_at
		FROM servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Server
	for rows.Next() {
		var s Server
		if err := rows.Scan(&s.ID, &s.Alias, &s.LoginUser, &s.LoginPassword, &s.BrokerServerName, &s.Platform, &s.IP, &s.Port, &s.TerminalPath, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		password, err := d.openPassword(s.LoginPassword)
		if err != nil {
			return nil, fmt.Errorf("server %d password: %w", s.ID, err)
		}
		s.LoginPassword = password
		res = append(res, s)
	}
	return res, rows.Err()
}

// DeleteServer removes a server row.
func (d *Database) DeleteServer(ctx context.Context, id int64) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	return err
}

// CreateTrader inserts a trader row and returns its id.
func (d *Database) CreateTrader(ctx context.Context, t Trader) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO traders (
			name, status, master_server_id, slave_server_id,
			stop_loss_pips, take_profit_pips, trailing_stop_pips,
			volume_multiplier, fixed_lot, selected_symbol, selected_strategy, poll_interval_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Name, t.Status, t.MasterServerID, t.SlaveServerID,
		t.StopLossPips, t.TakeProfitPips, t.TrailingStopPips,
		t.VolumeMultiplier, t.FixedLot, t.SelectedSymbol, t.SelectedStrategy, t.PollIntervalSeconds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetTrader returns a trader row or ErrNotFound.
func (d *Database) GetTrader(ctx context.Context, id int64) (*Trader, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, status, master_server_id, slave_server_id,
		       stop_loss_pips, take_profit_pips, trailing_stop_pips,
		       volume_multiplier, fixed_lot, selected_symbol, selected_strategy, poll_interval_seconds,
		       created_at, updated_at
		FROM traders WHERE id = ?
	`, id)
	var t Trader
	if err := row.Scan(&t.ID, &t.Name, &t.Status, &t.MasterServerID, &t.SlaveServerID,
		&t.StopLossPips, &t.TakeProfitPips, &t.TrailingStopPips,
		&t.VolumeMultiplier, &t.FixedLot, &t.SelectedSymbol, &t.SelectedStrategy, &t.PollIntervalSeconds,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("trader %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// ListTraders returns all trader rows.
func (d *Database) ListTraders(ctx context.Context) ([]Trader, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, status, master_server_id, slave_server_id,
		       stop_loss_pips, take_profit_pips, trailing_stop_pips,
		       volume_multiplier, fixed_lot, selected_symbol, selected_strategy, poll_interval_seconds,
		       created_at, updated_at
		FROM traders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trader
	for rows.Next() {
		var t Trader
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.MasterServerID, &t.SlaveServerID,
			&t.StopLossPips, &t.TakeProfitPips, &t.TrailingStopPips,
			&t.VolumeMultiplier, &t.FixedLot, &t.SelectedSymbol, &t.SelectedStrategy, &t.PollIntervalSeconds,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeleteTrader removes a trader row.
func (d *Database) DeleteTrader(ctx context.Context, id int64) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM traders WHERE id = ?`, id)
	return err
}

// UpdateTraderServers rebinds a trader to new master/slave profiles.
func (d *Database) UpdateTraderServers(ctx context.Context, id, masterID, slaveID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE traders
		SET master_server_id = ?, slave_server_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, masterID, slaveID, id)
	return err
}

// UpdateTraderStatus sets the trader status (active/inactive).
func (d *Database) UpdateTraderStatus(ctx context.Context, id int64, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE traders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// GetMasterOrder looks up a replicated master position by its platform
// ticket. Returns ErrNotFound when the ticket has not been recorded.
func (d *Database) GetMasterOrder(ctx context.Context, traderID, ticket int64) (*MasterOrder, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, trader_id, ticket, symbol, side, volume, price_open, stop_loss, take_profit, opened_at
		FROM master_orders WHERE trader_id = ? AND ticket = ?
	`, traderID, ticket)
	var m MasterOrder
	var openedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.TraderID, &m.Ticket, &m.Symbol, &m.Side, &m.Volume, &m.PriceOpen, &m.StopLoss, &m.TakeProfit, &openedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("master order %d/%d: %w", traderID, ticket, ErrNotFound)
		}
		return nil, err
	}
	m.OpenedAt = openedAt.Time
	return &m, nil
}

// RecordLinkage persists the master→slave order linkage: the master row
// is upserted (dedup on trader_id+ticket) and the slave row inserted
// pointing at it, all in one transaction. Returns the slave row id.
func (d *Database) RecordLinkage(ctx context.Context, m MasterOrder, s SlaveOrder) (int64, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO master_orders (trader_id, ticket, symbol, side, volume, price_open, stop_loss, take_profit, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trader_id, ticket) DO NOTHING
	`, m.TraderID, m.Ticket, m.Symbol, m.Side, m.Volume, m.PriceOpen, m.StopLoss, m.TakeProfit, m.OpenedAt); err != nil {
		return 0, fmt.Errorf("upsert master order: %w", err)
	}

	var masterID int64
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM master_orders WHERE trader_id = ? AND ticket = ?
	`, m.TraderID, m.Ticket).Scan(&masterID); err != nil {
		return 0, fmt.Errorf("lookup master order: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO slave_orders (trader_id, master_order_id, master_ticket, ticket, symbol, side, volume, price_open, stop_loss, take_profit, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.TraderID, masterID, s.MasterTicket, s.Ticket, s.Symbol, s.Side, s.Volume, s.PriceOpen, s.StopLoss, s.TakeProfit, s.OpenedAt)
	if err != nil {
		return 0, fmt.Errorf("insert slave order: %w", err)
	}
	slaveID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return slaveID, tx.Commit()
}

// RecordSlaveOrder inserts a slave order opened independently of any
// master position (signal-driven mode); master_order_id stays NULL so
// the row is ignored by master-close reconciliation.
func (d *Database) RecordSlaveOrder(ctx context.Context, s SlaveOrder) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO slave_orders (trader_id, master_order_id, master_ticket, ticket, symbol, side, volume, price_open, stop_loss, take_profit, opened_at)
		VALUES (?, NULL, 0, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.TraderID, s.Ticket, s.Symbol, s.Side, s.Volume, s.PriceOpen, s.StopLoss, s.TakeProfit, s.OpenedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListLiveSlaveOrders returns slave orders not yet closed.
func (d *Database) ListLiveSlaveOrders(ctx context.Context, traderID int64) ([]SlaveOrder, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, trader_id, COALESCE(master_order_id, 0), master_ticket, ticket, symbol, side, volume, price_open, stop_loss, take_profit, opened_at, closed_at, profit
		FROM slave_orders WHERE trader_id = ? AND closed_at IS NULL
		ORDER BY id
	`, traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlaveOrders(rows)
}

// ListSlaveOrders returns the full replication history for a trader.
func (d *Database) ListSlaveOrders(ctx context.Context, traderID int64) ([]SlaveOrder, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, trader_id, COALESCE(master_order_id, 0), master_ticket, ticket, symbol, side, volume, price_open, stop_loss, take_profit, opened_at, closed_at, profit
		FROM slave_orders WHERE trader_id = ?
		ORDER BY id DESC
	`, traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlaveOrders(rows)
}

func scanSlaveOrders(rows *sql.Rows) ([]SlaveOrder, error) {
	var res []SlaveOrder
	for rows.Next() {
		var (
			s        SlaveOrder
			openedAt sql.NullTime
			closedAt sql.NullTime
			profit   sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &s.TraderID, &s.MasterOrderID, &s.MasterTicket, &s.Ticket, &s.Symbol, &s.Side, &s.Volume, &s.PriceOpen, &s.StopLoss, &s.TakeProfit, &openedAt, &closedAt, &profit); err != nil {
			return nil, err
		}
		s.OpenedAt = openedAt.Time
		if closedAt.Valid {
			t := closedAt.Time
			s.ClosedAt = &t
		}
		if profit.Valid {
			p := profit.Float64
			s.Profit = &p
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CloseSlaveOrder marks a live slave order as closed with its realized
// profit. closed_at is written exactly once: a second call for the same
// row returns ErrNotFound.
func (d *Database) CloseSlaveOrder(ctx context.Context, id int64, profit float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE slave_orders SET closed_at = ?, profit = ?
		WHERE id = ? AND closed_at IS NULL
	`, time.Now().UTC(), profit, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("slave order %d already closed or missing: %w", id, ErrNotFound)
	}
	return nil
}

// CloseSlaveOrderByTicket closes a live slave order identified by its
// slave platform ticket. Missing rows are not an error: positions may
// have been opened outside the relay.
func (d *Database) CloseSlaveOrderByTicket(ctx context.Context, traderID, ticket int64, profit float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE slave_orders SET closed_at = ?, profit = ?
		WHERE trader_id = ? AND ticket = ? AND closed_at IS NULL
	`, time.Now().UTC(), profit, traderID, ticket)
	return err
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
