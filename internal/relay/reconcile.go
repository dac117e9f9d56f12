package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"mt5relay/internal/agent"
	"mt5relay/internal/events"
	"mt5relay/pkg/db"
)

// ReconcileClosed detects master positions that have closed and
// removes their orphaned slave counterparts: every live slave order
// whose master_ticket is absent from the master's open set is closed
// on the slave, with closed_at and profit written exactly once.
// Orders opened independently of a master position are left alone.
func (s *Service) ReconcileClosed(ctx context.Context, trader db.Trader, master, slave *agent.Client) (int, error) {
	masterPositions, err := master.Positions(ctx)
	if err != nil {
		s.Metrics.RecordAgentError("positions")
		s.cycleLog(trader.ID, "master unreachable, skipping reconciliation: %v", err)
		return 0, err
	}
	open := make(map[int64]struct{}, len(masterPositions))
	for _, p := range masterPositions {
		open[p.Ticket] = struct{}{}
	}

	live, err := s.DB.ListLiveSlaveOrders(ctx, trader.ID)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, so := range live {
		if so.MasterTicket == 0 {
			continue
		}
		if _, stillOpen := open[so.MasterTicket]; stillOpen {
			continue
		}

		res, err := slave.CloseOrder(ctx, so.Ticket)
		if err != nil {
			s.Metrics.RecordAgentError("close_order")
			s.cycleLog(trader.ID, "reconcile close of ticket %d failed: %v", so.Ticket, err)
			continue
		}
		if err := s.DB.CloseSlaveOrder(ctx, so.ID, res.Profit); err != nil {
			log.Printf("[relay] RECONCILE WRITE FAILED trader=%d slave_order=%d ticket=%d profit=%.2f: %v",
				trader.ID, so.ID, so.Ticket, res.Profit, err)
			continue
		}
		s.Metrics.RecordClose()
		s.publish(events.EventOrderClosed, events.OrderEvent{
			TraderID: trader.ID,
			Ticket:   so.Ticket,
			Symbol:   so.Symbol,
			Side:     so.Side,
			Volume:   so.Volume,
			Profit:   res.Profit,
			At:       time.Now(),
		})
		s.cycleLog(trader.ID, "master ticket %d closed, closed slave ticket %d profit=%.2f",
			so.MasterTicket, so.Ticket, res.Profit)
		closed++
	}
	return closed, nil
}

// CopyMasterPositions replicates every master position not yet
// mirrored onto the slave (full-copy mode). Dedup is on
// (trader_id, master ticket); positions that fail to replicate are
// skipped and retried on the next pass.
func (s *Service) CopyMasterPositions(ctx context.Context, trader db.Trader, master, slave *agent.Client) (int, error) {
	positions, err := master.Positions(ctx)
	if err != nil {
		s.Metrics.RecordAgentError("positions")
		s.cycleLog(trader.ID, "master unreachable, skipping copy: %v", err)
		return 0, err
	}

	copied := 0
	for _, p := range positions {
		_, err := s.DB.GetMasterOrder(ctx, trader.ID, p.Ticket)
		if err == nil {
			continue // already replicated
		}
		if !errors.Is(err, db.ErrNotFound) {
			return copied, err
		}

		if _, err := s.OpenOrder(ctx, trader, slave, DispatchRequest{
			Side:             p.Side,
			Symbol:           p.Symbol,
			MasterVolume:     p.Volume,
			MasterTicket:     p.Ticket,
			MasterPriceOpen:  p.PriceOpen,
			MasterStopLoss:   p.StopLoss,
			MasterTakeProfit: p.TakeProfit,
			Comment:          "copy",
		}); err != nil {
			continue
		}
		copied++
	}
	return copied, nil
}
