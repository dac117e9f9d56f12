package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mt5relay/internal/agent"
	"mt5relay/internal/events"
	"mt5relay/internal/monitor"
	"mt5relay/internal/signal"
	"mt5relay/pkg/cache"
	"mt5relay/pkg/db"
)

// Service is the position reconciliation and order dispatch state
// machine. It owns all writes to master_orders/slave_orders.
type Service struct {
	DB      *db.Database
	Bus     *events.Bus
	Metrics *monitor.Metrics

	// Candle fetch parameters for signal evaluation.
	Timeframe   string
	CandleCount int

	symbols *cache.SymbolInfoCache
}

// NewService wires the relay around its collaborators.
func NewService(database *db.Database, bus *events.Bus, metrics *monitor.Metrics, timeframe string, candleCount int) *Service {
	if timeframe == "" {
		timeframe = "M5"
	}
	if candleCount <= 0 {
		candleCount = 50
	}
	return &Service{
		DB:          database,
		Bus:         bus,
		Metrics:     metrics,
		Timeframe:   timeframe,
		CandleCount: candleCount,
		symbols:     cache.NewSymbolInfoCache(5 * time.Minute),
	}
}

// DispatchRequest describes one order to open on the slave. Zero
// values fall back to the trader's configured risk parameters.
type DispatchRequest struct {
	Side         int
	Symbol       string
	Volume       float64 // explicit lot; 0 derives from MasterVolume
	MasterVolume float64 // master position size, scaled by the multiplier
	SLPips       float64
	TPPips       float64
	Comment      string

	// Master position being replicated; ticket 0 means the order is
	// opened independently of any master position.
	MasterTicket     int64
	MasterPriceOpen  float64
	MasterStopLoss   float64
	MasterTakeProfit float64
}

// Default lot when neither an explicit volume, a fixed lot, nor a
// master volume is available (pure signal mode).
const defaultBaseLot = 0.10

// CycleOutcome reports one polling cycle. Decision is what the
// strategy said this cycle; Next is the state the following cycle
// treats as previous. A plain HOLD keeps Next at the held side so
// close policies can still see which direction is open.
type CycleOutcome struct {
	Decision signal.Decision
	Next     signal.Decision
}

// RunCycle executes one polling cycle for a trader: fetch candles from
// the master terminal, decide, and apply the decision against the
// slave's live position set. On an unreachable dependency the cycle is
// skipped and Next carries prev unchanged.
func (s *Service) RunCycle(ctx context.Context, trader db.Trader, master, slave *agent.Client, strat signal.Strategy, prev signal.Decision) (CycleOutcome, error) {
	start := time.Now()

	candles, err := master.LastCandles(ctx, trader.SelectedSymbol, s.Timeframe, s.CandleCount)
	if err != nil {
		s.Metrics.RecordAgentError("candle/last")
		s.cycleLog(trader.ID, "master candles unavailable, skipping cycle: %v", err)
		return CycleOutcome{Decision: prev, Next: prev}, err
	}

	decision := strat.Decide(candles)
	s.Metrics.RecordDecision(string(decision))
	s.publish(events.EventDecision, events.DecisionEvent{
		TraderID: trader.ID,
		Symbol:   trader.SelectedSymbol,
		Strategy: strat.Name(),
		Decision: string(decision),
		At:       time.Now(),
	})
	s.cycleLog(trader.ID, "strategy %s on %s decided %s", strat.Name(), trader.SelectedSymbol, decision)

	closeOnHold := false
	if decision == signal.DecisionHold {
		closeOnHold = strat.ShouldClose(candles, prev)
	}

	settled, err := s.ApplyDecision(ctx, trader, slave, decision, closeOnHold)
	if err != nil {
		return CycleOutcome{Decision: decision, Next: prev}, err
	}

	// Advance the held-side state only when the slave's book actually
	// reached the decided shape; otherwise the next cycle retries.
	next := prev
	switch {
	case decision == signal.DecisionBuy || decision == signal.DecisionSell:
		if settled {
			next = decision
		}
	case closeOnHold && settled:
		next = signal.DecisionHold
	}

	s.Metrics.ObserveCycle(strat.Name(), time.Since(start))
	return CycleOutcome{Decision: decision, Next: next}, nil
}

// ApplyDecision reconciles a decision against the slave's open
// positions: reverse-close the opposing side first, skip when a
// matching position is already open, otherwise dispatch. An
// unreachable slave aborts with no dispatches and no DB writes.
// The returned flag reports whether the slave's book settled into the
// decided shape; false with a nil error means an opposing close failed
// and the dispatch is deferred, so the slave never holds both sides of
// the symbol at once.
func (s *Service) ApplyDecision(ctx context.Context, trader db.Trader, slave *agent.Client, decision signal.Decision, closeOnHold bool) (bool, error) {
	positions, err := slave.Positions(ctx)
	if err != nil {
		s.Metrics.RecordAgentError("positions")
		s.cycleLog(trader.ID, "slave unreachable, skipping cycle: %v", err)
		return false, err
	}

	symbol := NormalizeSymbol(trader.SelectedSymbol)
	var buys, sells []agent.Position
	for _, p := range positions {
		if NormalizeSymbol(p.Symbol) != symbol {
			continue
		}
		if p.Side == agent.SideBuy {
			buys = append(buys, p)
		} else {
			sells = append(sells, p)
		}
	}

	switch decision {
	case signal.DecisionBuy:
		// Never hold both sides of the same symbol: every opposing
		// SELL must be gone before the BUY goes out. A failed close
		// defers the dispatch to the next cycle.
		if _, failed := s.closePositions(ctx, trader, slave, sells); failed > 0 {
			s.cycleLog(trader.ID, "%d opposing close(s) failed on %s, holding BUY dispatch", failed, trader.SelectedSymbol)
			return false, nil
		}
		if len(buys) > 0 {
			s.cycleLog(trader.ID, "BUY already open on %s, skipping dispatch", trader.SelectedSymbol)
			return true, nil
		}
		if _, err := s.OpenOrder(ctx, trader, slave, DispatchRequest{
			Side:   agent.SideBuy,
			Symbol: trader.SelectedSymbol,
		}); err != nil {
			return false, err
		}
		return true, nil

	case signal.DecisionSell:
		if _, failed := s.closePositions(ctx, trader, slave, buys); failed > 0 {
			s.cycleLog(trader.ID, "%d opposing close(s) failed on %s, holding SELL dispatch", failed, trader.SelectedSymbol)
			return false, nil
		}
		if len(sells) > 0 {
			s.cycleLog(trader.ID, "SELL already open on %s, skipping dispatch", trader.SelectedSymbol)
			return true, nil
		}
		if _, err := s.OpenOrder(ctx, trader, slave, DispatchRequest{
			Side:   agent.SideSell,
			Symbol: trader.SelectedSymbol,
		}); err != nil {
			return false, err
		}
		return true, nil

	case signal.DecisionHold:
		if closeOnHold && (len(buys) > 0 || len(sells) > 0) {
			s.cycleLog(trader.ID, "flip to flat on %s", trader.SelectedSymbol)
			_, failed := s.closePositions(ctx, trader, slave, append(buys, sells...))
			return failed == 0, nil
		}
	}
	return true, nil
}

// OpenOrder resolves the symbol on the slave (normalizing broker
// suffixes when needed), prices SL/TP from pip distances, sizes the
// lot, dispatches, and persists the order linkage.
func (s *Service) OpenOrder(ctx context.Context, trader db.Trader, slave *agent.Client, req DispatchRequest) (*agent.OrderAck, error) {
	symbol, info, err := s.resolveSymbol(ctx, slave, req.Symbol)
	if err != nil {
		s.Metrics.RecordAgentError("symbol_info")
		s.cycleLog(trader.ID, "symbol %s not tradable on slave, skipping: %v", req.Symbol, err)
		return nil, err
	}

	tick, err := slave.SymbolTick(ctx, symbol)
	if err != nil {
		s.Metrics.RecordAgentError("symbol_tick")
		s.cycleLog(trader.ID, "no tick for %s, skipping: %v", symbol, err)
		return nil, err
	}

	slPips := req.SLPips
	if slPips <= 0 {
		slPips = trader.StopLossPips
	}
	tpPips := req.TPPips
	if tpPips <= 0 {
		tpPips = trader.TakeProfitPips
	}

	var price, sl, tp float64
	if req.Side == agent.SideBuy {
		price = tick.Ask
		if slPips > 0 {
			sl = price - slPips*info.Point
		}
		if tpPips > 0 {
			tp = price + tpPips*info.Point
		}
	} else {
		price = tick.Bid
		if slPips > 0 {
			sl = price + slPips*info.Point
		}
		if tpPips > 0 {
			tp = price - tpPips*info.Point
		}
	}

	volume := s.sizeVolume(trader, req)

	ack, err := slave.SendOrder(ctx, agent.OrderRequest{
		Symbol:     symbol,
		Volume:     volume,
		Side:       req.Side,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    req.Comment,
	})
	if err != nil {
		s.Metrics.RecordAgentError("order")
		s.cycleLog(trader.ID, "order dispatch failed for %s %s: %v", agent.SideString(req.Side), symbol, err)
		return nil, err
	}
	if !ack.Done() {
		s.cycleLog(trader.ID, "order rejected by broker: %s %s retcode=%s", agent.SideString(req.Side), symbol, ack.Retcode)
		return nil, fmt.Errorf("order rejected: retcode %s", ack.Retcode)
	}

	now := time.Now().UTC()
	slaveRow := db.SlaveOrder{
		TraderID:     trader.ID,
		MasterTicket: req.MasterTicket,
		Ticket:       ack.Ticket,
		Symbol:       symbol,
		Side:         agent.SideString(req.Side),
		Volume:       volume,
		PriceOpen:    price,
		StopLoss:     sl,
		TakeProfit:   tp,
		OpenedAt:     now,
	}

	var persistErr error
	if req.MasterTicket != 0 {
		masterVolume := req.MasterVolume
		if masterVolume <= 0 {
			masterVolume = volume
		}
		_, persistErr = s.DB.RecordLinkage(ctx, db.MasterOrder{
			TraderID:   trader.ID,
			Ticket:     req.MasterTicket,
			Symbol:     req.Symbol,
			Side:       agent.SideString(req.Side),
			Volume:     masterVolume,
			PriceOpen:  req.MasterPriceOpen,
			StopLoss:   req.MasterStopLoss,
			TakeProfit: req.MasterTakeProfit,
			OpenedAt:   now,
		}, slaveRow)
	} else {
		_, persistErr = s.DB.RecordSlaveOrder(ctx, slaveRow)
	}
	if persistErr != nil {
		// The order is live on the broker but the linkage write
		// failed; log every detail needed for manual reconciliation.
		log.Printf("[relay] LINKAGE WRITE FAILED trader=%d ticket=%d master_ticket=%d symbol=%s side=%s volume=%.2f price=%.5f sl=%.5f tp=%.5f: %v",
			trader.ID, ack.Ticket, req.MasterTicket, symbol, agent.SideString(req.Side), volume, price, sl, tp, persistErr)
	}

	s.Metrics.RecordDispatch()
	s.publish(events.EventOrderDispatched, events.OrderEvent{
		TraderID: trader.ID,
		Ticket:   ack.Ticket,
		Symbol:   symbol,
		Side:     agent.SideString(req.Side),
		Volume:   volume,
		Price:    price,
		At:       now,
	})
	s.cycleLog(trader.ID, "dispatched %s %s %.2f @ %.5f sl=%.5f tp=%.5f ticket=%d",
		agent.SideString(req.Side), symbol, volume, price, sl, tp, ack.Ticket)
	return ack, nil
}

// CloseSymbol closes every slave position on the trader's symbol and
// records the realized profits.
func (s *Service) CloseSymbol(ctx context.Context, trader db.Trader, slave *agent.Client, symbol string) (int, error) {
	positions, err := slave.Positions(ctx)
	if err != nil {
		s.Metrics.RecordAgentError("positions")
		return 0, err
	}
	want := NormalizeSymbol(symbol)
	var matched []agent.Position
	for _, p := range positions {
		if NormalizeSymbol(p.Symbol) == want {
			matched = append(matched, p)
		}
	}
	closed, _ := s.closePositions(ctx, trader, slave, matched)
	return closed, nil
}

// closePositions closes the given slave positions one by one and
// reports how many closed and how many failed. Failures are logged and
// skipped: the next cycle retries naturally.
func (s *Service) closePositions(ctx context.Context, trader db.Trader, slave *agent.Client, positions []agent.Position) (closed, failed int) {
	for _, p := range positions {
		res, err := slave.CloseOrder(ctx, p.Ticket)
		if err != nil {
			s.Metrics.RecordAgentError("close_order")
			s.cycleLog(trader.ID, "close of ticket %d failed: %v", p.Ticket, err)
			failed++
			continue
		}
		if err := s.DB.CloseSlaveOrderByTicket(ctx, trader.ID, p.Ticket, res.Profit); err != nil {
			log.Printf("[relay] CLOSE WRITE FAILED trader=%d ticket=%d profit=%.2f: %v", trader.ID, p.Ticket, res.Profit, err)
		}
		s.Metrics.RecordClose()
		s.publish(events.EventOrderClosed, events.OrderEvent{
			TraderID: trader.ID,
			Ticket:   p.Ticket,
			Symbol:   p.Symbol,
			Side:     agent.SideString(p.Side),
			Volume:   p.Volume,
			Profit:   res.Profit,
			At:       time.Now(),
		})
		s.cycleLog(trader.ID, "closed %s ticket=%d profit=%.2f", p.Symbol, p.Ticket, res.Profit)
		closed++
	}
	return closed, failed
}

// resolveSymbol checks tradability under the given name and retries
// once under the suffix-normalized name. Transport failures are not
// retried: unreachable means skip the cycle. Successful lookups are
// cached per terminal, point size and tradability change rarely.
func (s *Service) resolveSymbol(ctx context.Context, slave *agent.Client, symbol string) (string, *agent.SymbolInfo, error) {
	for _, name := range []string{symbol, NormalizeSymbol(symbol)} {
		if cached, ok := s.symbols.Get(cache.Key(slave.BaseURL(), name)); ok {
			return name, &cached, nil
		}
	}

	info, err := slave.SymbolInfo(ctx, symbol)
	if err == nil && info.Tradable() {
		s.symbols.Set(cache.Key(slave.BaseURL(), symbol), *info)
		return symbol, info, nil
	}
	if errors.Is(err, agent.ErrUnreachable) {
		return "", nil, err
	}

	normalized := NormalizeSymbol(symbol)
	if normalized == symbol {
		if err != nil {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("symbol %s not tradable", symbol)
	}

	info, err = slave.SymbolInfo(ctx, normalized)
	if err != nil {
		return "", nil, err
	}
	if !info.Tradable() {
		return "", nil, fmt.Errorf("symbol %s not tradable (tried %s)", symbol, normalized)
	}
	s.symbols.Set(cache.Key(slave.BaseURL(), normalized), *info)
	return normalized, info, nil
}

func (s *Service) sizeVolume(trader db.Trader, req DispatchRequest) float64 {
	if req.Volume > 0 {
		return req.Volume
	}
	if trader.FixedLot > 0 {
		return trader.FixedLot
	}
	base := req.MasterVolume
	if base <= 0 {
		base = defaultBaseLot
	}
	multiplier := trader.VolumeMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return base * multiplier
}

func (s *Service) publish(e events.Event, payload any) {
	if s.Bus != nil {
		s.Bus.Publish(e, payload)
	}
}

// cycleLog writes one line of the per-cycle trail to the audit log and
// the event bus for the UI.
func (s *Service) cycleLog(traderID int64, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[relay] trader=%d %s", traderID, msg)
	s.publish(events.EventCycleLog, events.CycleLogEvent{
		TraderID: traderID,
		Message:  msg,
		At:       time.Now(),
	})
}
