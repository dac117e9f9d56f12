package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"mt5relay/internal/agent"
	"mt5relay/internal/events"
	"mt5relay/internal/monitor"
	"mt5relay/internal/relay"
	"mt5relay/internal/signal"
	"mt5relay/pkg/db"
)

// Start/stop outcomes reported to the API layer.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
	StatusNotRunning     = "not_running"
)

// Manager owns the per-trader polling sessions. All session state is
// trader-scoped; the registry map is the only shared structure.
type Manager struct {
	db      *db.Database
	relay   *relay.Service
	bus     *events.Bus
	metrics *monitor.Metrics
	params  map[string]signal.Params

	defaultInterval time.Duration
	agentTimeout    time.Duration

	mu       sync.Mutex
	sessions map[int64]*session
}

// Overrides are per-start knobs layered over the trader's stored
// configuration. Zero values leave the stored value in place.
type Overrides struct {
	StopLossPips    float64
	TakeProfitPips  float64
	IntervalSeconds int
	Symbol          string
	Strategy        string
}

type session struct {
	trader   db.Trader
	master   *agent.Client
	slave    *agent.Client
	strategy signal.Strategy
	interval time.Duration

	masterSrv db.Server
	slaveSrv  db.Server

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	last   signal.Decision
	lastAt time.Time
}

func (s *session) setLast(d signal.Decision) {
	s.mu.Lock()
	s.last = d
	s.lastAt = time.Now()
	s.mu.Unlock()
}

func (s *session) lastDecision() (signal.Decision, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

// NewManager wires the session registry.
func NewManager(database *db.Database, relaySvc *relay.Service, bus *events.Bus, metrics *monitor.Metrics,
	params map[string]signal.Params, defaultInterval, agentTimeout time.Duration) *Manager {
	if defaultInterval <= 0 {
		defaultInterval = time.Minute
	}
	if params == nil {
		params = signal.DefaultParams()
	}
	return &Manager{
		db:              database,
		relay:           relaySvc,
		bus:             bus,
		metrics:         metrics,
		params:          params,
		defaultInterval: defaultInterval,
		agentTimeout:    agentTimeout,
		sessions:        make(map[int64]*session),
	}
}

// Start launches the polling session for a trader. Starting a trader
// that is already polling is a no-op reported as such; configuration
// problems (missing trader, unbound servers, unknown strategy) are
// returned as errors without touching the registry.
func (m *Manager) Start(ctx context.Context, traderID int64, ov Overrides) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.sessions[traderID]; running {
		return StatusAlreadyRunning, nil
	}

	s, err := m.buildSession(ctx, traderID, ov)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	m.sessions[traderID] = s
	m.metrics.SetActiveSessions(len(m.sessions))

	go m.run(runCtx, s)

	if err := m.db.UpdateTraderStatus(ctx, traderID, "active"); err != nil {
		log.Printf("[scheduler] trader=%d status update failed: %v", traderID, err)
	}
	m.publish(events.EventTraderStarted, events.CycleLogEvent{
		TraderID: traderID,
		Message:  fmt.Sprintf("polling started: %s via %s every %s", s.trader.SelectedSymbol, s.strategy.Name(), s.interval),
		At:       time.Now(),
	})
	log.Printf("[scheduler] trader=%d session started symbol=%s strategy=%s interval=%s",
		traderID, s.trader.SelectedSymbol, s.strategy.Name(), s.interval)
	return StatusStarted, nil
}

// buildSession resolves the trader's configuration into a runnable
// session. Caller holds the registry lock.
func (m *Manager) buildSession(ctx context.Context, traderID int64, ov Overrides) (*session, error) {
	trader, err := m.db.GetTrader(ctx, traderID)
	if err != nil {
		return nil, err
	}

	if ov.StopLossPips > 0 {
		trader.StopLossPips = ov.StopLossPips
	}
	if ov.TakeProfitPips > 0 {
		trader.TakeProfitPips = ov.TakeProfitPips
	}
	if ov.IntervalSeconds > 0 {
		trader.PollIntervalSeconds = ov.IntervalSeconds
	}
	if ov.Symbol != "" {
		trader.SelectedSymbol = ov.Symbol
	}
	if ov.Strategy != "" {
		trader.SelectedStrategy = ov.Strategy
	}

	if trader.SelectedSymbol == "" {
		return nil, fmt.Errorf("trader %d has no symbol selected", traderID)
	}
	if trader.MasterServerID == 0 || trader.SlaveServerID == 0 {
		return nil, fmt.Errorf("trader %d is not bound to master and slave servers", traderID)
	}

	masterSrv, err := m.db.GetServer(ctx, trader.MasterServerID)
	if err != nil {
		return nil, fmt.Errorf("master server: %w", err)
	}
	slaveSrv, err := m.db.GetServer(ctx, trader.SlaveServerID)
	if err != nil {
		return nil, fmt.Errorf("slave server: %w", err)
	}

	strat, err := m.strategyFor(trader.SelectedStrategy)
	if err != nil {
		return nil, err
	}

	interval := m.defaultInterval
	if trader.PollIntervalSeconds > 0 {
		interval = time.Duration(trader.PollIntervalSeconds) * time.Second
	}

	return &session{
		trader:    *trader,
		master:    agent.NewForHost(masterSrv.IP, masterSrv.Port, m.agentTimeout),
		slave:     agent.NewForHost(slaveSrv.IP, slaveSrv.Port, m.agentTimeout),
		strategy:  strat,
		interval:  interval,
		masterSrv: *masterSrv,
		slaveSrv:  *slaveSrv,
		last:      signal.DecisionHold,
	}, nil
}

func (m *Manager) strategyFor(name string) (signal.Strategy, error) {
	if name == "" {
		name = "basic"
	}
	p, ok := m.params[name]
	if !ok {
		p = signal.DefaultParams()["basic"]
	}
	return signal.New(name, p)
}

// run is the session loop: prepare the terminals, then cycle
// immediately and reschedule with a fresh timer after each cycle so
// cycles for one trader never overlap.
func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.done)

	m.prepareTerminals(ctx, s)

	prev := signal.DecisionHold
	for {
		out, err := m.relay.RunCycle(ctx, s.trader, s.master, s.slave, s.strategy, prev)
		if err != nil {
			log.Printf("[scheduler] trader=%d cycle error: %v", s.trader.ID, err)
		}
		prev = out.Next
		s.setLast(out.Decision)

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// prepareTerminals best-effort initializes and logs in both terminals.
// Failures are logged, not fatal: the agents may come up later and the
// cycle loop skips until they do.
func (m *Manager) prepareTerminals(ctx context.Context, s *session) {
	for _, t := range []struct {
		client *agent.Client
		server db.Server
		role   string
	}{
		{s.master, s.masterSrv, "master"},
		{s.slave, s.slaveSrv, "slave"},
	} {
		if !t.client.EnsureReady(ctx, t.server.TerminalPath) {
			log.Printf("[scheduler] trader=%d %s terminal not ready at %s", s.trader.ID, t.role, t.client.BaseURL())
			continue
		}
		res, err := t.client.Login(ctx, t.server.LoginUser, t.server.LoginPassword, t.server.BrokerServerName)
		if err != nil {
			log.Printf("[scheduler] trader=%d %s login failed: %v", s.trader.ID, t.role, err)
			continue
		}
		log.Printf("[scheduler] trader=%d %s logged in, balance=%.2f", s.trader.ID, t.role, res.Balance)
	}
}

// Stop cancels a trader's session and waits for its loop to exit; an
// in-flight cycle finishes but does not reschedule.
func (m *Manager) Stop(traderID int64) string {
	m.mu.Lock()
	s, ok := m.sessions[traderID]
	if !ok {
		m.mu.Unlock()
		return StatusNotRunning
	}
	delete(m.sessions, traderID)
	m.metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	s.cancel()
	<-s.done

	if err := m.db.UpdateTraderStatus(context.Background(), traderID, "inactive"); err != nil {
		log.Printf("[scheduler] trader=%d status update failed: %v", traderID, err)
	}
	m.publish(events.EventTraderStopped, events.CycleLogEvent{
		TraderID: traderID,
		Message:  "polling stopped",
		At:       time.Now(),
	})
	log.Printf("[scheduler] trader=%d session stopped", traderID)
	return StatusStopped
}

// StopAll tears every session down; used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.metrics.SetActiveSessions(0)
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		<-s.done
	}
}

// Running reports whether a trader currently has a session.
func (m *Manager) Running(traderID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[traderID]
	return ok
}

// LastDecision returns a trader's most recent decision. traderID 0
// means "the most recently decided session across all traders"; false
// when no session has decided anything yet.
func (m *Manager) LastDecision(traderID int64) (signal.Decision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if traderID != 0 {
		s, ok := m.sessions[traderID]
		if !ok {
			return "", false
		}
		d, at := s.lastDecision()
		if at.IsZero() {
			return signal.DecisionHold, true
		}
		return d, true
	}

	var (
		best   signal.Decision
		bestAt time.Time
		found  bool
	)
	for _, s := range m.sessions {
		d, at := s.lastDecision()
		if at.IsZero() {
			continue
		}
		if !found || at.After(bestAt) {
			best, bestAt, found = d, at, true
		}
	}
	return best, found
}

// RunReconciler drives the periodic master→slave close reconciliation
// over every active session until ctx is cancelled.
func (m *Manager) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range m.snapshot() {
				if _, err := m.relay.ReconcileClosed(ctx, s.trader, s.master, s.slave); err != nil {
					log.Printf("[scheduler] trader=%d reconcile error: %v", s.trader.ID, err)
				}
			}
		}
	}
}

func (m *Manager) snapshot() []*session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) publish(e events.Event, payload any) {
	if m.bus != nil {
		m.bus.Publish(e, payload)
	}
}
