package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"mt5relay/internal/agent"
	"mt5relay/internal/relay"
	"mt5relay/internal/scheduler"
	"mt5relay/pkg/db"

	"github.com/gin-gonic/gin"
)

type startPollingRequest struct {
	TraderID       int64   `json:"trader_id" binding:"required"`
	StopLoss       float64 `json:"sl"`
	TakeProfit     float64 `json:"tp"`
	CustomInterval int     `json:"customSignalInterval"`
	SelectedSymbol string  `json:"selectedSymbol"`
	SelectedSignal string  `json:"selectedSignal"`
}

type stopPollingRequest struct {
	TraderID int64 `json:"trader_id" binding:"required"`
}

type openOrderRequest struct {
	OrderType  string  `json:"order_type" binding:"required,oneof=buy sell"`
	Volume     float64 `json:"volume"`
	Symbol     string  `json:"symbol"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
}

type closeOrderRequest struct {
	Symbol string `json:"symbol"`
}

type checkServerRequest struct {
	ServerID int64 `json:"server_id" binding:"required"`
}

// ko is the error envelope the trading UI expects.
func ko(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"status": "ko", "message": message})
}

func (s *Server) startPolling(c *gin.Context) {
	var req startPollingRequest
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	status, err := s.Sched.Start(c.Request.Context(), req.TraderID, scheduler.Overrides{
		StopLossPips:    req.StopLoss,
		TakeProfitPips:  req.TakeProfit,
		IntervalSeconds: req.CustomInterval,
		Symbol:          req.SelectedSymbol,
		Strategy:        req.SelectedSignal,
	})
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, db.ErrNotFound) {
			code = http.StatusNotFound
		}
		ko(c, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) stopPolling(c *gin.Context) {
	var req stopPollingRequest
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.Sched.Stop(req.TraderID)})
}

func (s *Server) getSignal(c *gin.Context) {
	var traderID int64
	if raw := c.Query("trader_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			ko(c, http.StatusBadRequest, "invalid trader_id")
			return
		}
		traderID = id
	}

	decision, ok := s.Sched.LastDecision(traderID)
	if !ok {
		ko(c, http.StatusNotFound, "no active session has produced a signal")
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal": decision})
}

func (s *Server) listTraders(c *gin.Context) {
	traders, err := s.DB.ListTraders(c.Request.Context())
	if err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"traders": traders})
}

func (s *Server) createTrader(c *gin.Context) {
	var t db.Trader
	if err := c.BindJSON(&t); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	if t.Name == "" {
		ko(c, http.StatusBadRequest, "name is required")
		return
	}
	if t.Status == "" {
		t.Status = "active"
	}
	id, err := s.DB.CreateTrader(c.Request.Context(), t)
	if err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) deleteTrader(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		ko(c, http.StatusBadRequest, "invalid trader id")
		return
	}
	if s.Sched.Running(id) {
		ko(c, http.StatusConflict, "trader is polling, stop it first")
		return
	}
	if err := s.DB.DeleteTrader(c.Request.Context(), id); err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) updateTraderServers(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		ko(c, http.StatusBadRequest, "invalid trader id")
		return
	}
	var req struct {
		MasterServerID int64 `json:"master_server_id" binding:"required"`
		SlaveServerID  int64 `json:"slave_server_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	ctx := c.Request.Context()
	for _, serverID := range []int64{req.MasterServerID, req.SlaveServerID} {
		if _, err := s.DB.GetServer(ctx, serverID); err != nil {
			ko(c, http.StatusNotFound, err.Error())
			return
		}
	}
	if err := s.DB.UpdateTraderServers(ctx, id, req.MasterServerID, req.SlaveServerID); err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) listTraderOrders(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		ko(c, http.StatusBadRequest, "invalid trader id")
		return
	}
	orders, err := s.DB.ListSlaveOrders(c.Request.Context(), id)
	if err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// openOrderOnSlave places a manual order on a trader's slave terminal,
// outside of any polling session.
func (s *Server) openOrderOnSlave(c *gin.Context) {
	trader, ok := s.traderFromPath(c)
	if !ok {
		return
	}
	var req openOrderRequest
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	slave, err := s.agentFor(c.Request.Context(), trader.SlaveServerID)
	if err != nil {
		ko(c, http.StatusBadRequest, err.Error())
		return
	}

	symbol := req.Symbol
	if symbol == "" {
		symbol = trader.SelectedSymbol
	}
	ack, err := s.Relay.OpenOrder(c.Request.Context(), *trader, slave, relay.DispatchRequest{
		Side:   agent.SideFromString(req.OrderType),
		Symbol: symbol,
		Volume: req.Volume,
		SLPips: req.StopLoss,
		TPPips: req.TakeProfit,
	})
	if err != nil {
		ko(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ticket": ack.Ticket})
}

func (s *Server) closeOrderOnSlave(c *gin.Context) {
	trader, ok := s.traderFromPath(c)
	if !ok {
		return
	}
	var req closeOrderRequest
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = trader.SelectedSymbol
	}

	slave, err := s.agentFor(c.Request.Context(), trader.SlaveServerID)
	if err != nil {
		ko(c, http.StatusBadRequest, err.Error())
		return
	}
	closed, err := s.Relay.CloseSymbol(c.Request.Context(), *trader, slave, symbol)
	if err != nil {
		ko(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "closed": closed})
}

// copyOrders replicates every open master position onto the slave.
func (s *Server) copyOrders(c *gin.Context) {
	trader, ok := s.traderFromPath(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	master, err := s.agentFor(ctx, trader.MasterServerID)
	if err != nil {
		ko(c, http.StatusBadRequest, err.Error())
		return
	}
	slave, err := s.agentFor(ctx, trader.SlaveServerID)
	if err != nil {
		ko(c, http.StatusBadRequest, err.Error())
		return
	}
	copied, err := s.Relay.CopyMasterPositions(ctx, *trader, master, slave)
	if err != nil {
		ko(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "copied": copied})
}

func (s *Server) listServers(c *gin.Context) {
	servers, err := s.DB.ListServers(c.Request.Context())
	if err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

func (s *Server) createServer(c *gin.Context) {
	var req struct {
		db.Server
		LoginPassword string `json:"login_password"`
	}
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	srv := req.Server
	srv.LoginPassword = req.LoginPassword
	if srv.Alias == "" || srv.IP == "" || srv.Port == 0 {
		ko(c, http.StatusBadRequest, "alias, ip and port are required")
		return
	}
	id, err := s.DB.CreateServer(c.Request.Context(), srv)
	if err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) deleteServer(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		ko(c, http.StatusBadRequest, "invalid server id")
		return
	}
	if err := s.DB.DeleteServer(c.Request.Context(), id); err != nil {
		ko(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// checkServer verifies a broker profile end to end: agent reachable,
// terminal up, login accepted.
func (s *Server) checkServer(c *gin.Context) {
	var req checkServerRequest
	if err := c.BindJSON(&req); err != nil {
		ko(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	ctx := c.Request.Context()
	srv, err := s.DB.GetServer(ctx, req.ServerID)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, db.ErrNotFound) {
			code = http.StatusNotFound
		}
		ko(c, code, err.Error())
		return
	}

	client := agent.NewForHost(srv.IP, srv.Port, s.AgentTimeout)
	if !client.EnsureReady(ctx, srv.TerminalPath) {
		ko(c, http.StatusBadGateway, "terminal agent not ready")
		return
	}
	res, err := client.Login(ctx, srv.LoginUser, srv.LoginPassword, srv.BrokerServerName)
	if err != nil {
		ko(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "balance": res.Balance})
}

func pathID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

func (s *Server) traderFromPath(c *gin.Context) (*db.Trader, bool) {
	id, err := pathID(c)
	if err != nil {
		ko(c, http.StatusBadRequest, "invalid trader id")
		return nil, false
	}
	trader, err := s.DB.GetTrader(c.Request.Context(), id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, db.ErrNotFound) {
			code = http.StatusNotFound
		}
		ko(c, code, err.Error())
		return nil, false
	}
	return trader, true
}

// agentFor builds a terminal agent client from a broker profile id.
func (s *Server) agentFor(ctx context.Context, serverID int64) (*agent.Client, error) {
	if serverID == 0 {
		return nil, errors.New("trader is not bound to a server")
	}
	srv, err := s.DB.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return agent.NewForHost(srv.IP, srv.Port, s.AgentTimeout), nil
}
