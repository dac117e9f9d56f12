package api

import (
	"net/http"
	"time"

	"mt5relay/internal/events"
	"mt5relay/internal/monitor"
	"mt5relay/internal/relay"
	"mt5relay/internal/scheduler"
	"mt5relay/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires the HTTP surface around the scheduler and relay.
type Server struct {
	Router       *gin.Engine
	Bus          *events.Bus
	DB           *db.Database
	Relay        *relay.Service
	Sched        *scheduler.Manager
	Metrics      *monitor.Metrics
	JWTSecret    string
	AgentTimeout time.Duration
}

func NewServer(bus *events.Bus, database *db.Database, relaySvc *relay.Service, sched *scheduler.Manager,
	metrics *monitor.Metrics, jwtSecret string, agentTimeout time.Duration) *Server {
	r := gin.New()

	// Middleware order matters: the logger must see the request id, and
	// the timeout wraps everything below it.
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimit(20, 50))
	r.Use(Timeout(30 * time.Second))
	r.Use(CORS())

	s := &Server{
		Router:       r,
		Bus:          bus,
		DB:           database,
		Relay:        relaySvc,
		Sched:        sched,
		Metrics:      metrics,
		JWTSecret:    jwtSecret,
		AgentTimeout: agentTimeout,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	s.Router.GET("/ws", s.websocket)

	// Polling control surface consumed by the trading UI.
	s.Router.POST("/start_polling", s.startPolling)
	s.Router.POST("/stop_polling", s.stopPolling)
	s.Router.GET("/signal", s.getSignal)

	api := s.Router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected configuration API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/traders", s.listTraders)
			protected.POST("/traders", s.createTrader)
			protected.DELETE("/traders/:id", s.deleteTrader)
			protected.PUT("/traders/:id/servers", s.updateTraderServers)
			protected.GET("/traders/:id/orders", s.listTraderOrders)
			protected.POST("/traders/:id/open_order_on_slave", s.openOrderOnSlave)
			protected.POST("/traders/:id/close_order_on_slave", s.closeOrderOnSlave)
			protected.POST("/traders/:id/copy_orders", s.copyOrders)

			protected.GET("/servers", s.listServers)
			protected.POST("/servers", s.createServer)
			protected.DELETE("/servers/:id", s.deleteServer)
			protected.POST("/check-server", s.checkServer)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
