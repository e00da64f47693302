package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pep-tipbot-go/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes health, readiness, the ledger audit and metrics over HTTP.
type Server struct {
	Router     *gin.Engine
	store      store.LedgerStore
	gatherer   prometheus.Gatherer
	clock      clock.Clock
	httpServer *http.Server
}

func New(ledger store.LedgerStore, gatherer prometheus.Gatherer, clk clock.Clock) *Server {
	gin.SetMode(gin.ReleaseMode)
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	s := &Server{
		Router:   gin.New(),
		store:    ledger,
		gatherer: gatherer,
		clock:    clk,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	s.Router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Debug("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	})
	s.Router.Use(gin.Recovery())

	s.Router.GET("/healthz", s.Health)
	s.Router.GET("/readyz", s.Ready)
	s.Router.GET("/audit", s.Audit)
	s.Router.GET("/accounts/:id", s.Account)
	if s.gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	zap.L().Info("Starting admin server", zap.String("addr", addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Admin server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
