// Package statusserver exposes the reconciler status to local browser
// front-ends over HTTP and a WebSocket stream.
package statusserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/abhiShandy/joinmarket-webui/internal/storage"
	"github.com/abhiShandy/joinmarket-webui/internal/tokens"
	"github.com/abhiShandy/joinmarket-webui/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxHistoryLimit   = storage.DefaultHistoryLimit
	defaultHistoryAPI = 100
)

// StatusSource is the reconciler surface the server reads.
type StatusSource interface {
	Status() reconciler.Status
	Wallet() (reconciler.WalletSession, bool)
	Subscribe(fn func(prev, next reconciler.Status)) (unsubscribe func())
	Refresh(ctx context.Context) error
	SetWallet(ctx context.Context, name, token string) error
	ClearWallet(ctx context.Context) error
}

// HistorySource returns recorded status transitions, newest first.
type HistorySource interface {
	RecentStatus(ctx context.Context, limit int) ([]storage.StatusRecord, error)
}

// Config configures the server.
type Config struct {
	Addr string
	// AllowedOrigins enables CORS for the listed origins. "*" allows any
	// origin without credentials.
	AllowedOrigins []string
	Debug          bool
}

// Server serves the status API.
type Server struct {
	cfg     Config
	source  StatusSource
	history HistorySource
	hub     *hub
	router  *gin.Engine

	unsubscribe func()
	closeOnce   sync.Once
}

// StatusResponse is the JSON body of GET /api/status and of each stream
// frame.
type StatusResponse struct {
	reconciler.Status
	Banner string `json:"banner,omitempty"`
	// TokenExpiresAt is the access token expiry in Unix milliseconds.
	TokenExpiresAt int64 `json:"tokenExpiresAt,omitempty"`
}

type sessionRequest struct {
	WalletName string `json:"walletName" binding:"required"`
	Token      string `json:"token" binding:"required"`
}

type routeResponse struct {
	Route   string `json:"route"`
	Known   bool   `json:"known"`
	Allowed bool   `json:"allowed"`
}

// New builds the router. history may be nil.
func New(cfg Config, source StatusSource, history HistorySource) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		source:  source,
		history: history,
	}
	s.hub = newHub(source.Status, s.snapshot, cfg.AllowedOrigins)
	s.unsubscribe = source.Subscribe(func(_, next reconciler.Status) {
		s.hub.broadcast(next)
	})

	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg := corsConfig(cfg.AllowedOrigins)
		if err := corsCfg.Validate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid allowed origins: %w", err)
		}
		router.Use(cors.New(corsCfg))
	}
	router.Use(loggingMiddleware())

	api := router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.POST("/status/refresh", s.postRefresh)
		api.GET("/status/ws", s.hub.serve)
		api.GET("/routes/:route", s.getRoute)
		api.GET("/history", s.getHistory)
		api.PUT("/session", s.putSession)
		api.DELETE("/session", s.deleteSession)
	}
	s.router = router
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close detaches from the status source and disconnects stream clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.hub.closeAll()
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. The server is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Status API listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status API shutdown: %w", err)
	}
	return nil
}

func (s *Server) snapshot(st reconciler.Status) StatusResponse {
	resp := StatusResponse{Status: st, Banner: st.Banner()}
	if wallet, ok := s.source.Wallet(); ok && wallet.Name == st.WalletName {
		if exp, ok := tokens.ExpiresAt(wallet.Token); ok {
			resp.TokenExpiresAt = exp.UnixMilli()
		}
	}
	return resp
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot(s.source.Status()))
}

func (s *Server) postRefresh(c *gin.Context) {
	if err := s.source.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// putSession hands a freshly unlocked wallet to the reconciler.
func (s *Server) putSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "walletName and token are required"})
		return
	}
	if err := s.source.SetWallet(c.Request.Context(), req.WalletName, req.Token); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("status API: session set for %s", req.WalletName)
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.source.ClearWallet(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("status API: session cleared")
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

func (s *Server) getRoute(c *gin.Context) {
	route := reconciler.Route(strings.TrimPrefix(c.Param("route"), "/"))
	if route == "" || route == "home" {
		route = reconciler.RouteHome
	}
	st := s.source.Status()
	c.JSON(http.StatusOK, routeResponse{
		Route:   string(route),
		Known:   reconciler.KnownRoute(route),
		Allowed: st.RouteAllowed(route),
	})
}

func (s *Server) getHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is not enabled"})
		return
	}

	limit := defaultHistoryAPI
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 || l > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = l
	}

	records, err := s.history.RecentStatus(c.Request.Context(), limit)
	if err != nil {
		logger.Warnf("status history query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	if records == nil {
		records = []storage.StatusRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
