package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/amoylab/coordinator/internal/auth"
	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Server exposes the gateway over HTTP: the websocket entry point plus the login,
// create and health routes.
type Server struct {
	logger      *zap.Logger
	cfg         config.GatewayConfig
	gateway     *Gateway
	router      *gin.Engine
	upgrader    websocket.Upgrader
	metrics     *metrics.Metrics
	metricsPath string
	tracing     string
	httpServer  *http.Server
}

// ServerOption customizes a Server at construction
type ServerOption func(*Server)

// WithTracing instruments every HTTP route with otelgin spans under serviceName
func WithTracing(serviceName string) ServerOption {
	return func(s *Server) {
		s.tracing = serviceName
	}
}

type nicknameRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

// NewServer creates the HTTP front of gw. m may be nil, which also disables the metrics route.
func NewServer(logger *zap.Logger, cfg config.GatewayConfig, metricsCfg config.MetricsConfig, gw *Gateway, m *metrics.Metrics, opts ...ServerOption) *Server {
	s := &Server{
		logger:  logger.Named("server"),
		cfg:     cfg,
		gateway: gw,
		router:  gin.New(),
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	if m != nil && metricsCfg.Enabled {
		s.metricsPath = metricsCfg.Path
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.loggerMiddleware())
	if s.tracing != "" {
		s.router.Use(otelgin.Middleware(s.tracing))
	}
	if s.metricsPath != "" {
		s.router.Use(m.Middleware())
	}
	s.router.Use(s.corsMiddleware())
	s.registerRoutes()

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health_check", s.handleHealthCheck)
	if s.metricsPath != "" {
		s.router.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}

	s.router.GET("/", s.handleConnect)
	s.router.GET("/connect/:appId", s.handleConnect)

	s.router.POST("/:appId/login/anonymous", s.handleAnonymousLogin)
	s.router.POST("/:appId/login/nickname", s.handleNicknameLogin)
	s.router.POST("/:appId/create", s.handleCreate)
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts clients on ln until Shutdown. TLS is used when certificate files are set.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.cfg.TLS.CertFile != "" {
		s.logger.Info("serving clients over TLS", zap.String("addr", ln.Addr().String()))
		err = s.httpServer.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		s.logger.Warn("no TLS certificate configured, serving clients over plain HTTP",
			zap.String("addr", ln.Addr().String()))
		err = s.httpServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	if !s.gateway.upstream.Established() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"message": "Store link is not established.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Health check passed.",
	})
}

func (s *Server) handleConnect(c *gin.Context) {
	if err := s.gateway.awaitStore(c.Request.Context()); err != nil {
		s.logger.Warn("refusing client while store is unavailable",
			zap.String("remote_addr", c.Request.RemoteAddr), zap.Error(err))
		if s.metrics != nil {
			s.metrics.Rejected(cnst.ReasonStoreUnavailable)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	s.gateway.serveConn(context.WithoutCancel(c.Request.Context()), ws)
}

func (s *Server) handleAnonymousLogin(c *gin.Context) {
	s.issue(c, auth.Anonymous())
}

func (s *Server) handleNicknameLogin(c *gin.Context) {
	var req nicknameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname is required"})
		return
	}
	s.issue(c, auth.Nickname(req.Nickname))
}

func (s *Server) issue(c *gin.Context, id auth.Identity) {
	token, err := s.gateway.Issue(id)
	if err != nil {
		s.logger.Error("failed to issue credential", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	s.logger.Info("issued credential",
		zap.String("app", c.Param("appId")), zap.String("type", id.Type), zap.String("user", id.ID))
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleCreate(c *gin.Context) {
	token := c.GetHeader("Authorization")
	if token == "" {
		c.Status(http.StatusForbidden)
		return
	}
	if err := s.gateway.awaitStore(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	session, err := s.gateway.CreateState(c.Request.Context(), token, payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"stateId": session.String()})
	case errors.Is(err, cnst.ErrAuth):
		c.Status(http.StatusForbidden)
	case errors.Is(err, cnst.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		s.logger.Error("failed to create state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
