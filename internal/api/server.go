package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/liqi/internal/config"
	"github.com/energizer-project/liqi/internal/db"
	"github.com/energizer-project/liqi/internal/health"
	intnet "github.com/energizer-project/liqi/internal/network"
	"github.com/energizer-project/liqi/internal/schema"
)

// Archive is the read side of the message archive.
type Archive interface {
	Recent(ctx context.Context, limit int) ([]db.MessageRecord, error)
	ByMethod(ctx context.Context, method string, limit int) ([]db.MessageRecord, error)
	Failures(ctx context.Context, limit int) ([]db.FailureRecord, error)
	Stats(ctx context.Context) (db.ArchiveStats, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Sessions exposes the live relay sessions.
type Sessions interface {
	Snapshot() []intnet.SessionInfo
	EvictPending(maxAge time.Duration) int
}

// Health reports the latest self check results.
type Health interface {
	Status() []health.Check
	Overall() health.Level
}

// Deps are the components the API reads from. Archive, Sessions and Health
// may be nil when the corresponding feature is disabled.
type Deps struct {
	Config   *config.Config
	Resolver *schema.Resolver
	Archive  Archive
	Sessions Sessions
	Health   Health
	Version  string
	DataDir  string
}

// Server is the inspection API.
type Server struct {
	deps      Deps
	startedAt time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer builds the server and its router.
func NewServer(deps Deps) *Server {
	if deps.Config.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{deps: deps, startedAt: time.Now()}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on the configured port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.deps.Config.GetAPI()
	addr := fmt.Sprintf(":%d", apiCfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("inspection API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.deps.Config.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/messages", s.handleMessages)
		monitor.GET("/failures", s.handleFailures)
		monitor.GET("/stats", s.handleStats)
		monitor.GET("/sessions", s.handleSessions)
		monitor.GET("/health", s.handleHealth)
		monitor.GET("/config", s.handleGetConfig)
	}

	control := router.Group("/api/control")
	{
		control.POST("/purge", s.handlePurge)
		control.POST("/evict", s.handleEvict)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "liqi decoder API is running"})
	})

	return router
}
