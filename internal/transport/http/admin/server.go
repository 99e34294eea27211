package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"marketsync/internal/logger"

	"github.com/gin-gonic/gin"
)

const defaultAddr = ":9992"

// Server 提供运维 HTTP 接口：健康检查、指标、任务控制与数据查询。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 admin HTTP 服务依赖。
type ServerConfig struct {
	Addr    string
	Jobs    JobControl
	Data    DataReader
	Metrics http.Handler
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Jobs == nil || cfg.Data == nil {
		return nil, errors.New("admin http server requires job control and data reader")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := cfg.Data.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	NewRouter(cfg.Jobs, cfg.Data).Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, c.Writer.Status(), client, time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[admin] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
