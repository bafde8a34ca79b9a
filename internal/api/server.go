// Package api exposes the call gateway and call sessions over HTTP.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/husobiker/qrcard-sub003/internal/models"
	"github.com/husobiker/qrcard-sub003/internal/session"
)

// CallLogReader is the read side of the call log store.
type CallLogReader interface {
	GetCallLogs(ctx context.Context, filter models.CallLogFilter) ([]models.CallLog, error)
	GetCallLogStats(ctx context.Context, filter models.CallLogFilter) (*models.CallLogStats, error)
}

// Options holds the collaborators of the HTTP server.
type Options struct {
	Gateway  session.Gateway
	Sessions *session.Manager
	Logs     CallLogReader
	Port     int
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), cors())

	h := &handlers{gateway: opts.Gateway, sessions: opts.Sessions, logs: opts.Logs}

	router.POST("/start-call", h.startCall)
	router.POST("/end-call", h.endCall)

	sessions := router.Group("/sessions")
	sessions.GET("", h.listSessions)
	sessions.POST("/outbound", h.outbound)
	sessions.POST("/inbound", h.inbound)
	sessions.GET("/:id", h.getSession)
	sessions.POST("/:id/answer", h.answer)
	sessions.POST("/:id/reject", h.terminal((*session.Session).Reject))
	sessions.POST("/:id/hangup", h.terminal((*session.Session).Hangup))
	sessions.POST("/:id/retry-log", h.terminal((*session.Session).RetryLogWrite))

	router.GET("/call-logs", h.callLogs)
	router.GET("/call-logs/stats", h.callLogStats)

	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts Options) error {
	if opts.Gateway == nil || opts.Sessions == nil || opts.Logs == nil {
		return fmt.Errorf("api: gateway, sessions and logs are required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[API] Listening on :%d", opts.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// cors adds the CORS headers to every response and answers preflight
// requests for any path.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[API] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Truncate(time.Millisecond))
	}
}
