// Package webhook receives Gmail push notifications delivered by a
// Pub/Sub push subscription and hands them to the notification bridge.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/custodia-labs/inboxd/internal/connectors/google/gmail"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// PushPath is the route the push subscription posts to.
const PushPath = "/webhook/gmail"

// Config configures the webhook server.
type Config struct {
	// Token, when set, must be passed as the token query parameter.
	Token string

	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// Server is the HTTP front of the daemon.
type Server struct {
	bridge driving.NotificationBridge
	cfg    Config
	engine *gin.Engine
	now    func() time.Time
}

// pushEnvelope is the body of a Pub/Sub push request. Data is base64 in
// JSON and decodes straight into the byte slice.
type pushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// NewServer creates the webhook server.
func NewServer(bridge driving.NotificationBridge, cfg Config) *Server {
	s := &Server{
		bridge: bridge,
		cfg:    cfg,
		engine: gin.New(),
		now:    time.Now,
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.POST(PushPath, s.handlePush)
	if s.cfg.MCP != nil {
		s.engine.Any("/mcp", gin.WrapH(s.cfg.MCP))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Webhook listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook shutdown: %w", err)
	}
	return ctx.Err()
}

// handlePush acknowledges with 2xx whenever a retry would not help:
// Pub/Sub redelivers every non-2xx response.
func (s *Server) handlePush(c *gin.Context) {
	if s.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(s.cfg.Token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var env pushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push envelope"})
		return
	}

	n, err := gmail.ParseNotification(env.Message.Data, domain.NotificationPush, s.now())
	if err != nil {
		logger.Warn("Webhook: dropping message %s: %v", env.Message.MessageID, err)
		c.Status(http.StatusNoContent)
		return
	}

	err = s.bridge.Notify(c.Request.Context(), n)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		logger.Warn("Webhook: ignoring notification for %s: %v", n.EmailAddress, err)
		c.Status(http.StatusNoContent)
	default:
		logger.Error("Webhook: notification for %s: %v", n.EmailAddress, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification not accepted"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
