package http

import (
	"context"
	"errors"
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"

	"transcript-rag/internal/bootstrap"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/transport/http/handler"
	"transcript-rag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)

	var failures handler.FailureLister
	if app.Failures != nil {
		failures = app.Failures
	}
	return newRouter(
		handler.NewHealthHandler(app),
		handler.NewQueryHandler(app.Agent, app.Metadata, failures),
		app.Config.Auth.Enabled,
		app.Config.Auth.JWTSecret,
	)
}

func newRouter(health *handler.HealthHandler, query *handler.QueryHandler, authEnabled bool, secret string) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(logging.Default()), gin.Recovery())

	router.GET("/healthz", health.Check)

	v1 := router.Group("/api/v1")
	if authEnabled {
		v1.Use(middleware.AuthJWT(secret))
	}
	v1.POST("/ask", query.Ask)
	v1.GET("/metadata", query.Metadata)
	v1.GET("/failures", query.Failures)

	return router
}

// requestLogger logs one line per request and puts the logger on the
// request context for handlers.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logging.With(c.Request.Context(), logger))
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds())
	}
}

// Serve runs the API until ctx is cancelled, then drains in-flight requests.
func Serve(ctx context.Context, app *bootstrap.App) error {
	logger := logging.From(ctx)
	server := &nethttp.Server{
		Addr:              app.Config.HTTPAddr(),
		Handler:           NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "server failed", goerr.V("addr", server.Addr))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "server shutdown failed")
	}
	logger.Info("server stopped")
	return nil
}
