// Package dashboard serves the market engine JSON API and the admin alert
// stream.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/marketyard/internal/clock"
	"github.com/zulandar/marketyard/internal/session"
	"github.com/zulandar/marketyard/internal/stock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB      *gorm.DB
	Port    int
	Market  session.RecurringConfig
	Catalog stock.Catalog
	Clock   clock.Clock
	Log     *zap.SugaredLogger

	// PollInterval is how often the alert stream re-reads the read models.
	PollInterval time.Duration
}

type server struct {
	db      *gorm.DB
	market  session.RecurringConfig
	catalog stock.Catalog
	clock   clock.Clock
	log     *zap.SugaredLogger
	poll    time.Duration
}

// NewRouter builds the Gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dashboard: db is required")
	}
	s := &server{
		db:      opts.DB,
		market:  opts.Market,
		catalog: opts.Catalog,
		clock:   opts.Clock,
		log:     opts.Log,
		poll:    opts.PollInterval,
	}
	if s.catalog == nil {
		s.catalog = stock.GormCatalog{}
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.poll <= 0 {
		s.poll = 3 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))
	s.registerRoutes(router)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Log != nil {
		opts.Log.Infow("dashboard listening", "addr", fmt.Sprintf("http://localhost:%d", opts.Port))
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// requestLogger logs one line per request.
func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			log.Errorw("request", append(fields, "errors", c.Errors.String())...)
			return
		}
		log.Debugw("request", fields...)
	}
}
