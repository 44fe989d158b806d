package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/config"
	"github.com/Skufu/postop-risk/internal/dataset"
	"github.com/Skufu/postop-risk/internal/logger"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	gin.SetMode(cfg.GinMode)

	ctx := context.Background()
	var db HealthChecker
	if cfg.EnableDB {
		pool, err := dataset.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		db = pool
	}

	models := bundle.NewRegistry(cfg.ModelDir, lg)
	if err := models.Load(); err != nil {
		lg.Error("some models failed to load", zap.Error(err))
	}

	metrics := newServerMetrics()
	metrics.observeModels(models)

	router := setupRouter(db, models, metrics, lg)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()

	lg.Info("server listening",
		zap.String("port", cfg.Port),
		zap.String("model_dir", cfg.ModelDir),
		zap.String("recommended_model", string(models.Recommended())),
	)
	waitForShutdown(server, models, metrics, lg)
}

var registerValidation sync.Once

func setupRouter(db HealthChecker, models *bundle.Registry, metrics *serverMetrics, lg *zap.Logger) *gin.Engine {
	registerValidation.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})

	router := gin.New()
	router.Use(
		ginzap.Ginzap(lg, time.RFC3339, true),
		ginzap.RecoveryWithZap(lg, true),
		limitBodySize(1<<20), // 1MB max body
		cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}),
	)

	h := &handlers{models: models, metrics: metrics, logger: lg}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", readyz(db))

	router.GET("/health", h.health)
	router.POST("/predict", h.predict)
	router.GET("/feature-importance", h.featureImportance)
	router.GET("/model-metrics", h.modelMetrics)
	router.GET("/metrics", gin.WrapH(metrics.handler()))

	return router
}

func readyz(db HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "disabled"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"db":     "unhealthy: " + err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"db":     "ok",
		})
	}
}

// waitForShutdown reloads the models on SIGHUP and drains the server on
// SIGINT or SIGTERM.
func waitForShutdown(server *http.Server, models *bundle.Registry, metrics *serverMetrics, lg *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range stop {
		if sig == syscall.SIGHUP {
			reloadModels(models, metrics, lg)
			continue
		}
		break
	}

	lg.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
}

func reloadModels(models *bundle.Registry, metrics *serverMetrics, lg *zap.Logger) {
	lg.Info("reloading models")
	err := models.Load()
	metrics.recordReload(err)
	metrics.observeModels(models)
	if err != nil {
		lg.Error("model reload incomplete", zap.Error(err))
	}
}

func limitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
