package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"qbank-server/config"
	"qbank-server/db"
	"qbank-server/exam"
	"qbank-server/handlers"
	"qbank-server/ingestion"
	"qbank-server/middleware"
	"qbank-server/stats"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("error loading configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	stores, err := cfg.Stores()
	if err != nil {
		logger.Error("invalid exam store configuration", "error", err)
		os.Exit(1)
	}
	for key, sc := range stores {
		if sc.Driver == "memory" {
			logger.Warn("exam store is in process memory, questions are lost on restart", "exam", key)
		}
	}

	// Connections are dialed lazily, on the first request for each exam.
	router := db.NewRouter(stores, db.NewOpener(logger), db.RouterOptions{
		Timeout:        cfg.StoreTimeout,
		HealthInterval: cfg.HealthInterval,
		Logger:         logger,
	})
	defer router.Close(context.Background())

	var cache stats.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, stats served uncached until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		cache = stats.NewRedisCache(rdb, cfg.StatsCacheTTL, logger)
	}
	aggregator := stats.NewAggregator(router, cache, logger)

	randomPolicy, err := exam.ParseLockPolicy(cfg.Selection.RandomLockPolicy, exam.ExcludeLocked)
	if err != nil {
		logger.Error("invalid SELECTION.RANDOM_LOCK_POLICY", "error", err)
		os.Exit(1)
	}
	difficultyPolicy, err := exam.ParseLockPolicy(cfg.Selection.DifficultyLockPolicy, exam.AnyLockState)
	if err != nil {
		logger.Error("invalid SELECTION.DIFFICULTY_LOCK_POLICY", "error", err)
		os.Exit(1)
	}
	sampler := exam.NewSampler(router, logger, randomPolicy, difficultyPolicy)
	locker := exam.NewLocker(router, logger, aggregator.Invalidate)

	deps := handlers.Deps{
		Pipeline:  ingestion.NewPipeline(router, logger, ingestion.OnCommit(aggregator.Invalidate)),
		Sampler:   sampler,
		Locker:    locker,
		Assembler: exam.NewAssembler(sampler, locker, logger),
		Stats:     aggregator,
		Stores:    router,
		BatchDir:  cfg.Ingestion.BatchDir,
		Logger:    logger,
	}

	// Set Gin mode
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(logger))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Bearer JWTs come from the external auth service
	auth := middleware.AuthMiddleware(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, logger)
	handlers.Register(engine, deps,
		[]gin.HandlerFunc{auth},
		[]gin.HandlerFunc{middleware.RoleCheckMiddleware([]string{"admin"})},
	)

	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: engine,
	}

	// Goroutine to gracefully shut down the server
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
	}()

	logger.Info("qbank server starting", "addr", cfg.ServerPort, "exams", len(stores))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server startup error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited gracefully")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
