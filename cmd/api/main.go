package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"qrattendance/internal/apperror"
	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/config"
	"qrattendance/internal/directory"
	"qrattendance/internal/httpapi"
	"qrattendance/internal/httpmiddleware"
	"qrattendance/internal/logging"
	"qrattendance/internal/metrics"
	"qrattendance/internal/queue"
	"qrattendance/internal/replay"
	"qrattendance/internal/signer"
	"qrattendance/internal/stats"
	"qrattendance/internal/store"
	"qrattendance/internal/token"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	apperror.Init()

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

// backends are the infrastructure handles shared by the components.
type backends struct {
	db    *store.DB
	redis *store.Redis
}

func (b backends) Close() {
	_ = b.db.Close()
	_ = b.redis.Close()
}

func connect(ctx context.Context, cfg config.App, logger *zap.Logger) (backends, error) {
	var b backends
	if cfg.StoreBackend == "postgres" {
		db, err := store.NewDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return b, err
		}
		b.db = db
		if cfg.DBAutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return b, err
			}
			logger.Info("schema migrated")
		}
	}
	if cfg.NeedsRedis() {
		b.redis = store.NewRedis(cfg.RedisAddr)
		if !b.redis.Healthy(ctx) {
			logger.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr))
		}
	}
	return b, nil
}

func newDirectory(cfg config.App, b backends, logger *zap.Logger) (directory.Source, error) {
	if cfg.DirectorySeed != "" {
		static, err := directory.LoadStatic(cfg.DirectorySeed)
		if err != nil {
			return nil, err
		}
		logger.Info("directory loaded from seed", zap.String("path", cfg.DirectorySeed))
		return static, nil
	}
	if b.db == nil {
		return nil, errors.New("no directory source: set DIRECTORY_SEED or use the postgres store")
	}
	var src directory.Source = directory.NewPostgres(b.db.Client)
	if b.redis != nil {
		src = directory.NewCached(src, b.redis.Client, 0, cfg.DirectoryCacheTTL, logger)
	}
	return src, nil
}

func newQueue(cfg config.App, b backends, logger *zap.Logger) queue.Queue {
	if cfg.QueueBackend == "memory" {
		return queue.NewInMemory(256)
	}
	return queue.NewRedisQueue(b.redis.Client, queue.DefaultKey, logger)
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	policy, err := token.DefaultPolicy().ParseCategoryRules(cfg.QRDailyPolicy)
	if err != nil {
		return fmt.Errorf("QR_DAILY_POLICY: %w", err)
	}
	policy.ActivityTTL = cfg.QRActivityTTL

	s, err := signer.New([]byte(cfg.QRSigningKey))
	if err != nil {
		return err
	}

	var guard replay.Guard
	if cfg.ReplayBackend == "memory" {
		logger.Warn("replay guard is process-local; run a single api instance")
		guard = replay.NewMemory(nil)
	} else {
		guard = replay.NewRedis(b.redis.Client)
	}

	var attStore attendance.Store
	if b.db != nil {
		attStore = attendance.NewPostgresStore(b.db.Client)
	} else {
		logger.Warn("attendance records are kept in memory")
		attStore = attendance.NewMemoryStore()
	}

	dir, err := newDirectory(cfg, b, logger)
	if err != nil {
		return err
	}

	catalog, _ := dir.(directory.Catalog)

	m := metrics.New(prometheus.DefaultRegisterer)
	observers := []attendance.Observer{m}

	var statsReader httpapi.StatsReader
	if b.redis != nil {
		q := newQueue(cfg, b, logger)
		observers = append(observers, stats.NewPublisher(q, logger))
		statsReader = stats.NewReader(b.redis.Client)
		if cfg.QueueBackend == "memory" {
			// Nobody else can read an in-process queue.
			go runAggregator(ctx, b.redis.Client, q, logger)
		}
	}

	engine := attendance.NewEngine(attStore, guard, dir, attendance.Config{
		Skew:     cfg.QRClockSkew,
		Location: loc,
	}, logger, observers...)

	now := func() time.Time { return time.Now().In(loc) }
	handler := httpapi.NewHandler(httpapi.Deps{
		Issuer:    token.NewIssuer(s, policy, now),
		Validator: token.NewValidator(s, guard, cfg.QRClockSkew, now, logger),
		Engine:    engine,
		Directory: dir,
		Catalog:   catalog,
		Stats:     statsReader,
		Metrics:   m,
		Health:    healthChecks(b),
		Now:       now,
		Logger:    logger,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID(logger))
	r.Use(httpmiddleware.AccessLog(logger, "/healthz", "/metrics"))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).ByIP())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.Register(r, auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreBackend), zap.String("replay", cfg.ReplayBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

func runAggregator(ctx context.Context, rdb redis.Cmdable, q queue.Queue, logger *zap.Logger) {
	if err := stats.NewAggregator(rdb, logger).Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stats aggregator stopped", zap.Error(err))
	}
}

func healthChecks(b backends) []httpapi.HealthCheck {
	var checks []httpapi.HealthCheck
	if b.db != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "db", Check: b.db.Healthy})
	}
	if b.redis != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "redis", Check: b.redis.Healthy})
	}
	return checks
}

// corsMiddleware allows the configured origins, or any origin without
// credentials when none are configured.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.HeaderRequestID},
		ExposeHeaders: []string{"Content-Length", httpmiddleware.HeaderRequestID},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
