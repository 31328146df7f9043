package app

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mailvet/server/internal/module/billing"
	billingprovider "github.com/mailvet/server/internal/module/billing/provider"
	"github.com/mailvet/server/internal/module/member"
	"github.com/mailvet/server/internal/module/usage"
	"github.com/mailvet/server/internal/shared/cache"
	"github.com/mailvet/server/internal/shared/config"
	"github.com/mailvet/server/internal/shared/database"
	"github.com/mailvet/server/internal/shared/logger"
	"github.com/mailvet/server/internal/utils/metrics"
	"github.com/mailvet/server/internal/utils/middleware"
)

// App wires configuration, storage, and the HTTP surface together.
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   *redis.Client
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics

	billingHandler *billing.Handler
	memberHandler  *member.Handler
	usageHandler   *usage.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("mailvet", registry)

	app := &App{
		config:  cfg,
		db:      db,
		redis:   redisClient,
		logger:  log,
		metrics: m,
	}

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}
	app.router = app.setupRouter(registry)
	return app, nil
}

// initModules builds the module graph: billing first, since member and usage
// both resolve seats and allowances through the billing service.
func (a *App) initModules() error {
	prices, err := billing.NewPriceTable(a.config.Stripe.PriceIDs)
	if err != nil {
		return fmt.Errorf("build price table: %w", err)
	}

	stripeProvider := billingprovider.NewStripeProvider(&billingprovider.StripeConfig{
		APIKey:        a.config.Stripe.APIKey,
		WebhookSecret: a.config.Stripe.WebhookSecret,
	}, a.metrics)

	billingRepo := billing.NewRepository(a.db)
	billingService := billing.NewService(billingRepo, stripeProvider, prices, a.logger.Named("billing"), a.metrics)
	a.billingHandler = billing.NewHandler(billingService, stripeProvider, a.logger.Named("billing"))

	memberRepo := member.NewRepository(a.db)
	memberService := member.NewService(memberRepo, billingService, a.logger.Named("member"), a.metrics)
	a.memberHandler = member.NewHandler(memberService, a.logger.Named("member"))

	usageRepo := usage.NewRepository(a.db)
	usageCounter := usage.NewCounter(a.redis, a.logger.Named("usage"))
	usageService := usage.NewService(usageRepo, usageCounter, billingService, a.logger.Named("usage"))
	a.usageHandler = usage.NewHandler(usageService, a.logger.Named("usage"))

	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter(registry *prometheus.Registry) *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Webhooks authenticate by signature, not JWT.
	public := r.Group("/api/v1")
	a.billingHandler.RegisterWebhookRoutes(public)

	validator := middleware.NewJWTValidator(a.config.Auth.JWTSecret)
	limiter := middleware.NewRateLimiter(a.redis)

	api := r.Group("/api/v1")
	api.Use(middleware.RequireAuth(validator))
	api.Use(middleware.RateLimitByAccount(limiter, 120, time.Minute))

	a.billingHandler.RegisterRoutes(api)
	a.memberHandler.RegisterRoutes(api)
	a.usageHandler.RegisterRoutes(api)

	return r
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases application resources.
func (a *App) Stop() {
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
	if err := cache.Close(a.redis); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
