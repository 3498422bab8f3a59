// Package app wires configuration, storage, providers and HTTP routes
// into a runnable server.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/gorm"

	"github.com/payhub/server/internal/module/payment"
	"github.com/payhub/server/internal/module/payment/credential"
	"github.com/payhub/server/internal/module/payment/entity"
	"github.com/payhub/server/internal/module/payment/gateway"
	"github.com/payhub/server/internal/module/payment/session"
	"github.com/payhub/server/internal/module/payment/signature"
	ports "github.com/payhub/server/internal/ports/http"
	"github.com/payhub/server/internal/shared/cache"
	"github.com/payhub/server/internal/shared/config"
	"github.com/payhub/server/internal/shared/database"
	"github.com/payhub/server/internal/shared/events"
	"github.com/payhub/server/internal/shared/httpclient"
	"github.com/payhub/server/internal/shared/logger"
	"github.com/payhub/server/internal/shared/metrics"
	"github.com/payhub/server/internal/shared/middleware"
)

// App represents the application.
type App struct {
	config    *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger

	eventBus *events.Bus

	paymentService *payment.Service
	reconciler     *payment.Reconciler
	paymentHandler *ports.PaymentHandler
	webhookHandler *ports.WebhookHandler

	stopReconciler context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}

	app := &App{
		config:    cfg,
		logger:    log,
		zapLogger: zapLog,
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrate(
		&entity.PaymentEntity{},
		&entity.WebhookEventEntity{},
		&entity.CredentialEntity{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	app.db = db

	// Redis is optional; the nonce store falls back to process memory.
	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis connection failed, using in-memory fallback", "error", err)
		} else {
			app.redis = redisClient
		}
	}

	if err := app.initPaymentModule(); err != nil {
		return nil, fmt.Errorf("init payment module: %w", err)
	}
	app.registerEventHandlers()
	app.router = app.setupRouter()

	reconCtx, cancel := context.WithCancel(context.Background())
	app.stopReconciler = cancel
	go app.reconciler.Run(reconCtx)

	return app, nil
}

// initPaymentModule builds the payment service and its provider set.
func (a *App) initPaymentModule() error {
	cfg := a.config

	repo := payment.NewRepository(a.db)
	envelope := signature.NewEnvelope(cfg.Session.StateSecret)

	var nonces session.NonceStore
	if a.redis != nil {
		nonces = session.NewRedisNonceStore(a.redis)
	} else {
		nonces = session.NewMemoryNonceStore()
	}

	sessions := session.NewManager(&session.Config{
		Secret: cfg.Session.Secret,
		Expiry: cfg.Session.PollExpiry,
		Issuer: "payhub",
	})

	a.eventBus = events.NewBus(a.zapLogger)

	registry := payment.NewRegistry()
	returnURL := cfg.Server.PublicURL + "/api/v1/payments/{payment_id}/return?state={state}"

	if p := cfg.Providers.PayU; p.Enabled {
		registry.Register(gateway.NewPayU(&gateway.PayUConfig{
			MerchantKey: p.MerchantKey,
			Salt:        p.Salt,
			BaseURL:     p.BaseURL,
			ReturnURL:   returnURL,
			WebhookURL:  cfg.Server.PublicURL + "/webhooks/payu",
		}, httpclient.New("payu", 0), a.zapLogger))
	}

	if p := cfg.Providers.PayPal; p.Enabled {
		creds := credential.NewManager("paypal", &clientcredentials.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.Secret,
			TokenURL:     p.BaseURL + "/v1/oauth2/token",
		}, envelope, repo, a.zapLogger)
		registry.Register(gateway.NewPayPal(&gateway.PayPalConfig{
			ClientID:  p.ClientID,
			Secret:    p.Secret,
			BaseURL:   p.BaseURL,
			ReturnURL: returnURL,
			CancelURL: returnURL,
		}, creds, httpclient.New("paypal", 0), a.zapLogger))
	}

	if p := cfg.Providers.Stripe; p.Enabled {
		registry.Register(gateway.NewStripe(&gateway.StripeConfig{
			APIKey:        p.APIKey,
			WebhookSecret: p.WebhookSecret,
		}))
	}

	if p := cfg.Providers.Wechat; p.Enabled {
		adapter, err := gateway.NewWechat(&gateway.WechatConfig{
			AppID:          p.AppID,
			MchID:          p.MchID,
			APIKeyV3:       p.APIKeyV3,
			SerialNo:       p.SerialNo,
			PrivateKey:     p.PrivateKey,
			PlatformSerial: p.PlatformSerial,
			PlatformCert:   p.PlatformCert,
			IsProd:         p.IsProd,
			WebhookURL:     cfg.Server.PublicURL + "/webhooks/wechat",
			CollectExpiry:  p.CollectExpiry,
		})
		if err != nil {
			return fmt.Errorf("create wechat adapter: %w", err)
		}
		registry.Register(adapter)
	}

	a.paymentService = payment.NewService(repo, registry, sessions, nonces, envelope, a.eventBus, a.zapLogger)
	a.reconciler = payment.NewReconciler(a.paymentService, repo, payment.ReconcilerConfig{
		Interval:    cfg.Reconciler.Interval,
		Grace:       cfg.Reconciler.Grace,
		ExpireAfter: cfg.Reconciler.ExpireAfter,
		BatchSize:   cfg.Reconciler.BatchSize,
	}, a.zapLogger)

	a.paymentHandler = ports.NewPaymentHandler(a.paymentService)
	a.webhookHandler = ports.NewWebhookHandler(a.paymentService, a.zapLogger)

	return nil
}

// registerEventHandlers registers all domain event handlers.
func (a *App) registerEventHandlers() {
	a.eventBus.Register(NewAuditHandler(a.zapLogger))
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	m := metrics.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks live at the root: the paths are registered
	// with each provider and stay stable across API versions.
	a.webhookHandler.RegisterRoutes(&r.RouterGroup)

	api := r.Group("/api/v1")
	a.paymentHandler.RegisterRoutes(api)

	admin := r.Group("/api/v1/admin")
	a.paymentHandler.RegisterAdminRoutes(admin)

	return r
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop shuts down background components.
func (a *App) Stop() {
	if a.stopReconciler != nil {
		a.stopReconciler()
	}
	if a.redis != nil {
		_ = cache.Close(a.redis)
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
	_ = a.zapLogger.Sync()
}
