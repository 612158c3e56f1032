package app

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campuskit/centpay/internal/cache"
	"github.com/campuskit/centpay/internal/config"
	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/device"
	"github.com/campuskit/centpay/internal/env"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/helper"
	"github.com/campuskit/centpay/internal/reconcile"
	"github.com/campuskit/centpay/internal/repository"
	"github.com/campuskit/centpay/internal/session"
	"github.com/campuskit/centpay/internal/smtp"
	"github.com/campuskit/centpay/internal/stream"
	"github.com/campuskit/centpay/internal/topup"
	"github.com/joho/godotenv"
)

// Essential services and resources are exposed to the application
// this makes it possible for methods to have access to these items when they need them
type Application struct {
	Config       config.Config
	DB           repository.Database
	Logger       *slog.Logger
	Mailer       *smtp.Mailer
	WG           sync.WaitGroup
	Kafka        *stream.KafkaStream
	Cache        *cache.Cache
	Coordinator  *coordinator.Coordinator
	Sessions     *session.Machine
	Devices      *device.Registry
	TopUps       *topup.Processor
	Reconciler   *reconcile.Job
	errorHandler *errHandler.ErrorHandler
	helper       *helper.HelperRepository
}

func NewApplication(logger *slog.Logger) (*Application, error) {
	if err := godotenv.Load(); err != nil {
		logger.Error("Error loading .env file", "error", err)
	}

	var cfg config.Config

	// config values are loaded from the .env file
	// Default values are provided for these items and these should strictly be values for development mode only
	// make sure no production-level value is exposed as default value here
	cfg.BaseURL = env.GetString("BASE_URL", "http://localhost:4444")
	cfg.HttpPort = env.GetInt("HTTP_PORT", 4444)

	cfg.Db.Dsn = env.GetString("DB_DSN", "user:pass@localhost:5432/centpay")
	cfg.Db.Automigrate = env.GetBool("DB_AUTOMIGRATE", true)

	cfg.Jwt.SecretKey = env.GetString("JWT_SECRET_KEY", "ajf5nx3qmp6zquevllxocxqvyz42ypuo")
	cfg.Jwt.Issuer = env.GetString("JWT_ISSUER", "http://localhost:8000")

	// server errors and operator alerts won't be sent via email if the
	// NOTIFICATIONS_EMAIL wasn't set in the .env file
	cfg.Notifications.Email = env.GetString("NOTIFICATIONS_EMAIL", "")

	cfg.Smtp.Host = env.GetString("SMTP_HOST", "example.smtp.host")
	cfg.Smtp.Port = env.GetInt("SMTP_PORT", 25)
	cfg.Smtp.Username = env.GetString("SMTP_USERNAME", "example_username")
	cfg.Smtp.Password = env.GetString("SMTP_PASSWORD", "pa55word")
	cfg.Smtp.From = env.GetString("SMTP_FROM", "CentPay <no_reply@example.org>")

	cfg.Redis.Addr = env.GetString("REDIS_ADDR", "localhost:6379")
	cfg.Redis.DB = env.GetInt("REDIS_DB", 0)

	cfg.KafkaServers = env.GetString("KAFKA_SERVERS", "localhost:9092")

	cfg.Payment.DefaultWalletCap = env.GetInt64("PAYMENT_DEFAULT_WALLET_CAP", 10_000)
	cfg.Payment.SessionTTL = env.GetDuration("PAYMENT_SESSION_TTL", 2*time.Minute)
	cfg.Payment.MaxSessionAmount = env.GetInt64("PAYMENT_MAX_SESSION_AMOUNT", 2_000)
	cfg.Payment.RefundWindow = env.GetDuration("PAYMENT_REFUND_WINDOW", 720*time.Hour)
	cfg.Payment.ActivationTokenTTL = env.GetDuration("PAYMENT_ACTIVATION_TOKEN_TTL", 24*time.Hour)
	cfg.Payment.ReconcileInterval = env.GetDuration("PAYMENT_RECONCILE_INTERVAL", time.Hour)
	cfg.Payment.TopUpWebhookSecret = env.GetString("PAYMENT_TOPUP_WEBHOOK_SECRET", "dev-webhook-secret")

	cfg.Seed = env.GetBool("SEED_DEMO_DATA", false)

	db, err := repository.New(cfg.Db.Dsn, cfg.Db.Automigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	mailer, err := smtp.NewMailer(cfg.Smtp.Host, cfg.Smtp.Port, cfg.Smtp.Username, cfg.Smtp.Password, cfg.Smtp.From)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	app := &Application{
		Config: cfg,
		DB:     db,
		Logger: logger,
		Mailer: mailer,
	}

	app.helper = helper.New(&cfg.BaseURL, &app.WG, nil)
	app.errorHandler = errHandler.New(cfg.Notifications.Email, mailer, logger, app.helper)
	app.helper.SetReporter(app.errorHandler)

	app.Kafka = stream.New(cfg.KafkaServers, logger)
	app.Cache = cache.New(cfg.Redis.Addr, cfg.Redis.DB)

	app.Coordinator = coordinator.New(db, app.Kafka, logger, cfg.Payment.RefundWindow)
	app.Sessions = session.NewMachine(db, app.Coordinator, app.Cache, logger, cfg.Payment.SessionTTL, cfg.Payment.MaxSessionAmount)
	app.Devices = device.NewRegistry(db, logger, cfg.Payment.ActivationTokenTTL)
	app.TopUps = topup.NewProcessor(app.Coordinator, topup.NewHMACVerifier(cfg.Payment.TopUpWebhookSecret), logger)
	app.Reconciler = reconcile.NewJob(db, app.Kafka, logger, cfg.Payment.ReconcileInterval)

	return app, nil
}

// ErrorHandler exposes the shared error handler to the process entrypoint,
// which hands it to the alert worker.
func (app *Application) ErrorHandler() *errHandler.ErrorHandler {
	return app.errorHandler
}
