package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/lendflow/internal/cache"
	"github.com/cradoe/lendflow/internal/config"
	"github.com/cradoe/lendflow/internal/errHandler"
	"github.com/cradoe/lendflow/internal/file"
	"github.com/cradoe/lendflow/internal/helper"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/notification"
	"github.com/cradoe/lendflow/internal/payment"
	"github.com/cradoe/lendflow/internal/provider/card"
	"github.com/cradoe/lendflow/internal/provider/crypto"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/cradoe/lendflow/internal/smtp"
	"github.com/cradoe/lendflow/internal/stream"
	"github.com/cradoe/lendflow/internal/worker"
)

// Essential services and resources are exposed to the application
// this makes it possible for methods to have access to these items and when they need them
type Application struct {
	Config       config.Config
	DB           repository.Database
	Logger       *slog.Logger
	Mailer       *smtp.Mailer
	Kafka        *stream.KafkaStream
	Cache        *cache.Cache
	FileUploader *file.FileUploader
	Notifier     notification.Gateway
	Machine      *lifecycle.Machine
	Payments     *payment.Service
	AutoPay      *worker.AutoPayReconciler
	Reminders    *worker.ReminderReconciler
	Helper       *helper.HelperRepository

	errorHandler *errHandler.ErrorRepository
}

func NewApplication(logger *slog.Logger) (*Application, error) {
	cfg := LoadConfig(logger)

	db, err := repository.New(cfg.Db.Dsn, cfg.Db.Automigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app, err := Build(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return app, nil
}

// Build wires every service over an open database.
func Build(cfg config.Config, db repository.Database, logger *slog.Logger) (*Application, error) {
	mailer, err := smtp.NewMailer(cfg.Smtp.Host, cfg.Smtp.Port, cfg.Smtp.Username, cfg.Smtp.Password, cfg.Smtp.From)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	helper := helper.New(cfg.BaseURL, logger)
	errorHandler := errHandler.New(cfg.Notifications.Email, cfg.BaseURL, mailer, logger)
	notifier := notification.NewMailGateway(mailer, cfg.BaseURL, logger)

	// a nil *KafkaStream must not reach the side effects as a non-nil interface
	var (
		kafkaStream *stream.KafkaStream
		publisher   stream.Publisher
	)
	if cfg.KafkaServers != "" {
		kafkaStream = stream.New(cfg.KafkaServers)
		publisher = kafkaStream
	}

	var (
		redisCache *cache.Cache
		locker     worker.Locker
	)
	if cfg.RedisServer != "" {
		redisCache = cache.New(cfg.RedisServer, cfg.RedisDB)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisCache.Ping(ctx)
		cancel()
		if err != nil {
			redisCache.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		locker = worker.NewRedisLocker(redisCache)
	}

	var cards card.Provider = card.NewSandbox()
	if cfg.CardGateway.URL != "" {
		cards = card.NewBreaker(card.NewHTTPProvider(cfg.CardGateway.URL, cfg.CardGateway.ApiKey, cfg.CardGateway.Timeout), card.BreakerConfig{})
	} else {
		logger.Warn("no card gateway configured, card charges go to the sandbox")
	}

	effects := lifecycle.NewSideEffects(db, notifier, publisher, helper, logger)
	machine := lifecycle.NewMachine(db, effects, logger)

	payments := payment.NewService(db, machine, cards, crypto.NewStaticResolver(cfg.Crypto.Addresses), cfg.CardGateway.Timeout, logger)

	autoPay := worker.NewAutoPayReconciler(db, cards, db.PaymentMethod(), notifier, locker, worker.AutoPayConfig{
		ChargeTimeout: cfg.CardGateway.Timeout,
		LeaseTTL:      cfg.Scheduler.AutoPayLeaseTTL,
	}, logger)

	reminders := worker.NewReminderReconciler(db, notifier, worker.ReminderConfig{
		Cooldown: cfg.Scheduler.ReminderCooldown,
	}, logger)

	fileUploader := file.New(cfg.FileUploader.CloudName, cfg.FileUploader.ApiKey, cfg.FileUploader.ApiSecret, logger)

	return &Application{
		Config:       cfg,
		DB:           db,
		Logger:       logger,
		Mailer:       mailer,
		Kafka:        kafkaStream,
		Cache:        redisCache,
		FileUploader: fileUploader,
		Notifier:     notifier,
		Machine:      machine,
		Payments:     payments,
		AutoPay:      autoPay,
		Reminders:    reminders,
		Helper:       helper,
		errorHandler: errorHandler,
	}, nil
}

// StartWorkers runs the audit consumer and both schedulers until ctx is done.
func (app *Application) StartWorkers(ctx context.Context) {
	wk := worker.New(&worker.Worker{
		KafkaStream: app.Kafka,
		DB:          app.DB,
		Ctx:         ctx,
		Helper:      app.Helper,
		Logger:      app.Logger,
	})

	if app.Kafka != nil {
		go wk.AuditWorker()
	}

	go wk.ScheduleAutoPay(app.AutoPay, app.Config.Scheduler.AutoPayHour, app.Config.Scheduler.AutoPayMinute)
	go wk.ScheduleReminders(app.Reminders, app.Config.Scheduler.ReminderInterval)
}

// Close waits for background tasks and releases connections.
func (app *Application) Close() {
	app.Helper.Wait()

	if app.Cache != nil {
		app.Cache.Close()
	}
	app.DB.Close()
}
