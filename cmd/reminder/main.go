package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"policy_reminder/internal/app"
	"policy_reminder/internal/domain/customer"
	"policy_reminder/internal/domain/reminder"
	domainTelegram "policy_reminder/internal/domain/telegram"
	"policy_reminder/internal/infra/config"
	idb "policy_reminder/internal/infra/database"
	"policy_reminder/internal/infra/httpapi"
	"policy_reminder/internal/infra/logger"
	"policy_reminder/internal/infra/mailer"
	"policy_reminder/internal/infra/scheduler"
	"policy_reminder/internal/infra/telegram"

	"gopkg.in/telebot.v3"
)

const shutdownTimeout = 15 * time.Second

func main() {
	fmt.Println("Policy Reminder Service starting...")

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")

	mainLogger.WithField("environment", cfg.Environment).
		WithField("customer_store", cfg.CustomerStore).
		WithField("job_active", cfg.JobActive()).
		Info("Configuration loaded")

	ctx := context.Background()

	// Initialize Customer Store
	customerRepo, closeStore, err := openCustomerStore(ctx, cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to customer store")
	}
	defer closeStore()
	mainLogger.Info("Customer store connection established successfully")

	// Initialize Email Client
	mailClient, err := mailer.NewBrevoClient(mailer.BrevoConfig{
		APIURL:    cfg.Email.BrevoAPIURL,
		APIKey:    cfg.Email.BrevoAPIKey,
		FromEmail: cfg.Email.FromEmail,
		Timeout:   cfg.Email.Timeout,
	}, logger.Component("brevo"))
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create email client")
	}

	window := reminder.Window{WithinDays: cfg.Reminder.WithinDays, CooldownDays: cfg.Reminder.CooldownDays}
	reminderService := app.NewReminderService(
		customerRepo,
		mailClient,
		logger.Component("reminder"),
		window,
		cfg.Reminder.DispatchConcurrency,
	)

	loc, err := cfg.Location()
	if err != nil {
		mainLogger.WithError(err).Fatal("Invalid scheduler timezone")
	}

	var adminService *app.AdminService
	reminderScheduler := scheduler.NewReminderScheduler(reminderService, logger.Component("scheduler"), scheduler.Options{
		CronSpec:   cfg.Reminder.CronSpec,
		Location:   loc,
		RunTimeout: cfg.Reminder.RunTimeout,
		OnFinish: func(r *reminder.RunReport) {
			if adminService != nil {
				adminService.NotifyRunSummary(r)
			}
		},
	})

	// Initialize optional Telegram ops bot
	var bot *telebot.Bot
	var tgClient domainTelegram.Client
	if cfg.TelegramToken != "" {
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				entry := logger.Component("telebot").WithError(err)
				if c != nil && c.Sender() != nil {
					entry = entry.WithField("sender_id", c.Sender().ID)
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		tgClient = telegram.NewTelebotAdapter(bot)
	}

	adminService = app.NewAdminService(reminderScheduler, tgClient, cfg.AdminTelegramID, logger.Component("admin"))

	if bot != nil {
		botLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, adminService, botLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, cfg.Reminder.RunTimeout, botLogger)
		go bot.Start()
		mainLogger.Info("Telegram ops bot started")
	}

	if cfg.JobActive() {
		if err := reminderScheduler.Start(); err != nil {
			mainLogger.WithError(err).Fatal("Could not start reminder scheduler")
		}
	} else {
		mainLogger.WithField("environment", cfg.Environment).Info("Expiry reminder job disabled for this environment")
	}

	router := httpapi.NewRouter(httpapi.Options{
		Trigger:    reminderScheduler,
		Scanner:    reminderService,
		Window:     window,
		RunTimeout: cfg.Reminder.RunTimeout,
		AdminToken: cfg.AdminAPIToken,
		Logger:     logger.Component("http"),
	})
	go func() {
		if err := router.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Fatal("Ops HTTP server failed")
		}
	}()
	mainLogger.WithField("addr", cfg.HTTPAddr).Info("Application setup complete")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("Ops HTTP server did not stop cleanly")
	}
	if bot != nil {
		bot.Stop()
	}
	reminderScheduler.Stop()
	mainLogger.Info("Application shut down gracefully")
}

func openCustomerStore(ctx context.Context, cfg *config.AppConfig) (customer.Repository, func(), error) {
	switch cfg.CustomerStore {
	case config.StorePostgres:
		db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return idb.NewPostgresCustomerRepository(db), func() { db.Close() }, nil
	default:
		client, err := idb.NewMongoConnection(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}
		return idb.NewMongoCustomerRepository(client, cfg.MongoDatabase), closeFn, nil
	}
}
