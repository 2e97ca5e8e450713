package config

import (
	"fmt"
	"strings" // For LogLevel normalization
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// ReminderConfig holds the expiry reminder job settings.
type ReminderConfig struct {
	Enabled             bool          `env:"REMINDER_ENABLED" envDefault:"true"`
	Environments        []string      `env:"REMINDER_ENVIRONMENTS" envDefault:"production" envSeparator:","`
	CronSpec            string        `env:"REMINDER_CRON_SPEC" envDefault:"0 9 * * *" validate:"required"`
	Timezone            string        `env:"REMINDER_TIMEZONE" envDefault:"Asia/Kolkata" validate:"required"`
	WithinDays          int           `env:"REMINDER_WITHIN_DAYS" envDefault:"30" validate:"gte=0"`
	CooldownDays        int           `env:"REMINDER_COOLDOWN_DAYS" envDefault:"7" validate:"gte=0"`
	RunTimeout          time.Duration `env:"REMINDER_RUN_TIMEOUT" envDefault:"10m" validate:"gt=0"`
	DispatchConcurrency int           `env:"REMINDER_DISPATCH_CONCURRENCY" envDefault:"1" validate:"gte=1,lte=32"`
}

// EmailConfig configures the Brevo transactional email API.
type EmailConfig struct {
	BrevoAPIKey string        `env:"BREVO_API_KEY"`
	BrevoAPIURL string        `env:"BREVO_API_URL" envDefault:"https://api.brevo.com/v3/smtp/email" validate:"url"`
	FromEmail   string        `env:"FROM_EMAIL" envDefault:"no-reply@yourapp.com" validate:"email"`
	Timeout     time.Duration `env:"EMAIL_TIMEOUT" envDefault:"10s" validate:"gt=0"`
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	CustomerStore string `env:"CUSTOMER_STORE" envDefault:"mongo" validate:"oneof=mongo postgres"`
	MongoURI      string `env:"MONGO_URI" validate:"required_if=CustomerStore mongo"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"insurance"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=CustomerStore postgres"`

	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	AdminAPIToken string `env:"ADMIN_API_TOKEN"`

	TelegramToken   string `env:"TELEGRAM_TOKEN"`
	AdminTelegramID int64  `env:"ADMIN_TELEGRAM_ID"`

	Reminder ReminderConfig
	Email    EmailConfig
}

// JobActive reports whether the reminder job should be scheduled in this
// deployment: the flag is on and the environment is listed.
func (c *AppConfig) JobActive() bool {
	if !c.Reminder.Enabled {
		return false
	}
	for _, e := range c.Reminder.Environments {
		if strings.EqualFold(strings.TrimSpace(e), c.Environment) {
			return true
		}
	}
	return false
}

// ManualTriggersEnabled reports whether an operator surface can start runs
// outside the schedule: the admin HTTP token or the Telegram bot.
func (c *AppConfig) ManualTriggersEnabled() bool {
	return c.AdminAPIToken != "" || c.TelegramToken != ""
}

// Location resolves the configured cron timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Reminder.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_TIMEZONE %q: %w", c.Reminder.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()
	return Parse()
}

// Parse builds the configuration from the current process environment only.
func Parse() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if (cfg.JobActive() || cfg.ManualTriggersEnabled()) && cfg.Email.BrevoAPIKey == "" {
		return nil, fmt.Errorf("BREVO_API_KEY is not set but reminder runs can be triggered")
	}
	return cfg, nil
}
