package app

import (
	"log/slog"
	"time"

	"github.com/cradoe/lendflow/internal/config"
	"github.com/cradoe/lendflow/internal/env"
	"github.com/joho/godotenv"
)

// LoadConfig reads the configuration from the environment, after loading a .env file
// when one exists.
func LoadConfig(logger *slog.Logger) config.Config {
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", "error", err.Error())
	}

	var cfg config.Config

	// Default values are for development mode only
	// make sure no production-level value is exposed as default value here
	cfg.BaseURL = env.GetString("BASE_URL", "http://localhost:4444")
	cfg.HttpPort = env.GetInt("HTTP_PORT", 4444)

	cfg.Db.Dsn = env.GetString("DB_DSN", "user:pass@localhost:5432/db?sslmode=disable")
	cfg.Db.Automigrate = env.GetBool("DB_AUTOMIGRATE", true)

	cfg.Jwt.SecretKey = env.GetString("JWT_SECRET_KEY", "ajf5nx3qmp6zquevllxocxqvyz42ypuo")

	// server errors won't be sent via email if the NOTIFICATIONS_EMAIL wasn't set in the .env file
	cfg.Notifications.Email = env.GetString("NOTIFICATIONS_EMAIL", "")

	cfg.Smtp.Host = env.GetString("SMTP_HOST", "example.smtp.host")
	cfg.Smtp.Port = env.GetInt("SMTP_PORT", 25)
	cfg.Smtp.Username = env.GetString("SMTP_USERNAME", "example_username")
	cfg.Smtp.Password = env.GetString("SMTP_PASSWORD", "pa55word")
	cfg.Smtp.From = env.GetString("SMTP_FROM", "Lendflow <no_reply@example.org>")

	// lifecycle events go straight to the activity log when no broker is configured
	cfg.KafkaServers = env.GetString("KAFKA_SERVERS", "")

	// without redis the auto-pay sweep is only guarded within this process
	cfg.RedisServer = env.GetString("REDIS_SERVER", "")
	cfg.RedisDB = env.GetInt("REDIS_DB", 0)

	cfg.FileUploader.ApiKey = env.GetString("CLOUDINARY_API_KEY", "")
	cfg.FileUploader.CloudName = env.GetString("CLOUDINARY_CLOUD_NAME", "")
	cfg.FileUploader.ApiSecret = env.GetString("CLOUDINARY_API_SECRET", "")

	cfg.CardGateway.URL = env.GetString("CARD_GATEWAY_URL", "")
	cfg.CardGateway.ApiKey = env.GetString("CARD_GATEWAY_API_KEY", "")
	cfg.CardGateway.Timeout = env.GetDuration("CARD_GATEWAY_TIMEOUT", 30*time.Second)

	cfg.Crypto.Addresses = map[string]string{
		"BTC":  env.GetString("CRYPTO_ADDRESS_BTC", ""),
		"ETH":  env.GetString("CRYPTO_ADDRESS_ETH", ""),
		"USDT": env.GetString("CRYPTO_ADDRESS_USDT", ""),
		"USDC": env.GetString("CRYPTO_ADDRESS_USDC", ""),
	}

	cfg.Scheduler.AutoPayHour = env.GetInt("AUTOPAY_HOUR", 2)
	cfg.Scheduler.AutoPayMinute = env.GetInt("AUTOPAY_MINUTE", 0)
	cfg.Scheduler.AutoPayLeaseTTL = env.GetDuration("AUTOPAY_LEASE_TTL", time.Hour)
	cfg.Scheduler.ReminderInterval = env.GetDuration("REMINDER_INTERVAL", 6*time.Hour)
	cfg.Scheduler.ReminderCooldown = env.GetDuration("REMINDER_COOLDOWN", 24*time.Hour)

	return cfg
}
