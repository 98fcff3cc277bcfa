package mocks

import (
	"time"

	"github.com/cradoe/lendflow/internal/config"
)

func NewConfig() *config.Config {
	cfg := &config.Config{
		BaseURL:      "http://localhost",
		HttpPort:     8080,
		RedisServer:  "localhost:6379",
		KafkaServers: "",
	}

	cfg.Db.Dsn = "mock_dsn"
	cfg.Jwt.SecretKey = "test_secret"
	cfg.Notifications.Email = "no-reply@example.com"
	cfg.Smtp.Host = "smtp.example.com"
	cfg.Smtp.Port = 587
	cfg.Smtp.Username = "user@example.com"
	cfg.Smtp.Password = "password"
	cfg.Smtp.From = "no-reply@example.com"
	cfg.CardGateway.Timeout = time.Second
	cfg.Crypto.Addresses = map[string]string{
		"BTC":  "bc1qtestaddress",
		"ETH":  "0xTestEthAddress",
		"USDT": "0xTestUsdtAddress",
		"USDC": "0xTestUsdcAddress",
	}
	cfg.Scheduler.AutoPayHour = 2
	cfg.Scheduler.AutoPayLeaseTTL = time.Hour
	cfg.Scheduler.ReminderInterval = 6 * time.Hour
	cfg.Scheduler.ReminderCooldown = 24 * time.Hour

	return cfg
}
