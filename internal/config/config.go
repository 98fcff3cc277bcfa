package config

import "time"

type Config struct {
	BaseURL  string
	HttpPort int
	Db       struct {
		Dsn         string
		Automigrate bool
	}
	Jwt struct {
		SecretKey string
	}
	Notifications struct {
		Email string
	}
	Smtp struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
	FileUploader struct {
		CloudName string
		ApiKey    string
		ApiSecret string
	}
	KafkaServers string
	RedisServer  string
	RedisDB      int

	// CardGateway is left with an empty URL in development, in which case the sandbox
	// provider is used.
	CardGateway struct {
		URL     string
		ApiKey  string
		Timeout time.Duration
	}
	Crypto struct {
		Addresses map[string]string
	}
	Scheduler struct {
		AutoPayHour      int
		AutoPayMinute    int
		AutoPayLeaseTTL  time.Duration
		ReminderInterval time.Duration
		ReminderCooldown time.Duration
	}
}
