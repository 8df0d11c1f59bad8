package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL      string        `mapstructure:"database_url"`
	ServerPort       string        `mapstructure:"server_port"`
	AppAPIKey        string        `mapstructure:"app_api_key"`
	AppAPISecret     string        `mapstructure:"app_api_secret"`
	EncryptionSecret string        `mapstructure:"encryption_secret"`
	APIVersion       string        `mapstructure:"api_version"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	Sync             SyncConfig    `mapstructure:"sync"`
	Email            EmailConfig   `mapstructure:"email"`
	Webhook          WebhookConfig `mapstructure:"webhook"`
}

type SyncConfig struct {
	// RequestTimeout bounds synchronous sync requests. Runs that exceed it
	// report timed_out to the caller while the work continues in place.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// StaleRunAge is how old an in_progress run must be before startup
	// recovery fails it as orphaned.
	StaleRunAge time.Duration `mapstructure:"stale_run_age"`
}

type EmailConfig struct {
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.Sync.RequestTimeout == 0 {
		config.Sync.RequestTimeout = 60 * time.Second
	}
	if config.Sync.StaleRunAge == 0 {
		config.Sync.StaleRunAge = 2 * time.Hour
	}
	if config.Email.SMTPPort == 0 {
		config.Email.SMTPPort = 587
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if config.AppAPISecret == "" {
		log.Fatal("App API secret must be set in the config file")
	}
	if config.EncryptionSecret == "" {
		log.Fatal("Encryption secret must be set in the config file")
	}

	return &config
}
