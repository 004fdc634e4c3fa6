package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Billing     BillingConfig
	Translation TranslationConfig
	JWT         JWTConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	ShutdownGrace  time.Duration
}

// BillingConfig drives the per-call ticker and the initiation pre-check.
type BillingConfig struct {
	TickInterval    time.Duration
	RatePerInterval int64
	MinSessionCost  int64
	RingTimeout     time.Duration
	TickRetries     int
	LeaseTTL        time.Duration
}

type TranslationConfig struct {
	APIURL        string
	APIKey        string
	Model         string
	SpeechEnabled bool
	Timeout       time.Duration
}

type JWTConfig struct {
	SecretKey   string
	ExpiryHours int
}

// BindEnv maps the upper-case environment names onto viper keys.
func BindEnv() {
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")

	viper.BindEnv("billing.tick_interval", "BILLING_TICK_INTERVAL")
	viper.BindEnv("billing.rate_per_interval", "BILLING_RATE_PER_INTERVAL")
	viper.BindEnv("billing.min_session_cost", "BILLING_MIN_SESSION_COST")
	viper.BindEnv("billing.ring_timeout", "BILLING_RING_TIMEOUT")
	viper.BindEnv("billing.tick_retries", "BILLING_TICK_RETRIES")
	viper.BindEnv("billing.lease_ttl", "BILLING_LEASE_TTL")

	viper.BindEnv("translation.api_url", "TRANSLATION_API_URL")
	viper.BindEnv("translation.api_key", "TRANSLATION_API_KEY")
	viper.BindEnv("translation.model", "TRANSLATION_MODEL")
	viper.BindEnv("translation.speech_enabled", "SPEECH_ENABLED")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})
	viper.SetDefault("server.shutdown_grace", 30*time.Second)

	viper.SetDefault("billing.tick_interval", time.Minute)
	viper.SetDefault("billing.rate_per_interval", 5)
	viper.SetDefault("billing.min_session_cost", 5)
	viper.SetDefault("billing.ring_timeout", 45*time.Second)
	viper.SetDefault("billing.tick_retries", 3)

	viper.SetDefault("translation.api_url", "https://api.groq.com/openai/v1/chat/completions")
	viper.SetDefault("translation.model", "llama3-8b-8192")
	viper.SetDefault("translation.speech_enabled", false)
	viper.SetDefault("translation.timeout", 30*time.Second)

	viper.SetDefault("jwt.expiry_hours", 24)
}

func Load() *Config {
	setDefaults()
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
			ShutdownGrace:  viper.GetDuration("server.shutdown_grace"),
		},
		Billing: LoadBillingConfig(),
		Translation: TranslationConfig{
			APIURL:        viper.GetString("translation.api_url"),
			APIKey:        viper.GetString("translation.api_key"),
			Model:         viper.GetString("translation.model"),
			SpeechEnabled: viper.GetBool("translation.speech_enabled"),
			Timeout:       viper.GetDuration("translation.timeout"),
		},
		JWT: JWTConfig{
			SecretKey:   viper.GetString("jwt.secret_key"),
			ExpiryHours: viper.GetInt("jwt.expiry_hours"),
		},
	}
}

func LoadBillingConfig() BillingConfig {
	setDefaults()
	cfg := BillingConfig{
		TickInterval:    viper.GetDuration("billing.tick_interval"),
		RatePerInterval: viper.GetInt64("billing.rate_per_interval"),
		MinSessionCost:  viper.GetInt64("billing.min_session_cost"),
		RingTimeout:     viper.GetDuration("billing.ring_timeout"),
		TickRetries:     viper.GetInt("billing.tick_retries"),
		LeaseTTL:        viper.GetDuration("billing.lease_ttl"),
	}
	return cfg.Normalize()
}

// Normalize fills zero values and keeps the pre-check at least one interval's rate.
func (c BillingConfig) Normalize() BillingConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.RatePerInterval <= 0 {
		c.RatePerInterval = 5
	}
	if c.MinSessionCost < c.RatePerInterval {
		log.Printf("[CONFIG] billing.min_session_cost %d below rate %d, raising", c.MinSessionCost, c.RatePerInterval)
		c.MinSessionCost = c.RatePerInterval
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = 45 * time.Second
	}
	if c.TickRetries < 0 {
		c.TickRetries = 0
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * c.TickInterval
	}
	return c
}
