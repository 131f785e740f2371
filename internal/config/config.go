package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	Store                 string        `mapstructure:"STORE"`
	AuthMode              string        `mapstructure:"AUTH_MODE"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret             string        `mapstructure:"JWT_SECRET"`
	JWTIssuer             string        `mapstructure:"JWT_ISSUER"`
	JWTAudience           string        `mapstructure:"JWT_AUDIENCE"`
	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	PublicShowPatientName bool          `mapstructure:"PUBLIC_SHOW_PATIENT_NAME"`
	PublicRateLimitRPS    float64       `mapstructure:"PUBLIC_RATE_LIMIT_RPS"`
	PublicRateLimitBurst  int           `mapstructure:"PUBLIC_RATE_LIMIT_BURST"`
	KafkaBrokers          []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaActivityTopic    string        `mapstructure:"KAFKA_ACTIVITY_TOPIC"`
	ActivityBuffer        int           `mapstructure:"ACTIVITY_BUFFER"`
	ActivityWebhookURL    string        `mapstructure:"ACTIVITY_WEBHOOK_URL"`
	ActivityWebhookSecret string        `mapstructure:"ACTIVITY_WEBHOOK_SECRET"`
	OTLPEndpoint          string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure          bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelSampleRatio       float64       `mapstructure:"OTEL_SAMPLE_RATIO"`
	Timezone              string        `mapstructure:"TIMEZONE"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit             string        `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "orcoord")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PUBLIC_SHOW_PATIENT_NAME", false)
	v.SetDefault("PUBLIC_RATE_LIMIT_RPS", 2)
	v.SetDefault("PUBLIC_RATE_LIMIT_BURST", 10)
	v.SetDefault("KAFKA_ACTIVITY_TOPIC", "or-activity")
	v.SetDefault("ACTIVITY_BUFFER", 256)
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
	v.SetDefault("TIMEZONE", "Asia/Jakarta")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "STORE", "AUTH_MODE",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE", "CORS_ORIGINS",
		"PUBLIC_SHOW_PATIENT_NAME", "PUBLIC_RATE_LIMIT_RPS", "PUBLIC_RATE_LIMIT_BURST",
		"KAFKA_BROKERS", "KAFKA_ACTIVITY_TOPIC", "ACTIVITY_BUFFER",
		"ACTIVITY_WEBHOOK_URL", "ACTIVITY_WEBHOOK_SECRET",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLE_RATIO",
		"TIMEZONE", "REQUEST_TIMEOUT", "BODY_LIMIT",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	return cfg, nil
}

// splitList normalises comma-separated values, which arrive either as one
// raw string or already split by viper.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 0 {
		parsed = []string{raw}
	}
	var out []string
	for _, p := range parsed {
		for _, s := range strings.Split(p, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development means "development" (every
// request is an admin unless the dev headers say otherwise) and anything else
// means "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Location loads TIMEZONE, used to resolve the active shift.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// JWT_SECRET must be at least 32 bytes so that tokens cannot be forged.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case "jwt":
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 bytes when AUTH_MODE is \"jwt\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ActivityBuffer <= 0 {
		return fmt.Errorf("ACTIVITY_BUFFER must be positive, got %d", c.ActivityBuffer)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaActivityTopic == "" {
		return fmt.Errorf("KAFKA_ACTIVITY_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.ActivityWebhookURL != "" && c.ActivityWebhookSecret == "" {
		return fmt.Errorf("ACTIVITY_WEBHOOK_SECRET is required when ACTIVITY_WEBHOOK_URL is set")
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1, got %v", c.OTelSampleRatio)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
