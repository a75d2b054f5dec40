package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DevSessionSecret is the hashing secret used when ENV=development and no
// SESSION_SECRET is configured. Validate rejects it everywhere else.
const DevSessionSecret = "telehealth-dev-secret"

const (
	PasswordSchemePlain  = "plain"
	PasswordSchemeBcrypt = "bcrypt"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	SessionSecret     string        `mapstructure:"SESSION_SECRET"`
	PasswordScheme    string        `mapstructure:"PASSWORD_SCHEME"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	LoginRateLimitRPS float64       `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	UploadDir         string        `mapstructure:"UPLOAD_DIR"`
	MaxUploadBytes    int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	CloudinaryURL     string        `mapstructure:"CLOUDINARY_URL"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("PASSWORD_SCHEME", PasswordSchemePlain)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("MAX_UPLOAD_BYTES", 5<<20)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"SESSION_SECRET", "PASSWORD_SCHEME", "REDIS_URL", "CORS_ORIGINS",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOGIN_RATE_LIMIT_RPS",
		"REQUEST_TIMEOUT", "UPLOAD_DIR", "MAX_UPLOAD_BYTES", "CLOUDINARY_URL",
		"MIGRATIONS_DIR",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SessionSecret == "" && cfg.IsDev() {
		cfg.SessionSecret = DevSessionSecret
		log.Println("WARNING: SESSION_SECRET is not set; using the built-in development secret.")
		log.Println("WARNING: Session cookies signed with it are forgeable. Do NOT use this outside development.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a real SESSION_SECRET is mandatory, since every session hash is derived
// from it.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when ENV=%q", c.Env)
		}
		if c.SessionSecret == DevSessionSecret {
			return fmt.Errorf("SESSION_SECRET must not be the development secret when ENV=%q", c.Env)
		}
	}

	switch c.PasswordScheme {
	case PasswordSchemePlain, PasswordSchemeBcrypt:
	default:
		return fmt.Errorf("PASSWORD_SCHEME must be %q or %q, got %q",
			PasswordSchemePlain, PasswordSchemeBcrypt, c.PasswordScheme)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return nil
}
