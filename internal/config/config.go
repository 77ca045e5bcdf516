// Package config loads the server configuration from the environment.
//
// HOW LOADING WORKS:
//  1. godotenv reads a .env file, if there is one, into the process
//     environment. Variables that are already set win over the file.
//  2. cleanenv fills the Config struct from the environment using the `env`
//     and `env-default` struct tags.
//  3. Validate checks the values that would otherwise fail much later
//     (a short JWT secret only shows up on the first login).
//
// Every key is documented by its `env-description` tag; `serve --help-env`
// prints them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// MinJWTSecretLength is the shortest secret accepted outside development.
const MinJWTSecretLength = 32

type Config struct {
	Env        string        `env:"APP_ENV" env-default:"development" env-description:"development or production"`
	Port       int           `env:"PORT" env-default:"8080" env-description:"HTTP listen port"`
	DBPath     string        `env:"DB_PATH" env-default:"data/inmyopinion.db" env-description:"SQLite database file"`
	JWTSecret  string        `env:"JWT_SECRET" env-description:"HMAC key for bearer tokens"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" env-default:"168h" env-description:"bearer token lifetime"`
	BcryptCost int           `env:"BCRYPT_COST" env-default:"12" env-description:"bcrypt work factor"`
	AdminEmail string        `env:"ADMIN_EMAIL" env-description:"email that registers as admin"`

	FrontendURL string   `env:"FRONTEND_URL" env-default:"http://localhost:3000" env-description:"base URL of the web client"`
	CORSOrigins []string `env:"CORS_ORIGINS" env-separator:"," env-description:"extra allowed origins, comma separated"`

	Redis  RedisConfig
	Stripe StripeConfig
	Mail   MailConfig
	Log    LogConfig
}

// RedisConfig is optional: an empty Addr keeps rate limits in memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-description:"host:port; empty uses in-memory rate limits"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY" env-description:"empty disables payments"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// MailConfig selects Microsoft Graph delivery when all three AZURE_* values
// are set; otherwise emails are only logged.
type MailConfig struct {
	TenantID     string  `env:"AZURE_TENANT_ID"`
	ClientID     string  `env:"AZURE_CLIENT_ID"`
	ClientSecret string  `env:"AZURE_CLIENT_SECRET"`
	From         string  `env:"CONTACT_EMAIL" env-description:"sending mailbox and contact form recipient"`
	RatePerSec   float64 `env:"MAIL_RATE_PER_SEC" env-default:"2"`
}

func (m MailConfig) GraphEnabled() bool {
	return m.TenantID != "" && m.ClientID != "" && m.ClientSecret != "" && m.From != ""
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads envFile (if it exists) and then the environment.
// An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading %s: %w", envFile, err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	cfg.AdminEmail = strings.ToLower(strings.TrimSpace(cfg.AdminEmail))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	switch {
	case c.JWTSecret == "":
		errs = append(errs, errors.New("JWT_SECRET is required"))
	case c.IsProduction() && len(c.JWTSecret) < MinJWTSecretLength:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters in production", MinJWTSecretLength))
	case len(c.JWTSecret) < 16:
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// AllowedOrigins is the CORS allow-list: the frontend plus CORS_ORIGINS.
func (c *Config) AllowedOrigins() []string {
	origins := []string{c.FrontendURL}
	for _, o := range c.CORSOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" && o != c.FrontendURL {
			origins = append(origins, o)
		}
	}
	return origins
}

// Usage describes every environment variable, for --help output.
func Usage() (string, error) {
	var cfg Config
	return cleanenv.GetDescription(&cfg, nil)
}
