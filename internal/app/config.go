package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/kelseyhightower/envconfig"

	"github.com/potatospin/potatospin/internal/ledger"
	"github.com/potatospin/potatospin/internal/rewards"
	"github.com/potatospin/potatospin/internal/shared"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// PGDSN selects the Postgres audit store; empty falls back to AuditFile.
	PGDSN     string `envconfig:"PG_DSN"`
	AuditFile string `envconfig:"AUDIT_FILE" default:"data/ledger-audit.jsonl"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	TokenOwner         string `envconfig:"TOKEN_OWNER" required:"true"`
	TokenName          string `envconfig:"TOKEN_NAME" default:"Potato Token"`
	TokenSymbol        string `envconfig:"TOKEN_SYMBOL" default:"POTATO"`
	TokenDecimals      uint8  `envconfig:"TOKEN_DECIMALS" default:"18"`
	TokenMaxSupply     string `envconfig:"TOKEN_MAX_SUPPLY" default:"1000000000"`
	TokenInitialSupply string `envconfig:"TOKEN_INITIAL_SUPPLY" default:"100000000"`

	AuthMaxSkew time.Duration `envconfig:"AUTH_MAX_SKEW" default:"5m"`

	AuditStream       string        `envconfig:"AUDIT_STREAM" default:"potato:ledger-events"`
	RelayBatchSize    int           `envconfig:"RELAY_BATCH_SIZE" default:"100"`
	RelayInterval     string        `envconfig:"RELAY_INTERVAL" default:"@every 30s"`
	IntegrityInterval string        `envconfig:"INTEGRITY_INTERVAL" default:"@every 15m"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	IssuerGameAddress     string `envconfig:"ISSUER_GAME_ADDRESS"`
	IssuerTasksAddress    string `envconfig:"ISSUER_TASKS_ADDRESS"`
	IssuerReferralAddress string `envconfig:"ISSUER_REFERRAL_ADDRESS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot: addresses, supplies and ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Owner(); err != nil {
		errs = append(errs, fmt.Errorf("TOKEN_OWNER: %w", err))
	}
	if _, err := c.Ledger(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.InitialSupply(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Issuers(); err != nil {
		errs = append(errs, err)
	}
	if c.RelayBatchSize <= 0 {
		errs = append(errs, errors.New("RELAY_BATCH_SIZE must be positive"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.AuthMaxSkew <= 0 {
		errs = append(errs, errors.New("AUTH_MAX_SKEW must be positive"))
	}
	if strings.TrimSpace(c.PGDSN) == "" && strings.TrimSpace(c.AuditFile) == "" {
		errs = append(errs, errors.New("either PG_DSN or AUDIT_FILE must be set"))
	}
	return errors.Join(errs...)
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

func (c *Config) Owner() (shared.Identity, error) {
	return shared.ParseIdentity(c.TokenOwner)
}

// Ledger returns the token configuration. Supplies are whole tokens.
func (c *Config) Ledger() (ledger.Config, error) {
	maxSupply, err := shared.ParseUnits(c.TokenMaxSupply, c.TokenDecimals)
	if err != nil {
		return ledger.Config{}, fmt.Errorf("TOKEN_MAX_SUPPLY: %w", err)
	}
	if maxSupply.IsZero() {
		return ledger.Config{}, fmt.Errorf("TOKEN_MAX_SUPPLY: %w: must be positive", shared.ErrInvalidArgument)
	}
	return ledger.Config{
		Metadata:  ledger.Metadata{Name: c.TokenName, Symbol: c.TokenSymbol, Decimals: c.TokenDecimals},
		MaxSupply: maxSupply,
	}, nil
}

func (c *Config) InitialSupply() (*uint256.Int, error) {
	initial, err := shared.ParseUnits(c.TokenInitialSupply, c.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_INITIAL_SUPPLY: %w", err)
	}
	if lc, err := c.Ledger(); err == nil && initial.Gt(lc.MaxSupply) {
		return nil, fmt.Errorf("TOKEN_INITIAL_SUPPLY: %w: above TOKEN_MAX_SUPPLY", shared.ErrCapacityExceeded)
	}
	return initial, nil
}

// Issuers returns the configured reward issuer identities. Unset issuers are omitted.
func (c *Config) Issuers() (map[rewards.Kind]shared.Identity, error) {
	out := make(map[rewards.Kind]shared.Identity)
	for kind, raw := range map[rewards.Kind]string{
		rewards.KindGame:     c.IssuerGameAddress,
		rewards.KindTasks:    c.IssuerTasksAddress,
		rewards.KindReferral: c.IssuerReferralAddress,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		id, err := shared.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("ISSUER_%s_ADDRESS: %w", strings.ToUpper(string(kind)), err)
		}
		out[kind] = id
	}
	return out, nil
}
