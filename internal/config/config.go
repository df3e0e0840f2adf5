// Package config loads the paysaga configuration from YAML and PAYSAGA_*
// environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fortressi/paysaga"
)

// Config is the full paysaga configuration.
type Config struct {
	Saga       SagaConfig                         `mapstructure:"saga"`
	Activities map[string]paysaga.ActivityOptions `mapstructure:"activities" validate:"dive"`
	Temporal   TemporalConfig                     `mapstructure:"temporal"`
	Store      StoreConfig                        `mapstructure:"store"`
	Services   ServicesConfig                     `mapstructure:"services"`
	Gateway    GatewayConfig                      `mapstructure:"gateway"`
	Redis      RedisConfig                        `mapstructure:"redis"`
	Kafka      KafkaConfig                        `mapstructure:"kafka"`
	Ledger     LedgerConfig                       `mapstructure:"ledger"`
	Log        LogConfig                          `mapstructure:"log"`
	Metrics    MetricsConfig                      `mapstructure:"metrics"`
}

// SagaConfig holds the business parameters. Amounts are decimal strings.
type SagaConfig struct {
	FeeRate                string         `mapstructure:"fee_rate" validate:"required,numeric"`
	AmountCeiling          string         `mapstructure:"amount_ceiling" validate:"required,numeric"`
	AuthorizeBeforeCapture bool           `mapstructure:"authorize_before_capture"`
	Approval               ApprovalConfig `mapstructure:"approval"`
}

// ApprovalConfig configures the approval gate.
type ApprovalConfig struct {
	Mode      string        `mapstructure:"mode" validate:"oneof=wait timeout"`
	Threshold string        `mapstructure:"threshold" validate:"required,numeric"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Default   string        `mapstructure:"default" validate:"omitempty,oneof=approved rejected"`
	Heartbeat time.Duration `mapstructure:"heartbeat" validate:"gte=0"`
}

// TemporalConfig locates the Temporal frontend.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port" validate:"required,hostname_port"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	TaskQueue string `mapstructure:"task_queue" validate:"required"`
}

// StoreConfig selects where the local coordinator checkpoints sagas.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory file sqlite"`
	Path   string `mapstructure:"path" validate:"required_unless=Driver memory"`
}

// ServiceConfig configures one downstream HTTP service.
type ServiceConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=1"`
}

// ServicesConfig holds the downstream services.
type ServicesConfig struct {
	FX         ServiceConfig `mapstructure:"fx"`
	Compliance ServiceConfig `mapstructure:"compliance"`
}

// GatewayConfig configures the simulated card processor.
type GatewayConfig struct {
	DeclineAbove string `mapstructure:"decline_above" validate:"omitempty,numeric"`
}

// RedisConfig enables the shared idempotency store. Empty URL keeps keys in
// memory.
type RedisConfig struct {
	URL       string        `mapstructure:"url" validate:"omitempty,url"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// KafkaConfig enables notification publishing. Without brokers
// notifications are only logged.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" validate:"dive,hostname_port"`
	Topic   string   `mapstructure:"topic" validate:"required_with=Brokers"`
}

// LedgerConfig locates the ledger database.
type LedgerConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	saga, err := c.SagaConfig()
	if err != nil {
		return err
	}
	return saga.Approval.Validate()
}

// SagaConfig converts the saga section.
func (c *Config) SagaConfig() (paysaga.SagaConfig, error) {
	feeRate, err := decimal.NewFromString(c.Saga.FeeRate)
	if err != nil {
		return paysaga.SagaConfig{}, fmt.Errorf("invalid saga.fee_rate: %w", err)
	}
	threshold, err := decimal.NewFromString(c.Saga.Approval.Threshold)
	if err != nil {
		return paysaga.SagaConfig{}, fmt.Errorf("invalid saga.approval.threshold: %w", err)
	}
	policy := paysaga.ApprovalPolicy{
		Mode:      paysaga.ApprovalMode(c.Saga.Approval.Mode),
		Threshold: threshold,
		Timeout:   c.Saga.Approval.Timeout,
		Default:   paysaga.Decision(c.Saga.Approval.Default),
		Heartbeat: c.Saga.Approval.Heartbeat,
	}
	return paysaga.SagaConfig{
		FeeRate:                feeRate,
		AuthorizeBeforeCapture: c.Saga.AuthorizeBeforeCapture,
		Approval:               policy,
	}, nil
}

// AmountCeiling is the largest accepted charge amount.
func (c *Config) AmountCeiling() decimal.Decimal {
	d, err := decimal.NewFromString(c.Saga.AmountCeiling)
	if err != nil {
		return paysaga.DefaultAmountCeiling
	}
	return d
}

// DeclineAbove is the gateway's decline limit; zero accepts everything.
func (c *Config) DeclineAbove() decimal.Decimal {
	if c.Gateway.DeclineAbove == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(c.Gateway.DeclineAbove)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Catalog builds the activity catalog. Keys are matched to activity names
// without regard to case.
func (c *Config) Catalog() (paysaga.ActivityCatalog, error) {
	catalog := paysaga.DefaultActivityCatalog()
	for key, opts := range c.Activities {
		name, ok := activityName(key)
		if !ok {
			return nil, fmt.Errorf("invalid config: unknown activity %q", key)
		}
		catalog[name] = opts
	}
	return catalog, nil
}

func activityName(key string) (paysaga.ActivityName, bool) {
	for _, name := range paysaga.AllActivities {
		if strings.EqualFold(string(name), key) {
			return name, true
		}
	}
	return "", false
}

// Logger builds the slog logger described by the log section.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
