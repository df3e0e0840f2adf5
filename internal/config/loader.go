package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/fortressi/paysaga"
	"github.com/fortressi/paysaga/temporal"
)

// EnvPrefix prefixes environment overrides, e.g. PAYSAGA_TEMPORAL_HOST_PORT.
const EnvPrefix = "PAYSAGA"

// Load reads the YAML file at path, if any, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without a file or environment.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	saga := paysaga.DefaultSagaConfig()
	v.SetDefault("saga.fee_rate", saga.FeeRate.String())
	v.SetDefault("saga.amount_ceiling", paysaga.DefaultAmountCeiling.String())
	v.SetDefault("saga.authorize_before_capture", saga.AuthorizeBeforeCapture)
	v.SetDefault("saga.approval.mode", string(saga.Approval.Mode))
	v.SetDefault("saga.approval.threshold", saga.Approval.Threshold.String())
	v.SetDefault("saga.approval.timeout", "0s")
	v.SetDefault("saga.approval.default", "")
	v.SetDefault("saga.approval.heartbeat", "0s")

	// Every activity key is given a default so partial overrides, in YAML or
	// the environment, merge onto the built-in options.
	for name, opts := range paysaga.DefaultActivityCatalog() {
		prefix := "activities." + strings.ToLower(string(name)) + "."
		v.SetDefault(prefix+"start_to_close_timeout", opts.StartToCloseTimeout)
		v.SetDefault(prefix+"idempotency", string(opts.Idempotency))
		v.SetDefault(prefix+"retry.max_attempts", opts.RetryPolicy.MaxAttempts)
		v.SetDefault(prefix+"retry.initial_interval", opts.RetryPolicy.InitialInterval)
		v.SetDefault(prefix+"retry.backoff_coefficient", opts.RetryPolicy.BackoffCoefficient)
		v.SetDefault(prefix+"retry.max_interval", opts.RetryPolicy.MaxInterval)
	}

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", temporal.DefaultTaskQueue)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")

	v.SetDefault("services.fx.base_url", "http://localhost:3001")
	v.SetDefault("services.fx.timeout", "10s")
	v.SetDefault("services.fx.rate_per_second", 20)
	v.SetDefault("services.fx.burst", 5)
	v.SetDefault("services.compliance.base_url", "http://localhost:3002")
	v.SetDefault("services.compliance.timeout", "30s")
	v.SetDefault("services.compliance.rate_per_second", 20)
	v.SetDefault("services.compliance.burst", 5)

	v.SetDefault("gateway.decline_above", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "paysaga:idem")
	v.SetDefault("redis.ttl", "168h")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "payments.notifications")

	v.SetDefault("ledger.dsn", "paysaga-ledger.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.addr", "")
}
