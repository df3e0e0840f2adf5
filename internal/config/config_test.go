package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/paysaga"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paysaga.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "payment-task-queue", cfg.Temporal.TaskQueue)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Empty(t, cfg.Kafka.Brokers)

	saga, err := cfg.SagaConfig()
	require.NoError(t, err)
	assert.True(t, saga.FeeRate.Equal(paysaga.DefaultFeeRate))
	assert.True(t, saga.AuthorizeBeforeCapture)
	assert.Equal(t, paysaga.ApprovalWait, saga.Approval.Mode)
	assert.True(t, saga.Approval.Threshold.Equal(decimal.NewFromInt(5000)))
	assert.True(t, cfg.AmountCeiling().Equal(decimal.NewFromInt(50000)))

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, paysaga.DefaultActivityCatalog(), catalog)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
saga:
  fee_rate: "0.015"
  approval:
    mode: timeout
    threshold: "2500"
    timeout: 2h
    default: rejected
    heartbeat: 10m
activities:
  CapturePayment:
    retry:
      max_attempts: 7
store:
  driver: sqlite
  path: /var/lib/paysaga/sagas.db
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	saga, err := cfg.SagaConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.015", saga.FeeRate.String())
	assert.Equal(t, paysaga.ApprovalTimeout, saga.Approval.Mode)
	assert.Equal(t, 2*time.Hour, saga.Approval.Timeout)
	assert.Equal(t, paysaga.DecisionRejected, saga.Approval.Default)
	assert.Equal(t, 10*time.Minute, saga.Approval.Heartbeat)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	capture := catalog.Options(paysaga.ActivityCapturePayment)
	assert.Equal(t, 7, capture.RetryPolicy.MaxAttempts)
	// Unset fields keep their defaults.
	assert.Equal(t, paysaga.AtMostOnce, capture.Idempotency)
	assert.Equal(t, 30*time.Second, capture.StartToCloseTimeout)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAYSAGA_TEMPORAL_HOST_PORT", "temporal.internal:7233")
	t.Setenv("PAYSAGA_SAGA_APPROVAL_THRESHOLD", "10000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "temporal.internal:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "10000", cfg.Saga.Approval.Threshold)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown approval mode", "saga:\n  approval:\n    mode: sometimes\n"},
		{"timeout without default", "saga:\n  approval:\n    mode: timeout\n    timeout: 1h\n"},
		{"wait with timeout", "saga:\n  approval:\n    timeout: 1h\n"},
		{"file store without path", "store:\n  driver: file\n"},
		{"bad fee rate", "saga:\n  fee_rate: lots\n"},
		{"unknown activity", "activities:\n  Teleport:\n    retry:\n      max_attempts: 1\n"},
		{"zero attempts", "activities:\n  CheckFraud:\n    retry:\n      max_attempts: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLogConfig_Logger(t *testing.T) {
	logger := LogConfig{Level: "warn", Format: "text"}.Logger(os.Stderr)
	assert.False(t, logger.Enabled(context.Background(), -4))
	assert.True(t, logger.Enabled(context.Background(), 8))
}
