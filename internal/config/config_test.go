package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: "host=db user=wallet"
billing:
  currency: USD
webhook:
  ttl: 1h
`)
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("BILLING_PROVIDER", "asaas")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "host=db user=wallet password=secret", cfg.Postgres.DSN)
	assert.True(t, cfg.Billing.Enabled())
	assert.Equal(t, "USD", cfg.Billing.Currency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Webhook.TTL)
	assert.Equal(t, "memory", cfg.Webhook.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "X-Tenant-ID", cfg.Server.TenantHeader)
	assert.Equal(t, 5, cfg.Wallet.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.Recharge.Cooldown)
}

func TestLoad_BillingFollowsProvider(t *testing.T) {
	path := writeConfig(t, "billing:\n  provider: asaas\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Billing.Enabled())

	t.Setenv("BILLING_PROVIDER", "none")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Billing.Enabled())
	assert.False(t, BillingConfig{}.Enabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BundledFile(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "wallet-events", cfg.Kafka.Topic)
	assert.Equal(t, 24*time.Hour, cfg.Webhook.TTL)
}
