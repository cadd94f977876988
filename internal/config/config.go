package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Billing   BillingConfig   `yaml:"billing"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Recharge  RechargeConfig  `yaml:"recharge"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	TenantHeader string `yaml:"tenant_header"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	BalanceTTL time.Duration `yaml:"balance_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// BillingConfig names the payment provider. Without one the wallet system is
// off: the balance gate allows everything and nothing is debited.
type BillingConfig struct {
	Provider string `yaml:"provider"`
	Currency string `yaml:"currency"`
}

func (b BillingConfig) Enabled() bool { return strings.TrimSpace(b.Provider) != "" }

type WalletConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// WebhookConfig selects the idempotency cache backend: "memory" or "redis".
type WebhookConfig struct {
	Backend  string        `yaml:"backend"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

type RechargeConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	// "none" switches billing off for a deployment whose file names a provider
	if v, ok := os.LookupEnv("BILLING_PROVIDER"); ok {
		if v == "none" {
			v = ""
		}
		c.Billing.Provider = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.TenantHeader == "" {
		c.Server.TenantHeader = "X-Tenant-ID"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Redis.BalanceTTL == 0 {
		c.Redis.BalanceTTL = 30 * time.Second
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "BRL"
	}
	if c.Wallet.MaxRetries <= 0 {
		c.Wallet.MaxRetries = 5
	}
	if c.Webhook.Backend == "" {
		c.Webhook.Backend = "memory"
	}
	if c.Webhook.TTL == 0 {
		c.Webhook.TTL = 24 * time.Hour
	}
	if c.Webhook.Capacity <= 0 {
		c.Webhook.Capacity = 100000
	}
	if c.Recharge.QueueSize <= 0 {
		c.Recharge.QueueSize = 256
	}
	if c.Recharge.Cooldown == 0 {
		c.Recharge.Cooldown = 10 * time.Minute
	}
}
