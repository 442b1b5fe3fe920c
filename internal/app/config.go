package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Transports accepted by PushConfig.Transport.
const (
	TransportRedis = "redis"
	TransportKafka = "kafka"
)

// Config holds the terminal configuration, loadable from environment
// variables (KASIR_ prefix), flags, or YAML config files.
type Config struct {
	DatabaseURL string `usage:"PostgreSQL connection URL (KASIR_DATABASE_URL or DATABASE_URL)"`
	TerminalID  string `default:"kasir-01" usage:"Identifier of this checkout terminal"`
	Gateway     GatewayConfig
	Push        PushConfig
	Settlement  SettlementConfig
	Admin       AdminConfig
	Graceful    GracefulConfig
}

// GatewayConfig points at the checkout backend.
type GatewayConfig struct {
	URL     string        `usage:"Checkout backend base URL"`
	APIKey  string        `usage:"API key sent as X-API-Key"`
	Timeout time.Duration `default:"10s" usage:"Per-request timeout"`
}

// PushConfig selects the payment event transport.
type PushConfig struct {
	Transport    string   `default:"redis" usage:"Push transport: redis or kafka"`
	RedisAddr    string   `default:"localhost:6379" usage:"Redis address"`
	RedisPattern string   `default:"kasir:payments:*" usage:"Redis channel pattern"`
	KafkaBrokers []string `default:"localhost:9092" usage:"Kafka brokers"`
	KafkaTopic   string   `default:"kasir.payment.events" usage:"Kafka topic"`
}

// SettlementConfig controls QR payment tracking.
type SettlementConfig struct {
	Timeout      time.Duration `default:"300s" usage:"How long a QR payment is awaited"`
	PollInterval time.Duration `default:"3s" usage:"Status poll interval"`
}

// AdminConfig controls the health and inspection server.
type AdminConfig struct {
	Addr string `default:"127.0.0.1:9090" usage:"Admin server listen address; empty disables it"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ShutdownTimeout time.Duration `default:"5s" usage:"Maximum shutdown duration"`
}

// LoadConfig loads configuration from environment variables and YAML
// config files, then validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KASIR",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/kasir/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL variable.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KASIR_DATABASE_URL or DATABASE_URL")
	}
	if c.Gateway.URL == "" {
		return errors.New("gateway URL is required: set KASIR_GATEWAY_URL")
	}
	if strings.TrimSpace(c.TerminalID) == "" {
		return errors.New("terminal id must not be empty")
	}
	switch c.Push.Transport {
	case TransportRedis:
		if c.Push.RedisAddr == "" {
			return errors.New("redis address is required for the redis transport")
		}
	case TransportKafka:
		if len(c.Push.KafkaBrokers) == 0 {
			return errors.New("kafka brokers are required for the kafka transport")
		}
	default:
		return errors.Errorf("unknown push transport %q (want %s or %s)", c.Push.Transport, TransportRedis, TransportKafka)
	}
	if c.Settlement.Timeout <= 0 {
		return errors.New("settlement timeout must be positive")
	}
	if c.Settlement.PollInterval <= 0 {
		return errors.New("settlement poll interval must be positive")
	}
	return nil
}
