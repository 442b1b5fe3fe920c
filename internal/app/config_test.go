package app

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "KASIR_DATABASE_URL", "KASIR_GATEWAY_URL",
		"KASIR_PUSH_TRANSPORT", "KASIR_TERMINAL_ID", "KASIR_SETTLEMENT_TIMEOUT",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Chdir(t.TempDir())
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("KASIR_DATABASE_URL", "postgres://localhost/kasir")
	t.Setenv("KASIR_GATEWAY_URL", "http://backend")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "kasir-01", cfg.TerminalID)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, TransportRedis, cfg.Push.Transport)
	assert.Equal(t, "kasir:payments:*", cfg.Push.RedisPattern)
	assert.Equal(t, 300*time.Second, cfg.Settlement.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Settlement.PollInterval)
	assert.Equal(t, "127.0.0.1:9090", cfg.Admin.Addr)
	assert.Equal(t, 5*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestLoadConfig_PlatformDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://platform/kasir")
	t.Setenv("KASIR_GATEWAY_URL", "http://backend")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/kasir", cfg.DatabaseURL)
}

func TestLoadConfig_MissingDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("KASIR_GATEWAY_URL", "http://backend")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "database URL is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://x",
			TerminalID:  "t1",
			Gateway:     GatewayConfig{URL: "http://backend"},
			Push:        PushConfig{Transport: TransportKafka, KafkaBrokers: []string{"k:9092"}},
			Settlement:  SettlementConfig{Timeout: time.Minute, PollInterval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no gateway", mutate: func(c *Config) { c.Gateway.URL = "" }, wantErr: "gateway URL"},
		{name: "blank terminal", mutate: func(c *Config) { c.TerminalID = " " }, wantErr: "terminal id"},
		{name: "unknown transport", mutate: func(c *Config) { c.Push.Transport = "mqtt" }, wantErr: "unknown push transport"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Push.KafkaBrokers = nil }, wantErr: "kafka brokers"},
		{name: "redis without addr", mutate: func(c *Config) { c.Push.Transport = TransportRedis }, wantErr: "redis address"},
		{name: "zero timeout", mutate: func(c *Config) { c.Settlement.Timeout = 0 }, wantErr: "timeout"},
		{name: "zero poll", mutate: func(c *Config) { c.Settlement.PollInterval = 0 }, wantErr: "poll interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
