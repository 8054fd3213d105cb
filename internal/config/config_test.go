package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.App.TokenTTL)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "match_created", cfg.Queue.Topic)
	assert.Equal(t, "match_created.error", cfg.Queue.ErrorTopic)
	assert.True(t, cfg.Exchange.MakerFee.Equal(decimal.RequireFromString("0.005")))
	assert.True(t, cfg.Exchange.TakerFee.Equal(decimal.RequireFromString("0.003")))
	assert.True(t, cfg.Exchange.StartingBTC.Equal(decimal.NewFromInt(100)))
	assert.True(t, cfg.Exchange.StartingUSD.Equal(decimal.NewFromInt(100000)))
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("QUEUE_DRIVER", "local")
	t.Setenv("QUEUE_BROKERS", "a:9092,b:9092")
	t.Setenv("EXCHANGE_TAKER_FEE", "0.001")
	t.Setenv("EXCHANGE_SWEEP_EVERY", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Queue.Driver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Queue.Brokers)
	assert.Equal(t, "0.001", cfg.Exchange.TakerFee.String())
	assert.Equal(t, 5*time.Second, cfg.Exchange.SweepEvery)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:   AppConfig{JWTSecret: "s"},
			Store: StoreConfig{Driver: "postgres"},
			Queue: QueueConfig{Driver: "kafka", Brokers: []string{"localhost:9092"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "Valid", mutate: func(c *Config) {}},
		{name: "UnknownStore", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: true},
		{name: "UnknownQueue", mutate: func(c *Config) { c.Queue.Driver = "rabbit" }, wantErr: true},
		{name: "KafkaWithoutBrokers", mutate: func(c *Config) { c.Queue.Brokers = nil }, wantErr: true},
		{name: "LocalWithoutBrokers", mutate: func(c *Config) { c.Queue.Driver, c.Queue.Brokers = "local", nil }},
		{name: "NegativeFee", mutate: func(c *Config) { c.Exchange.MakerFee = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "NegativeBalance", mutate: func(c *Config) { c.Exchange.StartingUSD = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "EmptySecret", mutate: func(c *Config) { c.App.JWTSecret = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
