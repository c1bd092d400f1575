package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	cfg, err := readConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.listenAddr)
	assert.Equal(t, backendMemory, cfg.storeBackend)
	assert.Equal(t, 10*time.Minute, cfg.policy.Window)
	assert.Equal(t, 5, cfg.policy.MaxPerIP)
	assert.Equal(t, 2, cfg.policy.MaxPerCard)
	assert.Equal(t, 3, cfg.policy.MaxCardsPerEmail)
	assert.Equal(t, 15*time.Second, cfg.processorTimeout)
	assert.Equal(t, 100, cfg.registrarSize)
	assert.Equal(t, 50, cfg.upstreamSlots)
	assert.InDelta(t, 2.0, cfg.throttleRPS, 0.0001)
	assert.Equal(t, 10, cfg.throttleBurst)
}

func TestReadConfig_Overrides(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("GATE_WINDOW", "30m")
	t.Setenv("GATE_MAX_PER_CARD", "4")
	t.Setenv("GATE_MAX_PER_IP", "not-a-number")

	cfg, err := readConfig()
	require.NoError(t, err)

	assert.Equal(t, backendRedis, cfg.storeBackend)
	assert.Equal(t, 30*time.Minute, cfg.policy.Window)
	assert.Equal(t, 4, cfg.policy.MaxPerCard)
	assert.Equal(t, 5, cfg.policy.MaxPerIP)
}

func TestReadConfig_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing stripe key":  {},
		"postgres without db": {"STRIPE_SECRET_KEY": "sk", "STORE_BACKEND": "postgres"},
		"redis without addr":  {"STRIPE_SECRET_KEY": "sk", "STORE_BACKEND": "redis"},
		"unknown backend":     {"STRIPE_SECRET_KEY": "sk", "STORE_BACKEND": "mongo"},
		"zero ceiling":        {"STRIPE_SECRET_KEY": "sk", "GATE_MAX_PER_EMAIL": "0"},
		"bad throttle":        {"STRIPE_SECRET_KEY": "sk", "THROTTLE_BURST": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("STRIPE_SECRET_KEY", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := readConfig()
			assert.Error(t, err)
		})
	}
}
