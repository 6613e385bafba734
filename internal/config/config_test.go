package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {

	os.Clearenv()
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	assert.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.True(t, cfg.Redis.Enabled)

	// Retry and poll defaults
	assert.Equal(t, 3, cfg.Resilience.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Resilience.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Resilience.MaxDelay)
	assert.Equal(t, 2*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.MaxDuration)
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-12345")

	cfg := &Config{Providers: []ProviderConfig{
		{ID: "a", APIKey: "ENV:TEST_API_KEY"},
		{ID: "b", APIKey: "sk-literal"},
		{ID: "c", APIKey: "ENV:MISSING_KEY"},
	}}

	// LoadConfig resolves through viper; exercise the helper directly.
	v := viper.New()
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = resolveEnvRef(v, cfg.Providers[i].APIKey)
	}

	assert.Equal(t, "sk-test-12345", cfg.Providers[0].APIKey)
	assert.Equal(t, "sk-literal", cfg.Providers[1].APIKey)
	assert.Equal(t, "", cfg.Providers[2].APIKey)
}
