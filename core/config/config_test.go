package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/messagebus/core/config"
)

type serverSettings struct {
	Name    string        `env:"CONFIG_TEST_NAME" envDefault:"bus"`
	Timeout time.Duration `env:"CONFIG_TEST_TIMEOUT" envDefault:"5s"`
}

type cachedSettings struct {
	Value string `env:"CONFIG_TEST_CACHED" envDefault:"initial"`
}

type requiredSettings struct {
	Secret string `env:"CONFIG_TEST_REQUIRED_SECRET,required"`
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults and environment overrides", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_NAME", "orders")

		var cfg serverSettings
		require.NoError(t, config.Load(&cfg))

		assert.Equal(t, "orders", cfg.Name)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("caches per type", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_CACHED", "first")

		var first cachedSettings
		require.NoError(t, config.Load(&first))
		assert.Equal(t, "first", first.Value)

		t.Setenv("CONFIG_TEST_CACHED", "second")

		var second cachedSettings
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "first", second.Value, "later loads return the cached value")
	})

	t.Run("missing required variable fails", func(t *testing.T) {
		var cfg requiredSettings
		assert.Error(t, config.Load(&cfg))
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredSettings
			config.MustLoad(&cfg)
		})
	})
}
