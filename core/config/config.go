// Package config provides type-safe environment variable loading with
// per-type caching. A .env file is loaded once on first use; struct
// fields are parsed with the caarlos0/env tag conventions.
//
// Usage:
//
//	var cfg bus.Config
//	config.MustLoad(&cfg)
package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	cache      sync.Map // reflect.Type → cached config value
)

// Load populates cfg from the environment. Each configuration type is
// loaded once per process; later calls return the cached value.
func Load[T any](cfg *T) error {
	dotenvOnce.Do(func() {
		// Missing .env files are fine; explicit env vars still apply.
		_ = godotenv.Load()
	})

	t := reflect.TypeOf(*cfg)
	if cached, ok := cache.Load(t); ok {
		*cfg = cached.(T)
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", t, err)
	}

	cached, _ := cache.LoadOrStore(t, *cfg)
	*cfg = cached.(T)
	return nil
}

// MustLoad is Load that panics on failure. Useful at startup where a
// missing required variable should stop the process.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
