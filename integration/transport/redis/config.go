package redis

import "time"

// Config holds the Redis transport configuration.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`

	// KeyPrefix namespaces every stream and registry key so multiple
	// deployments can share one Redis.
	KeyPrefix string `env:"REDIS_BUS_KEY_PREFIX" envDefault:"bus"`

	// BlockInterval bounds each blocking stream read.
	BlockInterval time.Duration `env:"REDIS_BUS_BLOCK_INTERVAL" envDefault:"5s"`

	// ReclaimMinIdle is how long a pending delivery may sit with a dead
	// consumer before another consumer claims it.
	ReclaimMinIdle time.Duration `env:"REDIS_BUS_RECLAIM_MIN_IDLE" envDefault:"30s"`

	// ReadBatch caps envelopes fetched per stream read.
	ReadBatch int64 `env:"REDIS_BUS_READ_BATCH" envDefault:"16"`

	// MaxDeliveryAttempts bounds deliveries per envelope, the first one
	// included, before it moves to the dead-letter queue.
	MaxDeliveryAttempts int `env:"REDIS_BUS_MAX_DELIVERY_ATTEMPTS" envDefault:"5"`
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:       3,
		RetryInterval:       5 * time.Second,
		ConnectTimeout:      30 * time.Second,
		KeyPrefix:           "bus",
		BlockInterval:       5 * time.Second,
		ReclaimMinIdle:      30 * time.Second,
		ReadBatch:           16,
		MaxDeliveryAttempts: 5,
	}
}
