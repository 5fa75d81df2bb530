package bus

import "time"

// Config holds the bus configuration. The entity settings are handed to
// the transport as creation descriptors; the in-memory and Redis
// transports of this module ignore those descriptors and bound
// deliveries with their own MaxDeliveryAttempts option.
type Config struct {
	ApplicationName string `env:"BUS_APPLICATION_NAME" envDefault:"app"`
	InstanceName    string `env:"BUS_INSTANCE_NAME"`
	PathPrefix      string `env:"BUS_PATH_PREFIX" envDefault:"bus"`

	MaxDeliveryAttempts                    int           `env:"BUS_MAX_DELIVERY_ATTEMPTS" envDefault:"5"`
	DefaultTimeout                         time.Duration `env:"BUS_DEFAULT_TIMEOUT" envDefault:"10s"`
	DefaultResponseTimeout                 time.Duration `env:"BUS_DEFAULT_RESPONSE_TIMEOUT" envDefault:"10s"`
	DefaultMessageTimeToLive               time.Duration `env:"BUS_MESSAGE_TTL" envDefault:"10m"`
	DefaultMessageLockDuration             time.Duration `env:"BUS_MESSAGE_LOCK_DURATION" envDefault:"30s"`
	AutoDeleteOnIdle                       time.Duration `env:"BUS_AUTO_DELETE_ON_IDLE" envDefault:"0"`
	EnableDeadLetteringOnMessageExpiration bool          `env:"BUS_DEAD_LETTER_ON_EXPIRATION" envDefault:"false"`

	ShutdownTimeout time.Duration `env:"BUS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() Config {
	return Config{
		ApplicationName:            "app",
		PathPrefix:                 "bus",
		MaxDeliveryAttempts:        5,
		DefaultTimeout:             10 * time.Second,
		DefaultResponseTimeout:     10 * time.Second,
		DefaultMessageTimeToLive:   10 * time.Minute,
		DefaultMessageLockDuration: 30 * time.Second,
		ShutdownTimeout:            30 * time.Second,
	}
}
