package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // redis://:password@host:6379/0
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`

	// DedupePrefix namespaces webhook delivery claims.
	DedupePrefix   string        `env:"REDIS_DEDUPE_PREFIX" envDefault:"tiersync:webhook:"`
	DedupeTTL      time.Duration `env:"REDIS_DEDUPE_TTL" envDefault:"72h"`
	DedupeClaimTTL time.Duration `env:"REDIS_DEDUPE_CLAIM_TTL" envDefault:"5m"` // in-flight deliveries
}
