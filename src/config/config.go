package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config carries every tunable of the storage core. It is threaded through
// the components explicitly; nothing reads process-wide mutable state.
type Config struct {
	Environment string `envconfig:"HEAPDB_ENV" default:"dev"`

	// PageSize is the fixed page size in bytes for both I/O and locking.
	PageSize int `envconfig:"HEAPDB_PAGE_SIZE" default:"4096"`

	// PoolSize bounds the number of resident pages in the buffer pool.
	PoolSize int `envconfig:"HEAPDB_POOL_SIZE" default:"50"`

	// DeadlockTimeout bounds how long a lock acquisition may block before
	// the requesting transaction is aborted.
	DeadlockTimeout time.Duration `envconfig:"HEAPDB_DEADLOCK_TIMEOUT" default:"2s"`

	// Steal lets eviction flush uncommitted dirty pages through the WAL
	// hook instead of failing. Abort-by-reload is only valid with Steal
	// off, so it defaults to off; turning it on does not check that a
	// recovery log is attached.
	Steal bool `envconfig:"HEAPDB_STEAL" default:"false"`
}

func Default() Config {
	return Config{
		Environment:     EnvDev,
		PageSize:        4096,
		PoolSize:        50,
		DeadlockTimeout: 2 * time.Second,
		Steal:           false,
	}
}

// Load reads .env (when present) and the HEAPDB_* environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", c.PoolSize)
	}
	if c.DeadlockTimeout <= 0 {
		return fmt.Errorf("deadlock timeout must be positive, got %v", c.DeadlockTimeout)
	}

	return nil
}
