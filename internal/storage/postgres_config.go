package storage

import "time"

const defaultPostgresOpTimeout = 5 * time.Second

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string

	// OpTimeout bounds every statement issued outside an explicit caller
	// context. Defaults to 5s.
	OpTimeout time.Duration

	Clock func() time.Time
}

func (cfg *PostgresConfig) normalize() {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultPostgresOpTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
}
