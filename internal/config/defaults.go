package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedTimeout       = 15 * time.Second
	DefaultMaxRetries        = 3
	DefaultPingInterval      = 15 * time.Second
	DefaultReconnectMaxDelay = 60 * time.Second
	DefaultStreamBufferSize  = 256
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultFetchTimeout      = 20 * time.Second
	DefaultBatchSize         = 200
	DefaultFlushInterval     = 2 * time.Second
	DefaultBufferSize        = 2000
	DefaultDedupWindow       = 5 * time.Second
	DefaultServerPort        = 8090
)

func (c *SyncdConfig) applyDefaults() {
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = DefaultFeedTimeout
	}
	if c.Feed.MaxRetries == 0 {
		c.Feed.MaxRetries = DefaultMaxRetries
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.StreamBufferSize == 0 {
		c.Feed.StreamBufferSize = DefaultStreamBufferSize
	}

	applyDBDefaults(&c.Database.Postgres)

	if c.Scheduler.FetchTimeout == 0 {
		c.Scheduler.FetchTimeout = DefaultFetchTimeout
	}

	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultFlushInterval
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = DefaultBufferSize
	}
	if c.History.DedupWindow == 0 {
		c.History.DedupWindow = DefaultDedupWindow
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
