package config

import "time"

// SyncdConfig is the root configuration for a sync daemon instance.
type SyncdConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Feed      FeedConfig      `yaml:"feed"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds price backend settings.
type FeedConfig struct {
	BaseURL           string        `yaml:"base_url"` // REST endpoint
	WSURL             string        `yaml:"ws_url"`   // Stream endpoint
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	StreamBufferSize  int           `yaml:"stream_buffer_size"`
}

// DatabaseConfig holds the Postgres connection for subscriptions, settings,
// and price history.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SchedulerConfig holds sync engine settings.
type SchedulerConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Unattended   bool          `yaml:"unattended"` // Poll everything, ignore visibility
}

// HistoryConfig holds price history recorder settings.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}
