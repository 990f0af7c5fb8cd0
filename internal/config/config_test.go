package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-syncd
feed:
  base_url: https://prices.example.com
  ws_url: wss://prices.example.com
database:
  postgres:
    host: localhost
    port: 5432
    name: test_db
    user: testuser
    password: testpass
server:
  port: 8090
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-syncd" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-syncd")
	}
	if cfg.Feed.BaseURL != "https://prices.example.com" {
		t.Errorf("Feed.BaseURL = %q, want %q", cfg.Feed.BaseURL, "https://prices.example.com")
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_FEED_KEY", "key-abc")

	yaml := `
instance:
  id: test-syncd
feed:
  base_url: https://prices.example.com
  api_key: ${TEST_FEED_KEY}
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
	if cfg.Feed.APIKey != "key-abc" {
		t.Errorf("Feed.APIKey = %q, want %q", cfg.Feed.APIKey, "key-abc")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-syncd
feed:
  base_url: https://prices.example.com
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Feed.Timeout != DefaultFeedTimeout {
		t.Errorf("Feed.Timeout = %v, want default %v", cfg.Feed.Timeout, DefaultFeedTimeout)
	}
	if cfg.Feed.StreamBufferSize != DefaultStreamBufferSize {
		t.Errorf("Feed.StreamBufferSize = %d, want default %d", cfg.Feed.StreamBufferSize, DefaultStreamBufferSize)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Database.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Postgres.MaxConns = %d, want default %d", cfg.Database.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.History.DedupWindow != DefaultDedupWindow {
		t.Errorf("History.DedupWindow = %v, want default %v", cfg.History.DedupWindow, DefaultDedupWindow)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SyncdConfig
		wantErr string
	}{
		{
			name:    "missing instance id",
			cfg:     SyncdConfig{},
			wantErr: "instance.id is required",
		},
		{
			name: "missing feed base url",
			cfg: SyncdConfig{
				Instance: InstanceConfig{ID: "test"},
			},
			wantErr: "feed.base_url is required",
		},
		{
			name: "bad ws url scheme",
			cfg: SyncdConfig{
				Instance: InstanceConfig{ID: "test"},
				Feed:     FeedConfig{BaseURL: "https://prices.example.com", WSURL: "https://prices.example.com"},
			},
			wantErr: `feed.ws_url must be a ws:// or wss:// URL, got "https://prices.example.com"`,
		},
		{
			name: "missing postgres password",
			cfg: SyncdConfig{
				Instance: InstanceConfig{ID: "test"},
				Feed:     FeedConfig{BaseURL: "https://prices.example.com"},
				Database: DatabaseConfig{
					Postgres: DBConfig{Host: "localhost", Name: "db", User: "user"},
				},
			},
			wantErr: "database.postgres.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			cfg: SyncdConfig{
				Instance: InstanceConfig{ID: "test"},
				Feed:     FeedConfig{BaseURL: "https://prices.example.com"},
				Database: DatabaseConfig{
					Postgres: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10},
				},
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "valid config",
			cfg: SyncdConfig{
				Instance: InstanceConfig{ID: "test"},
				Feed:     FeedConfig{BaseURL: "https://prices.example.com", WSURL: "wss://prices.example.com"},
				Database: DatabaseConfig{
					Postgres: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2},
				},
				History: HistoryConfig{Enabled: true, BatchSize: 200, BufferSize: 2000},
				Server:  ServerConfig{Port: 8090},
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
