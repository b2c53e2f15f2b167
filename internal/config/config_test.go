package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8085 {
		t.Errorf("Expected port 8085, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected storage type memory, got %s", cfg.Storage.Type)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level info, got %s", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid default",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "invalid port zero",
			cfg: &Config{
				Server:  ServerConfig{Port: 0},
				Storage: StorageConfig{Type: "memory"},
				Logging: LoggingConfig{Level: "info"},
			},
			wantErr: true,
		},
		{
			name: "invalid port too high",
			cfg: &Config{
				Server:  ServerConfig{Port: 70000},
				Storage: StorageConfig{Type: "memory"},
				Logging: LoggingConfig{Level: "info"},
			},
			wantErr: true,
		},
		{
			name: "invalid storage type",
			cfg: &Config{
				Server:  ServerConfig{Port: 8085},
				Storage: StorageConfig{Type: "invalid"},
				Logging: LoggingConfig{Level: "info"},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: &Config{
				Server:  ServerConfig{Port: 8085},
				Storage: StorageConfig{Type: "memory"},
				Logging: LoggingConfig{Level: "verbose"},
			},
			wantErr: true,
		},
		{
			name: "postgresql without database",
			cfg: &Config{
				Server:  ServerConfig{Port: 8085},
				Storage: StorageConfig{Type: "postgresql"},
				Logging: LoggingConfig{Level: "info"},
			},
			wantErr: true,
		},
		{
			name: "valid postgresql",
			cfg: &Config{
				Server:  ServerConfig{Port: 8085},
				Storage: StorageConfig{Type: "postgresql", PostgreSQL: PostgreSQLConfig{Database: "hiera"}},
				Logging: LoggingConfig{Level: "debug"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 9090,
		},
	}

	addr := cfg.Address()
	if addr != "localhost:9090" {
		t.Errorf("Expected localhost:9090, got %s", addr)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	os.Setenv("HIERA_REGISTRY_HOST", "127.0.0.1")
	os.Setenv("HIERA_REGISTRY_PORT", "9999")
	os.Setenv("HIERA_REGISTRY_STORAGE_TYPE", "postgresql")
	os.Setenv("HIERA_REGISTRY_PG_DATABASE", "hiera")
	os.Setenv("HIERA_REGISTRY_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("HIERA_REGISTRY_HOST")
		os.Unsetenv("HIERA_REGISTRY_PORT")
		os.Unsetenv("HIERA_REGISTRY_STORAGE_TYPE")
		os.Unsetenv("HIERA_REGISTRY_PG_DATABASE")
		os.Unsetenv("HIERA_REGISTRY_LOG_LEVEL")
	}()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Type != "postgresql" {
		t.Errorf("Expected storage type postgresql, got %s", cfg.Storage.Type)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestConfig_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: 10.1.2.3
  port: 8090
storage:
  type: postgresql
  postgresql:
    host: db.internal
    database: hiera
logging:
  level: warn
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "10.1.2.3" {
		t.Errorf("Expected host 10.1.2.3, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("Expected port 8090, got %d", cfg.Server.Port)
	}
	if cfg.Storage.PostgreSQL.Host != "db.internal" {
		t.Errorf("Expected pg host db.internal, got %s", cfg.Storage.PostgreSQL.Host)
	}
	// Unset file values keep their defaults
	if cfg.Storage.PostgreSQL.Port != 5432 {
		t.Errorf("Expected default pg port 5432, got %d", cfg.Storage.PostgreSQL.Port)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected format text, got %s", cfg.Logging.Format)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in).String(); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
