package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDefaultProxyConfig(t *testing.T) {
	cfg := NewDefaultProxyConfig()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("LogLevel = %s, want INFO", cfg.Global.LogLevel)
	}
	if cfg.ListenPort != 6191 {
		t.Errorf("ListenPort = %d, want 6191", cfg.ListenPort)
	}
	if cfg.ServerPort != 6190 {
		t.Errorf("ServerPort = %d, want 6190", cfg.ServerPort)
	}
	if cfg.CacheCapacityBytes <= 0 {
		t.Error("CacheCapacityBytes should be positive")
	}
	if !cfg.Network.CircuitBreaker.Enabled {
		t.Error("circuit breaker should be enabled by default")
	}
}

func TestNewDefaultServerConfig(t *testing.T) {
	cfg := NewDefaultServerConfig()

	if cfg.Port != 6190 {
		t.Errorf("Port = %d, want 6190", cfg.Port)
	}
	if cfg.RootDir == "" {
		t.Error("RootDir should not be empty")
	}
}

func TestProxyConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProxyConfig)
		wantErr string
	}{
		{"valid config", func(*ProxyConfig) {}, ""},
		{"invalid listen port", func(c *ProxyConfig) { c.ListenPort = 0 }, "invalid listen_port"},
		{"invalid server port", func(c *ProxyConfig) { c.ServerPort = 70000 }, "invalid server_port"},
		{"empty cache root", func(c *ProxyConfig) { c.CacheRoot = "" }, "cache_root"},
		{"zero capacity", func(c *ProxyConfig) { c.CacheCapacityBytes = 0 }, "cache_capacity_bytes"},
		{"same ports", func(c *ProxyConfig) { c.Global.HealthPort = c.Global.MetricsPort }, "cannot be the same"},
		{"bad log level", func(c *ProxyConfig) { c.Global.LogLevel = "VERBOSE" }, "invalid log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultProxyConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigValidate(t *testing.T) {
	cfg := NewDefaultServerConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	cfg.RootDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty root_dir")
	}
}

func TestProxyConfigLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "proxy.yaml")

	content := `
global:
  log_level: DEBUG
  metrics_port: 9090
  health_port: 9091
listen_port: 7000
server_host: cache-server.internal
server_port: 7001
cache_root: /tmp/afscache
cache_capacity_bytes: 1073741824
`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	cfg := NewDefaultProxyConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %s, want DEBUG", cfg.Global.LogLevel)
	}
	if cfg.ListenPort != 7000 {
		t.Errorf("ListenPort = %d, want 7000", cfg.ListenPort)
	}
	if cfg.ServerHost != "cache-server.internal" {
		t.Errorf("ServerHost = %s, want cache-server.internal", cfg.ServerHost)
	}
	if cfg.CacheCapacityBytes != 1073741824 {
		t.Errorf("CacheCapacityBytes = %d, want 1073741824", cfg.CacheCapacityBytes)
	}
}

func TestProxyConfigLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefaultProxyConfig()
	if err := cfg.LoadFromFile("/nonexistent/proxy.yaml"); err == nil {
		t.Error("expected error loading nonexistent file")
	}
}

func TestProxyConfigLoadFromEnv(t *testing.T) {
	t.Setenv("AFSCACHE_LOG_LEVEL", "ERROR")
	t.Setenv("AFSCACHE_SERVER_HOST", "10.0.0.5")
	t.Setenv("AFSCACHE_SERVER_PORT", "9999")
	t.Setenv("AFSCACHE_CACHE_CAPACITY_BYTES", "5368709120")

	cfg := NewDefaultProxyConfig()
	cfg.LoadFromEnv()

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("LogLevel = %s, want ERROR", cfg.Global.LogLevel)
	}
	if cfg.ServerHost != "10.0.0.5" {
		t.Errorf("ServerHost = %s, want 10.0.0.5", cfg.ServerHost)
	}
	if cfg.ServerPort != 9999 {
		t.Errorf("ServerPort = %d, want 9999", cfg.ServerPort)
	}
	if cfg.CacheCapacityBytes != 5368709120 {
		t.Errorf("CacheCapacityBytes = %d, want 5368709120", cfg.CacheCapacityBytes)
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "nested", "proxy.yaml")

	cfg := NewDefaultProxyConfig()
	cfg.Global.LogLevel = "DEBUG"

	if err := SaveToFile(cfg, configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	loaded := NewDefaultProxyConfig()
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Global.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %s, want DEBUG", loaded.Global.LogLevel)
	}
}
