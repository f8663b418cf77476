// Package config loads the proxy and server daemon configurations: YAML
// file defaults, overridden by AFSCACHE_* environment variables, in turn
// overridable by command-line flags at the call site. Grounded on the
// teacher's layered Configuration/LoadFromFile/LoadFromEnv design.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// GlobalConfig holds settings shared by both daemons.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

func defaultGlobal() GlobalConfig {
	return GlobalConfig{LogLevel: "INFO", MetricsPort: 9100, HealthPort: 9101}
}

// TimeoutConfig bounds the proxy's wait on a single RPC round trip.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Call    time.Duration `yaml:"call"`
}

// RetryConfig governs the proxy's dial-only retry, see pkg/retry.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig governs the proxy's breaker around server RPCs.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// NetworkConfig groups the proxy's connection-resilience settings. They are
// loaded and defaulted here, but afsproxy does not pass them on:
// internal/rpc.Client uses the built-in defaults of pkg/retry and
// internal/circuit and has no per-call timeout.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

func defaultNetwork() NetworkConfig {
	return NetworkConfig{
		Timeouts: TimeoutConfig{Connect: 5 * time.Second, Call: 30 * time.Second},
		Retry:    RetryConfig{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		},
	}
}

// ServerConfig configures the server daemon: the process that owns the
// authoritative file tree and its version history.
type ServerConfig struct {
	Global  GlobalConfig `yaml:"global"`
	Host    string       `yaml:"host"`
	Port    int          `yaml:"port"`
	RootDir string       `yaml:"root_dir"`
}

// NewDefaultServerConfig returns server defaults.
func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Global:  defaultGlobal(),
		Host:    "0.0.0.0",
		Port:    6190,
		RootDir: "/var/lib/afscache/server",
	}
}

// LoadFromFile merges YAML file contents onto the receiver.
func (c *ServerConfig) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse server config: %w", err)
	}
	return nil
}

// LoadFromEnv applies AFSCACHE_SERVER_* overrides.
func (c *ServerConfig) LoadFromEnv() {
	if v := os.Getenv("AFSCACHE_LOG_LEVEL"); v != "" {
		c.Global.LogLevel = v
	}
	if v := os.Getenv("AFSCACHE_METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Global.MetricsPort = p
		}
	}
	if v := os.Getenv("AFSCACHE_SERVER_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("AFSCACHE_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("AFSCACHE_SERVER_ROOT"); v != "" {
		c.RootDir = v
	}
}

// Validate rejects configurations the server cannot start with.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RootDir == "" {
		return fmt.Errorf("root_dir must not be empty")
	}
	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}
	return validateLogLevel(c.Global.LogLevel)
}

// ProxyConfig configures the proxy daemon: the process that holds the
// multi-version cache and talks to exactly one server.
type ProxyConfig struct {
	Global             GlobalConfig  `yaml:"global"`
	ListenPort         int           `yaml:"listen_port"`
	ServerHost         string        `yaml:"server_host"`
	ServerPort         int           `yaml:"server_port"`
	CacheRoot          string        `yaml:"cache_root"`
	CacheCapacityBytes int64         `yaml:"cache_capacity_bytes"`
	ChunkSizeBytes     int           `yaml:"chunk_size_bytes"`
	Network            NetworkConfig `yaml:"network"`
}

// NewDefaultProxyConfig returns proxy defaults.
func NewDefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		Global:             defaultGlobal(),
		ListenPort:         6191,
		ServerHost:         "127.0.0.1",
		ServerPort:         6190,
		CacheRoot:          "/var/lib/afscache/proxy",
		CacheCapacityBytes: 2 << 30, // 2 GiB
		ChunkSizeBytes:     200 * 1024,
		Network:            defaultNetwork(),
	}
}

func (c *ProxyConfig) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read proxy config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse proxy config: %w", err)
	}
	return nil
}

func (c *ProxyConfig) LoadFromEnv() {
	if v := os.Getenv("AFSCACHE_LOG_LEVEL"); v != "" {
		c.Global.LogLevel = v
	}
	if v := os.Getenv("AFSCACHE_METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Global.MetricsPort = p
		}
	}
	if v := os.Getenv("AFSCACHE_SERVER_HOST"); v != "" {
		c.ServerHost = v
	}
	if v := os.Getenv("AFSCACHE_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.ServerPort = p
		}
	}
	if v := os.Getenv("AFSCACHE_CACHE_ROOT"); v != "" {
		c.CacheRoot = v
	}
	if v := os.Getenv("AFSCACHE_CACHE_CAPACITY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CacheCapacityBytes = n
		}
	}
}

func (c *ProxyConfig) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen_port: %d", c.ListenPort)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("cache_root must not be empty")
	}
	if c.CacheCapacityBytes <= 0 {
		return fmt.Errorf("cache_capacity_bytes must be greater than 0")
	}
	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be greater than 0")
	}
	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}
	return validateLogLevel(c.Global.LogLevel)
}

// SaveToFile persists cfg as YAML, creating parent directories as needed.
// Used by both ServerConfig and ProxyConfig via generic marshaling.
func SaveToFile(cfg interface{}, filename string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func validateLogLevel(level string) error {
	valid := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	for _, v := range valid {
		if level == v {
			return nil
		}
	}
	return fmt.Errorf("invalid log_level: %s (must be one of: %s)", level, strings.Join(valid, ", "))
}
