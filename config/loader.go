package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/c360/natsrpc/errors"
)

// Environment variables applied to every namespace after the files.
const (
	EnvURL   = "NATSRPC_URL"
	EnvToken = "NATSRPC_TOKEN"
	EnvLazy  = "NATSRPC_LAZY"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}
	baseDir := ""

	for _, path := range l.layers {
		raw, err := loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
		baseDir = filepath.Dir(path)
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.dir = baseDir

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one layer into a generic map according to its extension.
func loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	switch format {
	case "json":
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		err = json.Unmarshal(data, &raw)
	case "yaml":
		err = yaml.Unmarshal(data, &raw)
	case "toml":
		_, err = toml.Decode(string(data), &raw)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// decode converts the merged map into a Config through JSON so that every
// format shares the same field names and duration parsing.
func decode(raw map[string]any) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	urls, err := envValue(EnvURL)
	if err != nil {
		return err
	}
	token, err := envValue(EnvToken)
	if err != nil {
		return err
	}
	lazyRaw, err := envValue(EnvLazy)
	if err != nil {
		return err
	}

	if urls == "" && token == "" && lazyRaw == "" {
		return nil
	}

	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = map[string]NamespaceConfig{DefaultNamespace: {}}
	}

	for name, ns := range cfg.Namespaces {
		if urls != "" {
			ns.Connection.URLs = strings.Split(urls, ",")
		}
		if token != "" {
			ns.Connection.Token = token
		}
		if lazyRaw != "" {
			lazy, err := strconv.ParseBool(lazyRaw)
			if err != nil {
				return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+EnvLazy)
			}
			ns.Lazy = lazy
		}
		cfg.Namespaces[name] = ns
	}
	return nil
}

func envValue(key string) (string, error) {
	val := os.Getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return "", errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
	}
	return val, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "natsrpc"
	}
	if len(c.Namespaces) == 0 {
		c.Namespaces = map[string]NamespaceConfig{DefaultNamespace: {}}
	}
	for name, ns := range c.Namespaces {
		ns.applyDefaults()
		c.Namespaces[name] = ns
	}
}

func (n *NamespaceConfig) applyDefaults() {
	conn := &n.Connection
	if len(conn.URLs) == 0 {
		conn.URLs = []string{"nats://localhost:4222"}
	}
	if conn.MaxReconnects == nil {
		infinite := -1
		conn.MaxReconnects = &infinite
	}
	setDefault(&conn.ReconnectWait, 2*time.Second)
	setDefault(&conn.Timeout, 5*time.Second)
	setDefault(&conn.PingInterval, 30*time.Second)
	setDefault(&conn.DrainTimeout, 30*time.Second)

	setDefault(&n.RequestDefaults.Timeout, 30*time.Second)
	setDefault(&n.RequestDefaults.MaxWait, -time.Millisecond)

	if n.ConnectRetry.MaxAttempts == 0 {
		n.ConnectRetry.MaxAttempts = 1
	}
	setDefault(&n.ConnectRetry.InitialDelay, 100*time.Millisecond)
	setDefault(&n.ConnectRetry.MaxDelay, 5*time.Second)
}

func setDefault(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
