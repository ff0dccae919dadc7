package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/natsrpc/errors"
)

// DefaultNamespace is the namespace used when a config declares none.
const DefaultNamespace = "nats"

// Config represents the complete application configuration
type Config struct {
	Log        LogConfig                  `json:"log"`
	Metrics    MetricsConfig              `json:"metrics"`
	Tracing    TracingConfig              `json:"tracing"`
	Namespaces map[string]NamespaceConfig `json:"namespaces"`

	// dir is the directory of the last loaded layer.
	dir string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json or text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// TracingConfig controls OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name"`
}

// NamespaceConfig configures one connection and the request/reply
// behaviour on top of it.
type NamespaceConfig struct {
	Connection      ConnectionConfig `json:"connection"`
	RequestDefaults RequestDefaults  `json:"request_defaults"`
	SubscribePrefix string           `json:"subscribe_prefix,omitempty"`
	// Lazy defers connecting until first use.
	Lazy         bool        `json:"lazy"`
	ConnectRetry RetryConfig `json:"connect_retry"`
}

// ConnectionConfig defines NATS connection settings
type ConnectionConfig struct {
	URLs          []string  `json:"urls,omitempty"`
	Name          string    `json:"name,omitempty"`
	Username      string    `json:"username,omitempty"`
	Password      string    `json:"password,omitempty"`
	Token         string    `json:"token,omitempty"`
	CredsFile     string    `json:"creds_file,omitempty"`
	MaxReconnects *int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration  `json:"reconnect_wait,omitempty"`
	Timeout       Duration  `json:"timeout,omitempty"`
	PingInterval  Duration  `json:"ping_interval,omitempty"`
	DrainTimeout  Duration  `json:"drain_timeout,omitempty"`
	TLS           TLSConfig `json:"tls,omitempty"`
}

// TLSConfig for secure NATS connections. Relative paths are resolved
// against the directory of the config file.
type TLSConfig struct {
	Enabled            bool     `json:"enabled"`
	CAFile             string   `json:"ca_file,omitempty"`
	CAFiles            []string `json:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty"`
	KeyFile            string   `json:"key_file,omitempty"`
	MinVersion         string   `json:"min_version,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"`
}

// RequestDefaults are inherited by every request in the namespace. A
// negative Timeout disables the inactivity deadline; a negative MaxWait
// means unbounded.
type RequestDefaults struct {
	Timeout Duration `json:"timeout,omitempty"`
	MaxWait Duration `json:"max_wait,omitempty"`
	Reply   string   `json:"reply,omitempty"`
}

// UnmarshalJSON treats an explicit falsy timeout (0, "0s", "" or false) as
// disabled. Only an absent or null timeout takes the default.
func (r *RequestDefaults) UnmarshalJSON(data []byte) error {
	type plain RequestDefaults
	var fields struct {
		plain
		Timeout json.RawMessage `json:"timeout"`
	}
	fields.plain = plain(*r)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = RequestDefaults(fields.plain)

	raw := bytes.TrimSpace(fields.Timeout)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if bytes.Equal(raw, []byte(`""`)) {
		r.Timeout = Disabled
		return nil
	}

	var d Duration
	if err := d.UnmarshalJSON(raw); err != nil {
		return err
	}
	if d == 0 {
		d = Disabled
	}
	r.Timeout = d
	return nil
}

// RetryConfig controls eager connection attempts.
type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts,omitempty"`
	InitialDelay Duration `json:"initial_delay,omitempty"`
	MaxDelay     Duration `json:"max_delay,omitempty"`
}

// Duration is a time.Duration that reads either a Go duration string
// ("500ms", "2s", "14d") or a number of milliseconds. false reads as -1,
// which disables a timeout.
type Duration time.Duration

// Disabled is the sentinel for a turned-off timeout.
const Disabled = Duration(-time.Millisecond)

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON writes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements custom JSON unmarshaling for Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case bytes.Equal(data, []byte("false")):
		*d = Disabled
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		ms, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid duration %s: %w", data, err)
		}
		*d = Duration(ms * float64(time.Millisecond))
		return nil
	}
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	clone.dir = c.dir
	return &clone
}

// Dir returns the directory relative file paths are resolved against.
func (c *Config) Dir() string { return c.dir }

// Namespace returns the named namespace config.
func (c *Config) Namespace(name string) (NamespaceConfig, error) {
	ns, ok := c.Namespaces[name]
	if !ok {
		return NamespaceConfig{}, errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Namespace", "find namespace "+name)
	}
	return ns, nil
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return invalid("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return invalid("metrics.port", fmt.Sprintf("port %d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path", "must start with /")
		}
	}

	if len(c.Namespaces) == 0 {
		return invalid("namespaces", "at least one namespace is required")
	}
	for name, ns := range c.Namespaces {
		if !isValidNATSSubjectPart(name) {
			return invalid("namespaces", fmt.Sprintf("namespace %q is not a valid name", name))
		}
		if err := ns.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "namespace "+name)
		}
	}
	return nil
}

// Validate checks one namespace.
func (n *NamespaceConfig) Validate() error {
	if len(n.Connection.URLs) == 0 {
		return invalid("connection.urls", "at least one URL is required")
	}
	for _, raw := range n.Connection.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return invalid("connection.urls", fmt.Sprintf("invalid URL %q", raw))
		}
		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return invalid("connection.urls", fmt.Sprintf("unsupported scheme in %q", raw))
		}
	}

	for field, d := range map[string]Duration{
		"connection.reconnect_wait":   n.Connection.ReconnectWait,
		"connection.timeout":          n.Connection.Timeout,
		"connection.ping_interval":    n.Connection.PingInterval,
		"connection.drain_timeout":    n.Connection.DrainTimeout,
		"connect_retry.initial_delay": n.ConnectRetry.InitialDelay,
		"connect_retry.max_delay":     n.ConnectRetry.MaxDelay,
	} {
		if d < 0 {
			return invalid(field, "must not be negative")
		}
	}
	if n.ConnectRetry.MaxAttempts < 0 {
		return invalid("connect_retry.max_attempts", "must not be negative")
	}

	tls := n.Connection.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return invalid("connection.tls", "cert_file and key_file must be set together")
	}
	switch tls.MinVersion {
	case "", "1.2", "1.3":
	default:
		return invalid("connection.tls.min_version", fmt.Sprintf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", tls.MinVersion))
	}

	if strings.ContainsAny(n.SubscribePrefix, " \t\r\n*>") {
		return invalid("subscribe_prefix", fmt.Sprintf("%q is not a valid subject prefix", n.SubscribePrefix))
	}
	if strings.ContainsAny(n.RequestDefaults.Reply, " \t\r\n*>") {
		return invalid("request_defaults.reply", fmt.Sprintf("%q is not a valid reply subject", n.RequestDefaults.Reply))
	}
	return nil
}

func invalid(field, reason string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", field+": "+reason)
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	for name, ns := range masked.Namespaces {
		if ns.Connection.Password != "" {
			ns.Connection.Password = "***"
		}
		if ns.Connection.Token != "" {
			ns.Connection.Token = "***"
		}
		masked.Namespaces[name] = ns
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
