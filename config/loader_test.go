package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natsrpc/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Formats(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"natsrpc.json": `{
			"namespaces": {
				"jobs": {
					"connection": {"urls": ["nats://nats-1:4222"]},
					"request_defaults": {"timeout": "5s", "max_wait": 600000}
				}
			}
		}`,
		"natsrpc.yaml": `
namespaces:
  jobs:
    connection:
      urls: ["nats://nats-1:4222"]
    request_defaults:
      timeout: 5s
      max_wait: 600000
`,
		"natsrpc.toml": `
[namespaces.jobs.connection]
urls = ["nats://nats-1:4222"]

[namespaces.jobs.request_defaults]
timeout = "5s"
max_wait = 600000
`,
	}

	for name, content := range files {
		t.Run(filepath.Ext(name), func(t *testing.T) {
			path := writeFile(t, dir, name, content)

			cfg, err := NewLoader().LoadFile(path)
			require.NoError(t, err)

			ns, err := cfg.Namespace("jobs")
			require.NoError(t, err)
			assert.Equal(t, []string{"nats://nats-1:4222"}, ns.Connection.URLs)
			assert.Equal(t, 5*time.Second, ns.RequestDefaults.Timeout.Std())
			assert.Equal(t, 10*time.Minute, ns.RequestDefaults.MaxWait.Std())
			assert.Equal(t, 2*time.Second, ns.Connection.ReconnectWait.Std())
			assert.Equal(t, dir, cfg.Dir())
		})
	}
}

func TestLoader_Layers(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.json", `{
		"log": {"level": "debug"},
		"namespaces": {
			"jobs": {
				"connection": {"urls": ["nats://base:4222"], "name": "worker"},
				"request_defaults": {"timeout": "5s"}
			}
		}
	}`)
	override := writeFile(t, dir, "prod.yaml", `
namespaces:
  jobs:
    connection:
      urls: ["nats://prod:4222"]
    request_defaults:
      timeout: false
    lazy: true
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	ns := cfg.Namespaces["jobs"]
	assert.Equal(t, []string{"nats://prod:4222"}, ns.Connection.URLs)
	assert.Equal(t, "worker", ns.Connection.Name)
	assert.Equal(t, -time.Millisecond, ns.RequestDefaults.Timeout.Std())
	assert.True(t, ns.Lazy)
}

func TestLoader_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "natsrpc.json", `{"namespaces": {"a": {}, "b": {}}}`)

	t.Setenv(EnvURL, "nats://x:4222,nats://y:4222")
	t.Setenv(EnvToken, "tok")
	t.Setenv(EnvLazy, "true")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		ns := cfg.Namespaces[name]
		assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, ns.Connection.URLs)
		assert.Equal(t, "tok", ns.Connection.Token)
		assert.True(t, ns.Lazy)
	}
}

func TestLoader_EnvOverridesWithoutFiles(t *testing.T) {
	t.Setenv(EnvURL, "nats://env:4222")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://env:4222"}, cfg.Namespaces[DefaultNamespace].Connection.URLs)
}

func TestLoader_BadLazy(t *testing.T) {
	t.Setenv(EnvLazy, "sometimes")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "got %v", err)
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path func() string
	}{
		{"missing file", func() string { return filepath.Join(dir, "absent.json") }},
		{"unsupported format", func() string { return writeFile(t, dir, "natsrpc.ini", "[x]") }},
		{"traversal", func() string { return "../natsrpc.json" }},
		{"directory", func() string {
			sub := filepath.Join(dir, "dir.json")
			require.NoError(t, os.Mkdir(sub, 0o700))
			return sub
		}},
		{"bad json", func() string { return writeFile(t, dir, "bad.json", `{"namespaces":`) }},
		{"too deep", func() string {
			return writeFile(t, dir, "deep.json", strings.Repeat("[", maxJSONDepth+1)+strings.Repeat("]", maxJSONDepth+1))
		}},
		{"bad yaml", func() string { return writeFile(t, dir, "bad.yaml", "namespaces: [") }},
		{"bad toml", func() string { return writeFile(t, dir, "bad.toml", "namespaces = ") }},
		{"bad duration", func() string {
			return writeFile(t, dir, "dur.json", `{"namespaces":{"a":{"request_defaults":{"timeout":"soon"}}}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(tt.path())
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestLoader_ValidationToggle(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "natsrpc.json", `{"log": {"level": "loud"}}`)

	_, err := NewLoader().LoadFile(path)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got %v", err)

	loader := NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.Log.Level)
}

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": "keep",
	}
	override := map[string]any{
		"a": map[string]any{"y": 3},
		"b": nil,
		"c": []any{"new"},
	}

	got := deepMergeMaps(base, override)
	assert.Equal(t, map[string]any{
		"a": map[string]any{"x": 1, "y": 3},
		"b": "keep",
		"c": []any{"new"},
	}, got)
	assert.Equal(t, 2, base["a"].(map[string]any)["y"])
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a":"[[[[","b":[1,2]}`)))
	assert.NoError(t, validateJSONDepth([]byte(`{"a":"\"{"}`)))
	assert.Error(t, validateJSONDepth([]byte(`}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a":[`)))
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("K", ""))
	assert.NoError(t, validateEnvVar("K", "nats://x:4222"))
	assert.Error(t, validateEnvVar("K", "a\x00b"))
	assert.Error(t, validateEnvVar("K", strings.Repeat("x", maxEnvVarLen+1)))
}

func TestNamespaceConfig_ConnOptions(t *testing.T) {
	reconnects := 3
	ns := NamespaceConfig{
		Connection: ConnectionConfig{
			URLs:          []string{"nats://a:4222"},
			Name:          "svc",
			Token:         "tok",
			CredsFile:     "user.creds",
			MaxReconnects: &reconnects,
			ReconnectWait: Duration(time.Second),
		},
	}

	opts, err := ns.ConnOptions("jobs", "/etc/natsrpc")
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://a:4222"}, opts.URLs)
	assert.Equal(t, "svc", opts.Name)
	assert.Equal(t, "tok", opts.Token)
	assert.Equal(t, filepath.Join("/etc/natsrpc", "user.creds"), opts.CredsFile)
	assert.Equal(t, 3, opts.MaxReconnects)
	assert.Equal(t, time.Second, opts.ReconnectWait)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Nil(t, opts.TLS)
}

func TestNamespaceConfig_ConnOptionsDefaultName(t *testing.T) {
	opts, err := NamespaceConfig{}.ConnOptions("jobs", "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(opts.Name, "-jobs"), "got %q", opts.Name)
}

func TestNamespaceConfig_ConnOptionsTLS(t *testing.T) {
	dir := t.TempDir()
	writeCA(t, filepath.Join(dir, "ca.pem"))

	ns := NamespaceConfig{Connection: ConnectionConfig{TLS: TLSConfig{
		Enabled:    true,
		CAFile:     "ca.pem",
		MinVersion: "1.3",
	}}}

	opts, err := ns.ConnOptions("jobs", dir)
	require.NoError(t, err)
	require.NotNil(t, opts.TLS)
	assert.NotNil(t, opts.TLS.RootCAs)

	ns.Connection.TLS.CAFile = "missing.pem"
	_, err = ns.ConnOptions("jobs", dir)
	assert.True(t, errors.IsInvalid(err), "got %v", err)
}

func TestNamespaceConfig_ServiceOptions(t *testing.T) {
	ns := NamespaceConfig{
		RequestDefaults: RequestDefaults{Timeout: Duration(time.Second), MaxWait: Duration(-time.Millisecond), Reply: "r"},
		SubscribePrefix: "svc.",
		ConnectRetry:    RetryConfig{MaxAttempts: 4, InitialDelay: Duration(10 * time.Millisecond)},
	}

	req := ns.RequestOptions()
	assert.Equal(t, time.Second, req.Timeout)
	assert.Equal(t, -time.Millisecond, req.MaxWait)
	assert.Equal(t, "r", req.Reply)

	assert.Len(t, ns.ServiceOptions(), 2)
	assert.Len(t, ns.ClientOptions("jobs"), 3)

	retry := ns.RetryConfig()
	assert.Equal(t, 4, retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, retry.InitialDelay)
	assert.Equal(t, 5*time.Second, retry.MaxDelay)
}

func writeCA(t *testing.T, path string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "natsrpc test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
}

func TestLoader_FalsyRequestTimeoutDisables(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    time.Duration
	}{
		{"json zero", "a.json", `{"namespaces":{"nats":{"request_defaults":{"timeout":0}}}}`, Disabled.Std()},
		{"json zero string", "a.json", `{"namespaces":{"nats":{"request_defaults":{"timeout":"0s"}}}}`, Disabled.Std()},
		{"json empty string", "a.json", `{"namespaces":{"nats":{"request_defaults":{"timeout":""}}}}`, Disabled.Std()},
		{"json false", "a.json", `{"namespaces":{"nats":{"request_defaults":{"timeout":false}}}}`, Disabled.Std()},
		{"json null", "a.json", `{"namespaces":{"nats":{"request_defaults":{"timeout":null}}}}`, 30 * time.Second},
		{"json absent", "a.json", `{"namespaces":{"nats":{"request_defaults":{"reply":"r"}}}}`, 30 * time.Second},
		{"yaml zero", "a.yaml", "namespaces:\n  nats:\n    request_defaults:\n      timeout: 0\n", Disabled.Std()},
		{"toml zero", "a.toml", "[namespaces.nats.request_defaults]\ntimeout = 0\n", Disabled.Std()},
		{"explicit value", "a.json", `{"namespaces":{"nats":{"request_defaults":{"timeout":250}}}}`, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)
			cfg, err := NewLoader().LoadFile(path)
			require.NoError(t, err)

			ns, err := cfg.Namespace(DefaultNamespace)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ns.RequestDefaults.Timeout.Std())
			assert.Equal(t, tt.want < 0, ns.RequestOptions().Timeout < 0)
		})
	}
}
