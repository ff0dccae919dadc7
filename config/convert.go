package config

import (
	"os"
	"path/filepath"

	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/natsclient"
	"github.com/c360/natsrpc/pkg/retry"
	"github.com/c360/natsrpc/pkg/tlsutil"
	"github.com/c360/natsrpc/rpc"
)

// ConnOptions builds the dial settings for namespace name. Relative TLS and
// credentials paths are resolved against baseDir.
func (n NamespaceConfig) ConnOptions(name, baseDir string) (natsclient.ConnOptions, error) {
	conn := n.Connection
	opts := natsclient.DefaultConnOptions()

	if len(conn.URLs) > 0 {
		opts.URLs = append([]string(nil), conn.URLs...)
	}
	opts.Name = conn.Name
	if opts.Name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "natsrpc"
		}
		opts.Name = host + "-" + name
	}
	opts.Username = conn.Username
	opts.Password = conn.Password
	opts.Token = conn.Token
	if conn.CredsFile != "" {
		opts.CredsFile = conn.CredsFile
		if baseDir != "" && !filepath.IsAbs(opts.CredsFile) {
			opts.CredsFile = filepath.Join(baseDir, opts.CredsFile)
		}
	}

	if conn.MaxReconnects != nil {
		opts.MaxReconnects = *conn.MaxReconnects
	}
	if conn.ReconnectWait > 0 {
		opts.ReconnectWait = conn.ReconnectWait.Std()
	}
	if conn.Timeout > 0 {
		opts.Timeout = conn.Timeout.Std()
	}
	if conn.PingInterval > 0 {
		opts.PingInterval = conn.PingInterval.Std()
	}
	if conn.DrainTimeout > 0 {
		opts.DrainTimeout = conn.DrainTimeout.Std()
	}

	if conn.TLS.Enabled {
		files := tlsutil.Files{
			CertFile:           conn.TLS.CertFile,
			KeyFile:            conn.TLS.KeyFile,
			MinVersion:         conn.TLS.MinVersion,
			InsecureSkipVerify: conn.TLS.InsecureSkipVerify,
		}
		if conn.TLS.CAFile != "" {
			files.CAFiles = append(files.CAFiles, conn.TLS.CAFile)
		}
		files.CAFiles = append(files.CAFiles, conn.TLS.CAFiles...)

		tlsConfig, err := tlsutil.LoadClientConfig(files.Resolve(baseDir))
		if err != nil {
			return natsclient.ConnOptions{}, errors.WrapInvalid(err, "NamespaceConfig", "ConnOptions", "load TLS for "+name)
		}
		opts.TLS = tlsConfig
	}

	return opts, nil
}

// RetryConfig returns the eager connect policy.
func (n NamespaceConfig) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = n.ConnectRetry.MaxAttempts
	if n.ConnectRetry.InitialDelay > 0 {
		cfg.InitialDelay = n.ConnectRetry.InitialDelay.Std()
	}
	if n.ConnectRetry.MaxDelay > 0 {
		cfg.MaxDelay = n.ConnectRetry.MaxDelay.Std()
	}
	return cfg
}

// RequestOptions returns the namespace request defaults.
func (n NamespaceConfig) RequestOptions() rpc.RequestOptions {
	return rpc.RequestOptions{
		Timeout: n.RequestDefaults.Timeout.Std(),
		MaxWait: n.RequestDefaults.MaxWait.Std(),
		Reply:   n.RequestDefaults.Reply,
	}
}

// ClientOptions returns the natsclient options for namespace name.
func (n NamespaceConfig) ClientOptions(name string) []natsclient.ClientOption {
	return []natsclient.ClientOption{
		natsclient.WithNamespace(name),
		natsclient.WithLazy(n.Lazy),
		natsclient.WithConnectRetry(n.RetryConfig()),
	}
}

// ServiceOptions returns the rpc options for the namespace.
func (n NamespaceConfig) ServiceOptions() []rpc.Option {
	opts := []rpc.Option{rpc.WithRequestDefaults(n.RequestOptions())}
	if n.SubscribePrefix != "" {
		opts = append(opts, rpc.WithSubscribePrefix(n.SubscribePrefix))
	}
	return opts
}
