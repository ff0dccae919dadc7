package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/c360/natsrpc/config"
	"github.com/c360/natsrpc/event"
	"github.com/c360/natsrpc/health"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/natsclient"
	"github.com/c360/natsrpc/pkg/telemetry"
	"github.com/c360/natsrpc/rpc"
)

// dialFunc builds the dialer for a namespace.
type dialFunc func(name string, ns config.NamespaceConfig, baseDir string) (natsclient.Dialer, error)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	flags *globalFlags

	cfg      *config.Config
	logger   *slog.Logger
	events   *event.Emitter
	monitor  *health.Monitor
	registry *metric.MetricsRegistry
	tracer   *telemetry.Tracer
	dial     dialFunc
}

// init loads the configuration layers and builds the shared infrastructure.
func (a *app) init(logOut io.Writer) error {
	loader := config.NewLoader()
	for _, path := range a.flags.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if a.flags.LogLevel != "" {
		cfg.Log.Level = a.flags.LogLevel
	}
	if a.flags.LogFormat != "" {
		cfg.Log.Format = a.flags.LogFormat
	}

	a.cfg = cfg
	a.logger = setupLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(a.logger)

	a.events = event.NewEmitter(a.logger)
	a.monitor = health.NewMonitor()
	a.registry = metric.NewMetricsRegistry()
	if cfg.Tracing.Enabled {
		a.tracer = telemetry.NewTracer(cfg.Tracing.ServiceName)
	}
	if a.dial == nil {
		a.dial = dialNATS
	}

	a.logger.Debug("Configuration loaded", "layers", a.flags.ConfigPaths, "namespaces", len(cfg.Namespaces))
	return nil
}

func dialNATS(name string, ns config.NamespaceConfig, baseDir string) (natsclient.Dialer, error) {
	opts, err := ns.ConnOptions(name, baseDir)
	if err != nil {
		return nil, err
	}
	return natsclient.NATSDialer(opts), nil
}

// namespace picks the namespace named by --namespace, else the only
// configured one, else the default.
func (a *app) namespace() (string, config.NamespaceConfig, error) {
	name := a.flags.Namespace
	if name == "" {
		if len(a.cfg.Namespaces) == 1 {
			for only := range a.cfg.Namespaces {
				name = only
			}
		} else {
			name = config.DefaultNamespace
		}
	}

	ns, err := a.cfg.Namespace(name)
	if err != nil {
		return "", config.NamespaceConfig{}, err
	}
	return name, ns, nil
}

// newService builds the connection manager and rpc service for the
// selected namespace and applies its startup policy.
func (a *app) newService(ctx context.Context) (*rpc.Service, error) {
	name, ns, err := a.namespace()
	if err != nil {
		return nil, err
	}

	dial, err := a.dial(name, ns, a.cfg.Dir())
	if err != nil {
		return nil, err
	}

	clientOpts := append(ns.ClientOptions(name),
		natsclient.WithLogger(a.logger),
		natsclient.WithEvents(a.events),
		natsclient.WithMetrics(a.registry.CoreMetrics()),
	)
	client, err := natsclient.NewClient(dial, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", name, err)
	}

	svcOpts := append(ns.ServiceOptions(),
		rpc.WithLogger(a.logger),
		rpc.WithEvents(a.events),
		rpc.WithMetrics(a.registry.CoreMetrics()),
		rpc.WithTracer(a.tracer),
	)
	svc, err := rpc.New(client, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create service for %s: %w", name, err)
	}

	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	return svc, nil
}
