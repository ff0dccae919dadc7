package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	natsClientPort  = "4222"
	natsMonitorPort = "8222"
)

// TestServer is a nats-server container for integration tests.
type TestServer struct {
	URL string

	container testcontainers.Container
	opTimeout time.Duration
}

type serverSettings struct {
	image        string
	opTimeout    time.Duration
	startTimeout time.Duration
	args         []string
}

// TestOption tunes the container started by NewTestServer.
type TestOption func(*serverSettings)

// WithNATSVersion selects the nats image tag.
func WithNATSVersion(version string) TestOption {
	return func(s *serverSettings) { s.image = "nats:" + version }
}

// WithStartTimeout bounds how long the container may take to become ready.
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(s *serverSettings) { s.startTimeout = timeout }
}

// WithServerArgs appends nats-server flags.
func WithServerArgs(args ...string) TestOption {
	return func(s *serverSettings) { s.args = append(s.args, args...) }
}

// WithFastStartup shortens the connect, drain and readiness timeouts.
func WithFastStartup() TestOption {
	return func(s *serverSettings) {
		s.opTimeout = 2 * time.Second
		s.startTimeout = 10 * time.Second
	}
}

func newServerSettings(opts []TestOption) serverSettings {
	s := serverSettings{
		image:        "nats:2.11.7-alpine",
		opTimeout:    5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func startServer(ctx context.Context, s serverSettings) (*TestServer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.image,
			ExposedPorts: []string{natsClientPort + "/tcp", natsMonitorPort + "/tcp"},
			Cmd:          append([]string{"--port", natsClientPort, "--http_port", natsMonitorPort}, s.args...),
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(natsClientPort+"/tcp"),
				wait.ForHTTP("/healthz").WithPort(natsMonitorPort+"/tcp").WithStartupTimeout(s.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start nats container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, natsClientPort+"/tcp", "nats")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve nats endpoint: %w", err)
	}

	return &TestServer{URL: endpoint, container: container, opTimeout: s.opTimeout}, nil
}

// NewSharedTestServer starts a container outside of any single test, for
// use from TestMain. The caller terminates it.
func NewSharedTestServer(opts ...TestOption) (*TestServer, error) {
	return startServer(context.Background(), newServerSettings(opts))
}

// NewTestServer starts a container that is terminated when t finishes.
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()

	srv, err := startServer(context.Background(), newServerSettings(opts))
	if err != nil {
		t.Fatalf("nats test server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Terminate() })
	return srv
}

// ConnOptions points at the container with reconnects disabled.
func (ts *TestServer) ConnOptions() ConnOptions {
	opts := DefaultConnOptions()
	opts.URLs = []string{ts.URL}
	opts.MaxReconnects = 0
	opts.Timeout = ts.opTimeout
	opts.DrainTimeout = ts.opTimeout
	return opts
}

// NewClient creates a Client that dials the container.
func (ts *TestServer) NewClient(opts ...ClientOption) (*Client, error) {
	return NewClient(NATSDialer(ts.ConnOptions()), opts...)
}

// Terminate stops the container. Calling it again is a no-op.
func (ts *TestServer) Terminate() error {
	if ts.container == nil {
		return nil
	}
	c := ts.container
	ts.container = nil
	return c.Terminate(context.Background())
}
