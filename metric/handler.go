package metric

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/natsrpc/errors"
)

const (
	defaultAddr = ":9090"
	defaultPath = "/metrics"
	healthPath  = "/health"
)

// HealthFunc reports whether the process is healthy. A nil error is healthy.
type HealthFunc func() error

// Server exposes the registry and a health endpoint over HTTP.
type Server struct {
	addr     string
	path     string
	registry *MetricsRegistry
	health   HealthFunc

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer creates a server for registry. Empty addr and path take
// ":9090" and "/metrics".
func NewServer(addr, path string, registry *MetricsRegistry, health HealthFunc) *Server {
	return &Server{
		addr:     cmpOr(addr, defaultAddr),
		path:     cmpOr(path, defaultPath),
		registry: registry,
		health:   health,
	}
}

func cmpOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Handler serves the metrics path and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc(healthPath, s.serveHealth)
	return mux
}

type healthBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	code, body := http.StatusOK, healthBody{Status: "ok"}
	if s.health != nil {
		if err := s.health(); err != nil {
			code, body = http.StatusServiceUnavailable, healthBody{Status: "unavailable", Error: err.Error()}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Start binds the address and serves until Stop. It returns nil after Stop.
func (s *Server) Start() error {
	srv, ln, err := s.bind()
	if err != nil {
		return err
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", "serve metrics")
	}
	return nil
}

func (s *Server) bind() (*http.Server, net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.srv != nil:
		return nil, nil, errors.WrapInvalid(fmt.Errorf("already listening on %s", s.addr), "Server", "Start", "start metrics server")
	case s.registry == nil:
		return nil, nil, errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "start metrics server")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "Server", "Start", "listen on "+s.addr)
	}
	s.srv = &http.Server{Handler: s.Handler()}
	s.ln = ln
	return s.srv, ln, nil
}

// Stop closes the listener. The server may be started again afterwards.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Close(); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "close metrics server")
	}
	return nil
}

// Address returns the metrics URL, using the bound port once started.
func (s *Server) Address() string {
	s.mu.Lock()
	addr := s.addr
	if s.ln != nil {
		addr = s.ln.Addr().String()
	}
	s.mu.Unlock()

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + s.path
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + s.path
}
