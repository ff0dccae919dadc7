// Package natstest runs an in-process nats-server for tests that need the
// real wire protocol without a container runtime.
package natstest

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 10 * time.Second

// Option adjusts the server options before start.
type Option func(*server.Options)

// WithUser adds a password user. A nil perms grants everything.
func WithUser(username, password string, perms *server.Permissions) Option {
	return func(o *server.Options) {
		o.Users = append(o.Users, &server.User{Username: username, Password: password, Permissions: perms})
	}
}

// DenyPublish returns permissions that allow everything except publishing
// to the given subjects.
func DenyPublish(subjects ...string) *server.Permissions {
	return &server.Permissions{
		Publish: &server.SubjectPermission{Allow: []string{">"}, Deny: subjects},
	}
}

// RunServer starts a server on a random loopback port and returns its
// client URL. The server shuts down when t finishes.
func RunServer(t testing.TB, opts ...Option) string {
	t.Helper()

	o := &server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	}
	for _, opt := range opts {
		opt(o)
	}

	srv, err := server.NewServer(o)
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go srv.Start()
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	if !srv.ReadyForConnections(readyTimeout) {
		t.Fatalf("nats server not ready after %s", readyTimeout)
	}
	return srv.ClientURL()
}
