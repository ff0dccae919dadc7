package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/natsrpc/event"
	"github.com/c360/natsrpc/natsclient"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestService(t *testing.T, network *natsclient.Network, opts ...Option) *Service {
	t.Helper()

	client, err := natsclient.NewClient(network.Dialer(),
		natsclient.WithLogger(quietLogger()),
		natsclient.WithNamespace("test"),
	)
	require.NoError(t, err)

	svc, err := New(client, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func dialRaw(t *testing.T, network *natsclient.Network) natsclient.Conn {
	t.Helper()
	conn, err := network.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

// serveRaw answers requests on subject by hand, one message at a time.
func serveRaw(t *testing.T, network *natsclient.Network, subject string, fn func(conn natsclient.Conn, msg *natsclient.Msg)) {
	t.Helper()
	conn := dialRaw(t, network)
	sub, err := conn.Subscribe(subject, natsclient.SubscribeOptions{})
	require.NoError(t, err)

	go func() {
		for {
			msg, err := sub.Next(context.Background())
			if err != nil {
				return
			}
			fn(conn, msg)
		}
	}()
}

func sendFrame(conn natsclient.Conn, reply string, f Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		panic(err)
	}
	_ = conn.Publish(reply, data)
}

func ms(v float64) *float64 { return &v }

// readFrames collects frames published to inbox until the marker message.
func readFrames(t *testing.T, sub natsclient.Subscription) []*Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frames []*Frame
	for {
		msg, err := sub.Next(ctx)
		require.NoError(t, err)
		if string(msg.Data) == "END" {
			return frames
		}
		f, err := decodeFrame(msg.Data)
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func nextFrame(t *testing.T, sub natsclient.Subscription) *Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	f, err := decodeFrame(msg.Data)
	require.NoError(t, err)
	return f
}

func await(t *testing.T, c *Call) (json.RawMessage, error) {
	t.Helper()
	select {
	case <-c.Done():
		return c.Result()
	case <-time.After(3 * time.Second):
		t.Fatal("call did not resolve")
		return nil, nil
	}
}

// recorder is an Observer that keeps everything it sees.
type recorder struct {
	mu        sync.Mutex
	acks      []json.RawMessage
	updates   []json.RawMessage
	responses int
	err       error
	results   json.RawMessage
}

func (r *recorder) OnAck(results json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, results)
}

func (r *recorder) OnUpdate(results json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, results)
}

func (r *recorder) OnResponse(err error, results json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses++
	r.err = err
	r.results = results
}

func (r *recorder) counts() (acks, updates, responses int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acks), len(r.updates), r.responses
}

// eventLog collects events for assertions.
type eventLog struct {
	ch chan event.Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan event.Event, 64)}
}

func (l *eventLog) Emit(e event.Event) {
	select {
	case l.ch <- e:
	default:
	}
}

func (l *eventLog) wait(t *testing.T, typ event.Type) event.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-l.ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
			return event.Event{}
		}
	}
}
