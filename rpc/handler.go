package rpc

import (
	"sync"
	"time"

	"github.com/c360/natsrpc/codec"
	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/natsclient"
)

// Handler emits the signals for one inbound request. Ack and Update may be
// called any number of times; Respond publishes the single terminal frame
// and disposes the handler, after which every call is a no-op. A request
// whose handler never responds times out on the caller's side.
type Handler struct {
	conn      natsclient.Conn
	reply     string
	namespace string
	metrics   *metric.Metrics

	// sendMu orders frames on the wire; mu guards disposed.
	sendMu   sync.Mutex
	mu       sync.Mutex
	disposed bool
}

// NewHandler creates a Handler that publishes to reply on conn.
func NewHandler(conn natsclient.Conn, reply string) *Handler {
	return &Handler{conn: conn, reply: reply}
}

// Reply returns the reply address.
func (h *Handler) Reply() string {
	return h.reply
}

// Disposed reports whether the terminal response has been sent.
func (h *Handler) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// Ack tells the caller the request is being worked on and renews its
// deadline. A positive override of at least one millisecond replaces the
// caller's timeout for the next window only.
func (h *Handler) Ack(override time.Duration) error {
	f := Frame{Type: FrameAck}
	if override >= time.Millisecond {
		ms := float64(override.Milliseconds())
		f.Timeout = &ms
	}
	return h.send(f, false)
}

// Update sends progress results and renews the caller's deadline.
func (h *Handler) Update(results any) error {
	raw, err := encodeResults(results)
	if err != nil {
		return err
	}
	return h.send(Frame{Type: FrameUpdate, Results: raw}, false)
}

// Respond sends the terminal frame. Exactly one response is ever published
// per handler.
func (h *Handler) Respond(err error, results any) error {
	raw, encErr := encodeResults(results)
	if encErr != nil {
		// The caller still gets a terminal frame.
		err, raw = encErr, nil
	}
	return h.send(Frame{Type: FrameResponse, Results: raw, Error: errors.ToRemote(err)}, true)
}

func (h *Handler) send(f Frame, terminal bool) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil
	}
	if terminal {
		h.disposed = true
	}
	h.mu.Unlock()

	data, err := encodeFrame(f)
	if err != nil {
		return err
	}

	if err := h.conn.Publish(h.reply, data); err != nil {
		if !errors.Is(err, errors.ErrPublish) {
			err = errors.Join(errors.ErrPublish, err)
		}
		return errors.WrapTransient(err, "Handler", "send", "publish "+string(f.Type)+" frame")
	}

	h.metrics.RecordSignal(h.namespace, metric.DirectionSent, string(f.Type))
	return nil
}

func encodeResults(results any) ([]byte, error) {
	if results == nil {
		return nil, nil
	}
	raw, err := codec.JSON{}.Marshal(results)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Handler", "encodeResults", "encode results")
	}
	return nullable(raw), nil
}
