package natsclient

import (
	"context"
)

// Msg is a message delivered by a Subscription.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte

	// NoResponders marks the signal that a request subject had no live
	// subscriber. Each Conn translates its transport's form of that signal,
	// a status message or an error, into a Msg with only this set.
	NoResponders bool
}

// SubscribeOptions control how a subscription is registered.
type SubscribeOptions struct {
	// Queue joins a queue group. Each message goes to one member of the group.
	Queue string
	// Max unsubscribes automatically after Max messages. Zero means no limit.
	Max int
}

// Subscription is a pull-style subscription. Next blocks until a message
// arrives, the subscription ends or ctx is done. Once the subscription has
// ended, Next returns errors.ErrSubscriptionEnded after any buffered
// messages have been consumed.
type Subscription interface {
	Subject() string
	Next(ctx context.Context) (*Msg, error)
	Unsubscribe() error
}

// StatusType names a transport status change.
type StatusType string

// Transport status changes forwarded by a Conn.
const (
	StatusDisconnect StatusType = "disconnect"
	StatusReconnect  StatusType = "reconnect"
	StatusAsyncError StatusType = "error"
	// StatusPermissionError reports a publish or subscribe the server denied.
	StatusPermissionError StatusType = "permission_error"
)

// StatusEvent is a status change reported by the transport.
type StatusEvent struct {
	Type StatusType
	Err  error
}

// Conn is the pub/sub transport a Client manages. It reconnects on its own;
// Status reports what happened and Closed is closed once the connection is
// permanently gone.
type Conn interface {
	Publish(subject string, data []byte) error
	PublishRequest(subject, reply string, data []byte) error
	Subscribe(subject string, opts SubscribeOptions) (Subscription, error)
	NewInbox() string

	// Drain flushes pending work and closes the connection asynchronously.
	Drain() error
	Close()
	Closed() <-chan struct{}
	Status() <-chan StatusEvent
}

// Dialer opens a new Conn.
type Dialer func(ctx context.Context) (Conn, error)

// statusBuffer is the capacity of a Conn's status channel. Status events are
// dropped rather than blocking the transport when the channel is full.
const statusBuffer = 64
