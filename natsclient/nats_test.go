package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/natsclient/natstest"
)

func TestTranslateNext(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name         string
		ctx          context.Context
		msg          *nats.Msg
		err          error
		wantErr      error
		noResponders bool
	}{
		{name: "no responders error", msg: nil, err: nats.ErrNoResponders, noResponders: true},
		{name: "no responders status message", msg: &nats.Msg{Subject: "_INBOX.a", Header: nats.Header{"Status": []string{"503"}}}, noResponders: true},
		{name: "max messages", err: nats.ErrMaxMessages, wantErr: errors.ErrSubscriptionEnded},
		{name: "bad subscription", err: nats.ErrBadSubscription, wantErr: errors.ErrSubscriptionEnded},
		{name: "connection closed", err: nats.ErrConnectionClosed, wantErr: errors.ErrSubscriptionEnded},
		{name: "context canceled", ctx: canceled, err: context.Canceled, wantErr: context.Canceled},
		{name: "slow consumer", err: nats.ErrSlowConsumer, wantErr: nats.ErrSlowConsumer},
		{name: "plain message", msg: &nats.Msg{Subject: "jobs.run", Reply: "_INBOX.b", Data: []byte(`{}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}

			msg, err := translateNext(ctx, "_INBOX.a", tt.msg, tt.err)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.Nil(t, msg)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, tt.noResponders, msg.NoResponders)
			if tt.msg != nil {
				assert.Equal(t, tt.msg.Subject, msg.Subject)
				assert.Equal(t, tt.msg.Reply, msg.Reply)
			} else {
				assert.Equal(t, "_INBOX.a", msg.Subject)
			}
		})
	}

	_, err := translateNext(context.Background(), "x", nil, nats.ErrSlowConsumer)
	assert.True(t, errors.IsTransient(err))
}

func TestNATSConn_HandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want StatusType
	}{
		{"server permissions violation", fmt.Errorf(`nats: Permissions Violation for Publish to "admin.x"`), StatusPermissionError},
		{"sentinel permissions violation", nats.ErrPermissionViolation, StatusPermissionError},
		{"slow consumer", nats.ErrSlowConsumer, StatusAsyncError},
		{"other", fmt.Errorf("nats: maximum payload exceeded"), StatusAsyncError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &natsConn{status: make(chan StatusEvent, 1)}
			c.handleError(nil, nil, tt.err)

			ev := <-c.status
			assert.Equal(t, tt.want, ev.Type)
			assert.True(t, errors.Is(ev.Err, tt.err))
			assert.Equal(t, tt.want == StatusPermissionError, errors.Is(ev.Err, errors.ErrPermissionDenied))
		})
	}
}

func dialEmbedded(t *testing.T, url string, edit ...func(*ConnOptions)) Conn {
	t.Helper()

	opts := DefaultConnOptions()
	opts.URLs = []string{url}
	opts.MaxReconnects = 0
	opts.Timeout = 2 * time.Second
	opts.DrainTimeout = 2 * time.Second
	for _, fn := range edit {
		fn(&opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialNATS(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestNATSConn_NoResponders(t *testing.T) {
	conn := dialEmbedded(t, natstest.RunServer(t))

	inbox := conn.NewInbox()
	sub, err := conn.Subscribe(inbox, SubscribeOptions{})
	require.NoError(t, err)
	require.NoError(t, conn.PublishRequest("nobody.home", inbox, []byte(`{}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.True(t, msg.NoResponders)
	assert.Empty(t, msg.Data)
}

func TestNATSConn_MaxEndsSubscription(t *testing.T) {
	conn := dialEmbedded(t, natstest.RunServer(t))

	sub, err := conn.Subscribe("jobs.>", SubscribeOptions{Max: 1})
	require.NoError(t, err)
	require.NoError(t, conn.PublishRequest("jobs.a", "reply.x", []byte("one")))
	require.NoError(t, conn.Publish("jobs.b", []byte("two")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jobs.a", first.Subject)
	assert.Equal(t, "reply.x", first.Reply)
	assert.Equal(t, []byte("one"), first.Data)

	_, err = sub.Next(ctx)
	assert.True(t, errors.Is(err, errors.ErrSubscriptionEnded), "got %v", err)
	assert.NoError(t, sub.Unsubscribe())
}

func TestNATSConn_QueueGroup(t *testing.T) {
	url := natstest.RunServer(t)
	pub := dialEmbedded(t, url)
	members := dialEmbedded(t, url)

	a, err := members.Subscribe("work", SubscribeOptions{Queue: "workers"})
	require.NoError(t, err)
	b, err := members.Subscribe("work", SubscribeOptions{Queue: "workers"})
	require.NoError(t, err)

	const n = 20
	for i := range n {
		require.NoError(t, pub.Publish("work", []byte(fmt.Sprint(i))))
	}

	count := func(sub Subscription) int {
		got := 0
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			_, err := sub.Next(ctx)
			cancel()
			if err != nil {
				return got
			}
			got++
		}
	}
	assert.Equal(t, n, count(a)+count(b))
}

func TestNATSConn_CloseEndsSubscription(t *testing.T) {
	conn := dialEmbedded(t, natstest.RunServer(t))

	sub, err := conn.Subscribe("jobs.run", SubscribeOptions{})
	require.NoError(t, err)

	conn.Close()
	select {
	case <-conn.Closed():
	case <-time.After(time.Second):
		t.Fatal("Closed not signalled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.True(t, errors.Is(err, errors.ErrSubscriptionEnded), "got %v", err)

	_, err = conn.Subscribe("jobs.other", SubscribeOptions{})
	assert.True(t, errors.Is(err, errors.ErrClosed), "got %v", err)
	assert.True(t, errors.Is(conn.Publish("jobs.run", nil), errors.ErrPublish))
}

func TestNATSConn_PermissionViolationStatus(t *testing.T) {
	url := natstest.RunServer(t, natstest.WithUser("app", "secret", natstest.DenyPublish("admin.>")))
	conn := dialEmbedded(t, url, func(o *ConnOptions) {
		o.Username = "app"
		o.Password = "secret"
	})

	require.NoError(t, conn.Publish("admin.reset", []byte(`{}`)))

	select {
	case ev := <-conn.Status():
		assert.Equal(t, StatusPermissionError, ev.Type)
		assert.True(t, errors.Is(ev.Err, errors.ErrPermissionDenied), "got %v", ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no status event for the denied publish")
	}
}
