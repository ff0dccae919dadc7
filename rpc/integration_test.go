//go:build integration
// +build integration

package rpc

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/natsclient"
)

type RPCIntegrationSuite struct {
	suite.Suite
	server *natsclient.TestServer
	ctx    context.Context
	cancel context.CancelFunc
}

func TestRPCIntegration(t *testing.T) {
	suite.Run(t, new(RPCIntegrationSuite))
}

func (s *RPCIntegrationSuite) SetupSuite() {
	s.server = natsclient.NewTestServer(s.T(), natsclient.WithFastStartup())
}

func (s *RPCIntegrationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (s *RPCIntegrationSuite) TearDownTest() {
	s.cancel()
}

func (s *RPCIntegrationSuite) newService(opts ...Option) *Service {
	client, err := s.server.NewClient(natsclient.WithLogger(quietLogger()), natsclient.WithNamespace("it"))
	s.Require().NoError(err)

	svc, err := New(client, append([]Option{WithLogger(quietLogger())}, opts...)...)
	s.Require().NoError(err)
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

// TestProgressiveRequest runs the full ack/update/response exchange through a real server
func (s *RPCIntegrationSuite) TestProgressiveRequest() {
	responder := s.newService(WithSubscribePrefix("svc."))
	caller := s.newService()

	_, err := responder.Subscribe(s.ctx, "jobs.run", SubscribeOptions{}, func(_ context.Context, msg *Message, reply *Handler) error {
		for pct := 25; pct < 100; pct += 25 {
			time.Sleep(50 * time.Millisecond)
			if err := reply.Update(map[string]int{"pct": pct}); err != nil {
				return err
			}
		}
		return reply.Respond(nil, map[string]any{"done": true, "subject": msg.Subject})
	})
	s.Require().NoError(err)

	rec := &recorder{}
	call := caller.Call(s.ctx, "svc.jobs.run", map[string]int{"id": 1}, RequestOptions{Timeout: 500 * time.Millisecond}, rec)

	results, err := call.Wait(s.ctx)
	s.Require().NoError(err)
	s.JSONEq(`{"done":true,"subject":"jobs.run"}`, string(results))

	acks, updates, responses := rec.counts()
	s.Equal(1, acks)
	s.Equal(3, updates)
	s.Equal(1, responses)
}

// TestAckOverride checks that an ack override outlasts the configured timeout on a real server
func (s *RPCIntegrationSuite) TestAckOverride() {
	responder := s.newService()
	caller := s.newService()

	_, err := responder.Subscribe(s.ctx, "jobs.slow", SubscribeOptions{NoAck: true}, func(_ context.Context, _ *Message, reply *Handler) error {
		if err := reply.Ack(time.Second); err != nil {
			return err
		}
		time.Sleep(300 * time.Millisecond)
		return reply.Respond(nil, "late")
	})
	s.Require().NoError(err)

	results, err := caller.RequestSync(s.ctx, "jobs.slow", nil, RequestOptions{Timeout: 100 * time.Millisecond})
	s.Require().NoError(err)
	s.JSONEq(`"late"`, string(results))
}

// TestNoResponders checks the server's no-responders status resolves the call
func (s *RPCIntegrationSuite) TestNoResponders() {
	caller := s.newService()

	_, err := caller.Call(s.ctx, "nobody.home", nil, RequestOptions{Timeout: 5 * time.Second}, nil).Wait(s.ctx)
	s.True(errors.Is(err, errors.ErrNoResponders), "got %v", err)
}

// TestTimeout checks the local deadline against a silent responder
func (s *RPCIntegrationSuite) TestTimeout() {
	responder := s.newService()
	caller := s.newService()

	_, err := responder.Subscribe(s.ctx, "jobs.silent", SubscribeOptions{NoAck: true}, func(context.Context, *Message, *Handler) error {
		return nil
	})
	s.Require().NoError(err)

	var got json.RawMessage
	_, err = caller.Request(s.ctx, "jobs.silent", nil, RequestOptions{Timeout: 100 * time.Millisecond},
		func(_ error, results json.RawMessage) { got = results }, nil).Wait(s.ctx)
	s.True(errors.Is(err, errors.ErrTimeout), "got %v", err)
	s.Nil(got)
}

// TestQueueGroup checks that a queue group delivers each request to one member
func (s *RPCIntegrationSuite) TestQueueGroup() {
	caller := s.newService()

	var handled [2]atomic.Int32
	for i := range handled {
		responder := s.newService()
		idx := i
		_, err := responder.Subscribe(s.ctx, "jobs.pool", SubscribeOptions{Queue: "workers"}, func(_ context.Context, _ *Message, reply *Handler) error {
			handled[idx].Add(1)
			return reply.Respond(nil, idx)
		})
		s.Require().NoError(err)
	}

	for i := 0; i < 10; i++ {
		_, err := caller.RequestSync(s.ctx, "jobs.pool", i, RequestOptions{Timeout: time.Second})
		s.Require().NoError(err)
	}

	s.Equal(int32(10), handled[0].Load()+handled[1].Load())
}
