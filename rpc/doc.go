// Package rpc implements progressive request/reply over NATS.
//
// # Protocol
//
// A caller publishes one message with a reply address. The responder sends
// any number of intermediate signal frames followed by exactly one terminal
// frame to that address:
//
//	{"type":"ack","results":null,"error":null,"timeout":1500}
//	{"type":"update","results":{"pct":40},"error":null}
//	{"type":"response","results":{"done":true},"error":null}
//
// An ack or update renews the caller's inactivity deadline. An ack may carry
// a timeout in milliseconds that replaces the deadline for the next window
// only. Updates always return to the configured timeout. Independently,
// MaxWait bounds the total wait.
//
// # Requests
//
// Service.Call returns a *Call immediately. Its Observer receives every
// ack and update in arrival order and exactly one response, all from the
// call's own goroutine:
//
//	call := svc.Call(ctx, "jobs.run", job, rpc.RequestOptions{Timeout: 5 * time.Second}, rpc.ObserverFuncs{
//	    Update: func(results json.RawMessage) { log.Printf("progress %s", results) },
//	})
//	var out Result
//	if err := call.Decode(ctx, &out); err != nil {
//	    return err
//	}
//
// A call fails with errors.ErrTimeout when a deadline expires,
// errors.ErrNoResponders when nobody is subscribed, errors.ErrPublish when
// the request cannot be sent, errors.ErrCanceled on Cancel or context
// cancellation, or an *errors.RemoteError carrying the responder's error.
//
// # Responders
//
// Service.Subscribe decodes each inbound message and passes it to the
// handler together with a *Handler for its reply address (nil for one-way
// messages). An ack is sent automatically before the handler runs unless
// SubscribeOptions.NoAck is set. Messages are handled one at a time per
// subscription; handler errors and panics are reported as
// subscribe_message_error events and never stop the loop:
//
//	svc.Subscribe(ctx, "jobs.run", rpc.SubscribeOptions{}, func(ctx context.Context, msg *rpc.Message, reply *rpc.Handler) error {
//	    var job Job
//	    if err := msg.Decode(&job); err != nil {
//	        return reply.Respond(err, nil)
//	    }
//	    reply.Ack(time.Minute)
//	    return reply.Respond(nil, run(ctx, job))
//	})
//
// A payload that cannot be decoded never reaches the handler; when the
// message has a reply address the caller receives a decode_error response.
package rpc
