// Package errors provides standardized error handling for natsrpc components.
//
// # Overview
//
// The package combines two things: the three-class classification used
// throughout the module (Transient, Invalid, Fatal) and the protocol error
// kinds a progressive request can resolve with.
//
// # Protocol Error Kinds
//
//   - ErrTimeout: no terminal signal within the inactivity deadline or the
//     maxWait ceiling. Always synthesized by the caller, never sent by a responder.
//   - ErrNoResponders: the request subject had no live subscriber. Surfaced
//     immediately, no frames are awaited.
//   - ErrPublish: the transport failed while sending a request or reply frame.
//   - ErrDecode: an inbound payload could not be deserialized.
//   - ErrCanceled: the caller canceled the request or its context.
//   - *RemoteError: the responder's own terminal error, passed through verbatim.
//
// Kinds are sentinels, so callers match them with errors.Is:
//
//	call := svc.Request(ctx, "jobs.run", job, rpc.RequestOptions{}, nil, nil)
//	if _, err := call.Wait(ctx); errors.Is(err, errors.ErrTimeout) {
//	    // retry with a new request if appropriate
//	}
//
// and application errors with errors.As:
//
//	var remote *errors.RemoteError
//	if errors.As(err, &remote) {
//	    log.Printf("responder failed: %s (%s)", remote.Message, remote.Code)
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // For retryable errors
//	errors.WrapInvalid(err, "Component", "Method", "action")    // For validation errors
//	errors.WrapFatal(err, "Component", "Method", "action")      // For unrecoverable errors
//
// Join attaches a protocol kind to a transport cause so that both remain
// visible to errors.Is:
//
//	errors.Join(errors.ErrPublish, nats.ErrConnectionClosed)
//
// # Wire Form
//
// ToRemote converts any error into a RemoteError for the error slot of a
// response frame. AsErrorShaped detects responders that placed an error in
// the results slot instead; the caller promotes it to the error.
//
// # Thread Safety
//
// Error variables are immutable. ClassifiedError and RemoteError values are
// safe to share across goroutines after creation.
package errors
