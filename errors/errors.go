// Package errors provides standardized error handling for natsrpc components.
// It includes error classification, the protocol error kinds surfaced to
// callers, and helpers for consistent wrapping across the module.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller what to do with an error: retry it, fix the
// input, or stop.
type ErrorClass int

const (
	// ErrorTransient errors may succeed on retry.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad input or configuration.
	ErrorInvalid
	// ErrorFatal errors stop processing.
	ErrorFatal
)

var classNames = [...]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (ec ErrorClass) String() string {
	if ec < 0 || int(ec) >= len(classNames) {
		return "unknown"
	}
	return classNames[ec]
}

// Protocol error kinds. Callers match them with errors.Is.
var (
	// ErrTimeout is synthesized locally when no terminal signal arrives
	// within the active deadline or the maxWait ceiling.
	ErrTimeout = errors.New("request timeout")
	// ErrNoResponders means the request subject had no live subscriber.
	ErrNoResponders = errors.New("no responders")
	// ErrPublish is a transport failure while sending a request or a reply frame.
	ErrPublish = errors.New("publish failed")
	// ErrDecode means an inbound payload could not be deserialized.
	ErrDecode = errors.New("decode failed")
	// ErrCanceled means the caller abandoned the request before it resolved.
	ErrCanceled = errors.New("request canceled")
)

// Connection and lifecycle errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrClosed            = errors.New("connection closed")
	ErrShuttingDown      = errors.New("shutting down")
	ErrSubscriptionEnded = errors.New("subscription ended")
	// ErrPermissionDenied means the server refused a publish or subscribe
	// for the connection's credentials.
	ErrPermissionDenied = errors.New("permission denied")
)

// Input and configuration errors
var (
	ErrInvalidSubject = errors.New("invalid subject")
	ErrInvalidData    = errors.New("invalid data format")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
)

// ClassifiedError carries an explicit class along with where the error
// was raised.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classRule recognizes unclassified errors of one class, first by
// sentinel and then by message text.
type classRule struct {
	kinds []error
	hints []string
}

var classRules = map[ErrorClass]classRule{
	ErrorTransient: {
		kinds: []error{
			ErrTimeout, ErrNoResponders, ErrPublish,
			ErrNotConnected, ErrConnectionLost, ErrConnectionTimeout,
			context.DeadlineExceeded, context.Canceled,
		},
		hints: []string{"timeout", "connection", "network", "temporary", "unavailable", "reconnect"},
	},
	ErrorFatal: {
		kinds: []error{ErrInvalidConfig, ErrMissingConfig, ErrClosed, ErrPermissionDenied},
		hints: []string{"fatal", "panic", "invalid config", "missing config"},
	},
	ErrorInvalid: {
		kinds: []error{ErrInvalidData, ErrInvalidSubject, ErrDecode},
	},
}

// hasClass reports whether err belongs to class. An explicit
// ClassifiedError in the chain decides on its own.
func hasClass(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}

	rule := classRules[class]
	for _, kind := range rule.kinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	if len(rule.hints) == 0 {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range rule.hints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return hasClass(err, ErrorTransient) }

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool { return hasClass(err, ErrorFatal) }

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool { return hasClass(err, ErrorInvalid) }

// Classify returns the class of err. Unrecognized errors count as
// transient.
func Classify(err error) ErrorClass {
	for _, class := range []ErrorClass{ErrorTransient, ErrorFatal, ErrorInvalid} {
		if hasClass(err, class) {
			return class
		}
	}
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap adds "component.method: action failed" context to err.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(class, wrapped, component, method, wrapped.Error())
}

// WrapTransient wraps err with context and marks it retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it as bad input.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Join attaches a protocol kind to a transport error so that both
// errors.Is(err, kind) and errors.Is(err, cause) hold.
func Join(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }
