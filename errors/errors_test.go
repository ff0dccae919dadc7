package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"request timeout", ErrTimeout, true},
		{"no responders", ErrNoResponders, true},
		{"publish failure", ErrPublish, true},
		{"not connected", ErrNotConnected, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"decode failure", ErrDecode, false},
		{"invalid subject", ErrInvalidSubject, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"joined publish", Join(ErrPublish, fmt.Errorf("nats: write error")), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"closed", ErrClosed, true},
		{"request timeout", ErrTimeout, false},
		{"fatal in message", fmt.Errorf("fatal system error occurred"), true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid data", ErrInvalidData, true},
		{"invalid subject", ErrInvalidSubject, true},
		{"decode failure", ErrDecode, true},
		{"request timeout", ErrTimeout, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"request timeout", ErrTimeout, ErrorTransient},
		{"invalid config", ErrInvalidConfig, ErrorFatal},
		{"decode failure", ErrDecode, ErrorInvalid},
		{"unknown error", fmt.Errorf("unknown error"), ErrorTransient},
		{"classified error", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassifiedError(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	ce := newClassified(ErrorTransient, baseErr, "Correlator", "Request", "custom message")

	if ce.Class != ErrorTransient {
		t.Errorf("expected ErrorTransient, got %v", ce.Class)
	}
	if ce.Component != "Correlator" {
		t.Errorf("expected Correlator, got %s", ce.Component)
	}
	if ce.Error() != "custom message" {
		t.Errorf("expected 'custom message', got %s", ce.Error())
	}
	if !errors.Is(ce, baseErr) {
		t.Error("classified error should unwrap to base error")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "c", "m", "a") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	err := Wrap(fmt.Errorf("original error"), "Handler", "Respond", "publish response frame")
	expected := "Handler.Respond: publish response frame failed: original error"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name     string
		wrapFunc func(error, string, string, string) error
		class    ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.wrapFunc(nil, "c", "m", "a") != nil {
				t.Fatal("wrapping nil should return nil")
			}

			err := test.wrapFunc(ErrTimeout, "Correlator", "Request", "await response")

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected ClassifiedError")
			}
			if ce.Class != test.class {
				t.Errorf("expected class %v, got %v", test.class, ce.Class)
			}
			if !errors.Is(err, ErrTimeout) {
				t.Error("wrapped error should still match ErrTimeout")
			}
		})
	}
}

func TestJoin(t *testing.T) {
	cause := fmt.Errorf("nats: connection closed")
	err := Join(ErrPublish, cause)

	if !errors.Is(err, ErrPublish) || !errors.Is(err, cause) {
		t.Errorf("joined error should match both kind and cause: %v", err)
	}
	if Join(ErrPublish, nil) != ErrPublish {
		t.Error("Join with nil cause should return the kind")
	}
}

func TestToRemote(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"plain error", fmt.Errorf("job failed"), CodeApplication},
		{"decode", WrapInvalid(ErrDecode, "Adapter", "dispatch", "decode"), CodeDecode},
		{"timeout", ErrTimeout, CodeTimeout},
		{"publish", Join(ErrPublish, fmt.Errorf("closed")), CodePublish},
		{"canceled", ErrCanceled, CodeCanceled},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			re := ToRemote(test.err)
			if re.Code != test.code {
				t.Errorf("expected code %s, got %s", test.code, re.Code)
			}
			if re.Message != test.err.Error() {
				t.Errorf("expected message %q, got %q", test.err.Error(), re.Message)
			}
		})
	}

	if ToRemote(nil) != nil {
		t.Error("ToRemote(nil) should be nil")
	}

	original := &RemoteError{Code: "quota", Message: "over quota"}
	if ToRemote(fmt.Errorf("wrapped: %w", original)) != original {
		t.Error("RemoteError in chain should pass through unchanged")
	}
}

func TestRemoteError_JSON(t *testing.T) {
	re := &RemoteError{Code: CodeDecode, Message: "bad payload", Data: json.RawMessage(`{"offset":3}`)}

	data, err := json.Marshal(re)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded RemoteError
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !errors.Is(&decoded, ErrDecode) {
		t.Error("decoded decode_error should match ErrDecode")
	}
	if decoded.Error() != "decode_error: bad payload" {
		t.Errorf("unexpected message %q", decoded.Error())
	}
}

func TestAsErrorShaped(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
		code string
		msg  string
	}{
		{"code and message", `{"code":"E42","message":"boom"}`, true, "E42", "boom"},
		{"name and message", `{"name":"TypeError","message":"x is undefined"}`, true, "TypeError", "x is undefined"},
		{"stack and message", `{"message":"oops","stack":"at foo"}`, true, CodeApplication, "oops"},
		{"message only", `{"message":"just data"}`, false, "", ""},
		{"plain object", `{"done":true}`, false, "", ""},
		{"array", `[1,2]`, false, "", ""},
		{"null", `null`, false, "", ""},
		{"empty", ``, false, "", ""},
		{"non-string message", `{"message":5,"code":"x"}`, false, "", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			re, ok := AsErrorShaped(json.RawMessage(test.raw))
			if ok != test.ok {
				t.Fatalf("expected ok=%v, got %v", test.ok, ok)
			}
			if !ok {
				return
			}
			if re.Code != test.code || re.Message != test.msg {
				t.Errorf("got %+v", re)
			}
		})
	}
}
