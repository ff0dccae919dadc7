package errors

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Wire codes carried by RemoteError.
const (
	CodeApplication = "application_error"
	CodeDecode      = "decode_error"
	CodeTimeout     = "timeout"
	CodePublish     = "publish_error"
	CodeCanceled    = "canceled"
)

// RemoteError is the application error carried in the error field of a
// response frame. The caller receives it verbatim.
type RemoteError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var _ error = (*RemoteError)(nil)

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e.Code == "" || e.Code == CodeApplication {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Is reports a remote decode rejection as ErrDecode.
func (e *RemoteError) Is(target error) bool {
	return target == ErrDecode && e.Code == CodeDecode
}

// ToRemote converts any error into its wire form. A RemoteError anywhere
// in the chain is passed through unchanged.
func ToRemote(err error) *RemoteError {
	if err == nil {
		return nil
	}

	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}

	code := CodeApplication
	switch {
	case errors.Is(err, ErrDecode):
		code = CodeDecode
	case errors.Is(err, ErrTimeout):
		code = CodeTimeout
	case errors.Is(err, ErrPublish):
		code = CodePublish
	case errors.Is(err, ErrCanceled):
		code = CodeCanceled
	}

	return &RemoteError{Code: code, Message: err.Error()}
}

// FromWire reads the error slot of a response frame. The slot is opaque:
// JSON null and the falsy values false, 0 and "" mean no error, an object
// with a code or message decodes field by field, and anything else becomes
// an application error whose message is the value's text and whose data is
// the raw value.
func FromWire(raw json.RawMessage) *RemoteError {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", "0", `""`:
		return nil
	}

	if raw[0] == '{' {
		var re RemoteError
		if err := json.Unmarshal(raw, &re); err == nil && (re.Code != "" || re.Message != "") {
			return &re
		}
	}

	message := string(raw)
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			message = s
		}
	}
	return &RemoteError{Code: CodeApplication, Message: message, Data: append(json.RawMessage(nil), raw...)}
}

// AsErrorShaped reports whether raw looks like a serialized error: a JSON
// object with a string "message" plus a "code", "name" or "stack" field.
// Responders that put an error into the results slot are corrected by the
// caller with this check.
func AsErrorShaped(raw json.RawMessage) (*RemoteError, bool) {
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, false
	}

	var message string
	if m, ok := shape["message"]; !ok || json.Unmarshal(m, &message) != nil {
		return nil, false
	}

	var code string
	switch {
	case shape["code"] != nil:
		if json.Unmarshal(shape["code"], &code) != nil {
			return nil, false
		}
	case shape["name"] != nil:
		if json.Unmarshal(shape["name"], &code) != nil {
			return nil, false
		}
	case shape["stack"] != nil:
		code = CodeApplication
	default:
		return nil, false
	}

	return &RemoteError{Code: code, Message: message, Data: shape["data"]}, true
}
