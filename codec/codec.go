// Package codec serializes application payloads to and from transport frames.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/c360/natsrpc/errors"
)

// Codec is a reversible payload format.
type Codec interface {
	// Name identifies the format, e.g. "json".
	Name() string
	// Marshal encodes v into a transport frame.
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v any) error
}

// JSON is the default codec.
type JSON struct{}

var _ Codec = JSON{}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Marshal encodes v as JSON. Byte slices and json.RawMessage are sent as-is
// when they already hold valid JSON.
func (JSON) Marshal(v any) ([]byte, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		if len(raw) == 0 {
			return []byte("null"), nil
		}
		if !json.Valid(raw) {
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "JSON", "Marshal", "validate raw message")
		}
		return raw, nil
	case []byte:
		if json.Valid(raw) {
			return raw, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSON", "Marshal", fmt.Sprintf("encode %T", v))
	}
	return data, nil
}

// Unmarshal decodes JSON into v. Failures match errors.ErrDecode.
func (JSON) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapInvalid(errors.Join(errors.ErrDecode, err), "JSON", "Unmarshal", "decode payload")
	}
	return nil
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return JSON{}
}
