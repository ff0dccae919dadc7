package rpc

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360/natsrpc/errors"
)

// FrameType tags a signal frame on a reply address.
type FrameType string

// Signal frame types.
const (
	FrameAck      FrameType = "ack"
	FrameUpdate   FrameType = "update"
	FrameResponse FrameType = "response"
)

// Frame is the wire form of a signal sent to a reply address. Timeout is
// the ack override in milliseconds.
type Frame struct {
	Type    FrameType           `json:"type"`
	Results json.RawMessage     `json:"results"`
	Error   *errors.RemoteError `json:"error"`
	Timeout *float64            `json:"timeout,omitempty"`
}

// UnmarshalJSON reads a frame leniently. The error slot is opaque and goes
// through errors.FromWire. A timeout may be a number or a numeric string;
// any other value carries no override.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type    FrameType       `json:"type"`
		Results json.RawMessage `json:"results"`
		Error   json.RawMessage `json:"error"`
		Timeout json.RawMessage `json:"timeout"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*f = Frame{
		Type:    wire.Type,
		Results: wire.Results,
		Error:   errors.FromWire(wire.Error),
		Timeout: parseTimeout(wire.Timeout),
	}
	return nil
}

func parseTimeout(raw json.RawMessage) *float64 {
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		if v, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return nil
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Override returns the ack override carried by the frame, or zero when it
// has none or the value is below one millisecond.
func (f *Frame) Override() time.Duration {
	if f.Type != FrameAck || f.Timeout == nil || *f.Timeout < 1 {
		return 0
	}
	d := *f.Timeout * float64(time.Millisecond)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Outcome returns the terminal outcome of a response frame. The error slot
// wins; an error-shaped value in the results slot is promoted to the error.
func (f *Frame) Outcome() (json.RawMessage, error) {
	if f.Error != nil {
		return nil, f.Error
	}

	results := nullable(f.Results)
	if re, ok := errors.AsErrorShaped(results); ok {
		return nil, re
	}
	return results, nil
}

func encodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Frame", "encode", "marshal "+string(f.Type)+" frame")
	}
	return data, nil
}

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapInvalid(errors.Join(errors.ErrDecode, err), "Frame", "decode", "unmarshal frame")
	}
	f.Results = nullable(f.Results)
	return &f, nil
}

var jsonNull = []byte("null")

// nullable maps an absent or JSON null value to nil.
func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil
	}
	return raw
}
