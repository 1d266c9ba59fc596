package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	OutboundTypeError = "error"
)

// Payload is a decoded JSON document: maps, slices, strings, json.Number, bools or nil.
// The relay never looks inside it.
type Payload = any

// Decode parses exactly one JSON document from data.
// Numbers are kept as json.Number so they re-encode without float rounding.
func Decode(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return payload, nil
}

// Encode serializes a payload for the wire without HTML escaping.
func Encode(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Outbound is the envelope for relay-generated messages sent back to the sender.
// Relayed payloads are written as-is and never wrapped.
type Outbound struct {
	Type  string `json:"type"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// ErrorFrame builds the acknowledgement sent to a client whose message was rejected.
func ErrorFrame(code, msg string) Outbound {
	return Outbound{Type: OutboundTypeError, Error: &Error{Code: code, Msg: msg}}
}
