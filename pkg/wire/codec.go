package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a logical message is not a well-formed
// envelope array.
var ErrMalformed = errors.New("malformed message")

// Envelope is one element of a decoded transmission. Body holds the raw
// message object so it can be decoded into the type the receiver expects.
type Envelope struct {
	Name string
	ID   uint32
	Body json.RawMessage
}

// Marshal encodes a value to JSON bytes.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON bytes into a value.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// EncodeEnvelope encodes msg under name as a single-element array.
func EncodeEnvelope(name string, msg Message) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("encode envelope: empty message name")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return json.Marshal([]map[string]json.RawMessage{{name: body}})
}

// Encode encodes msg under its own name (see NameOf).
func Encode(msg Message) ([]byte, error) {
	return EncodeEnvelope(NameOf(msg), msg)
}

// DecodeEnvelope splits a logical message into its envelopes. Every element
// must be an object with exactly one key whose value carries a numeric Id;
// the first bad element fails the whole message.
func DecodeEnvelope(data []byte) ([]Envelope, error) {
	envs, errs := DecodeBundle(data)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return envs, nil
}

// DecodeBundle is the lenient form of DecodeEnvelope. Elements are decoded
// one at a time: the well-formed ones are returned in order and every bad
// one adds an error wrapping ErrMalformed. A payload that is not an array
// yields no envelopes and a single error.
func DecodeBundle(data []byte) ([]Envelope, []error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, []error{fmt.Errorf("%w: not an array", ErrMalformed)}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, []error{fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	var (
		out  = make([]Envelope, 0, len(elems))
		errs []error
	)
	for i, raw := range elems {
		env, err := decodeElement(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: element %d: %v", ErrMalformed, i, err))
			continue
		}
		out = append(out, env)
	}
	return out, errs
}

func decodeElement(raw json.RawMessage) (Envelope, error) {
	var elem map[string]json.RawMessage
	if err := json.Unmarshal(raw, &elem); err != nil {
		return Envelope{}, err
	}
	if len(elem) != 1 {
		return Envelope{}, fmt.Errorf("%d keys", len(elem))
	}
	var env Envelope
	for name, body := range elem {
		env.Name, env.Body = name, body
	}
	var hdr struct {
		ID *uint32 `json:"Id"`
	}
	if err := json.Unmarshal(env.Body, &hdr); err != nil {
		return Envelope{}, fmt.Errorf("%s: %v", env.Name, err)
	}
	if hdr.ID == nil {
		return Envelope{}, fmt.Errorf("%s: missing Id", env.Name)
	}
	env.ID = *hdr.ID
	return env, nil
}

// DecodeResult tags the outcome of decoding a reply.
type DecodeResult uint8

const (
	DecodeOK DecodeResult = iota
	DecodeShapeMismatch
	DecodeParseFailure
)

// String returns the result name.
func (r DecodeResult) String() string {
	switch r {
	case DecodeOK:
		return "OK"
	case DecodeShapeMismatch:
		return "SHAPE_MISMATCH"
	case DecodeParseFailure:
		return "PARSE_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// DecodeReply decodes env into into if env carries the expected name.
// The error is non-nil for every result other than DecodeOK.
func DecodeReply(env Envelope, expect string, into Message) (DecodeResult, error) {
	if env.Name != expect {
		return DecodeShapeMismatch, fmt.Errorf("expected %s, got %s", expect, env.Name)
	}
	if err := json.Unmarshal(env.Body, into); err != nil {
		return DecodeParseFailure, fmt.Errorf("decode %s: %w", env.Name, err)
	}
	return DecodeOK, nil
}
