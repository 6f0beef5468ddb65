// Package content encodes message bodies into the persisted body envelope.
//
// Stores keep a message body and its metadata together in a single text
// column (body_json) using this layout:
//
//	{"body": "<text>", "metadata": {...}}
//
// Reading is lenient. A stored value that is not a JSON object with a
// string "body" is treated as a legacy plain-text body: the raw string
// becomes the body and metadata is empty. Decode never fails.
//
// Metadata is decoded with json.Number for numeric values so that numbers
// round-trip without float conversion.
//
// # Usage
//
//	raw, err := content.Encode(msg.Body, msg.Metadata)
//	// store raw in body_json
//
//	env := content.Decode(raw)
//	msg.Body, msg.Metadata = env.Body, env.Metadata
package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrEncoding is returned when metadata cannot be serialized.
	ErrEncoding = errors.New("content: encoding failed")

	// ErrMalformed is returned by DecodeStrict for values that are not a
	// valid envelope.
	ErrMalformed = errors.New("content: malformed envelope")
)

// Envelope is the decoded form of a stored body.
type Envelope struct {
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata"`
}

// Encode serializes body and metadata into the envelope layout.
// A nil metadata map is written as an empty object.
func Encode(body string, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Envelope{Body: body, Metadata: metadata}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Decode parses a stored envelope. Values that are not a valid envelope
// decode to the raw string as body with empty metadata.
func Decode(raw string) Envelope {
	env, err := DecodeStrict(raw)
	if err != nil {
		return Envelope{Body: raw, Metadata: map[string]any{}}
	}
	return env
}

// DecodeStrict parses a stored envelope and reports ErrMalformed when raw
// is not a JSON object with a string body. Metadata that is missing or
// not an object decodes as an empty map.
func DecodeStrict(raw string) (Envelope, error) {
	var doc struct {
		Body     *string         `json:"body"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc.Body == nil {
		return Envelope{}, fmt.Errorf("%w: missing body", ErrMalformed)
	}

	env := Envelope{Body: *doc.Body, Metadata: map[string]any{}}
	if len(doc.Metadata) > 0 {
		dec := json.NewDecoder(bytes.NewReader(doc.Metadata))
		dec.UseNumber()
		var meta map[string]any
		if err := dec.Decode(&meta); err == nil && meta != nil {
			env.Metadata = meta
		}
	}
	return env, nil
}
