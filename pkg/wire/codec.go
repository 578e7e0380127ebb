package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnauthorized marks an envelope whose token does not match the configured
// secret. Callers drop these silently; other tenants sharing the exchange are
// expected, not an error condition.
var ErrUnauthorized = errors.New("envelope token mismatch")

// Codec translates between in-memory messages and their wire text form.
type Codec struct {
	token string
}

// NewCodec returns a codec that validates inbound envelopes against token.
func NewCodec(token string) *Codec {
	return &Codec{token: token}
}

// Encode serializes a message to its wire text form.
func (c *Codec) Encode(msg any) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding %T: %w", msg, err)
	}
	return string(data), nil
}

// DecodeHeader parses the envelope header of an inbound body and validates
// its token. A decode failure and a token mismatch are distinct conditions:
// the former is malformed input worth logging, the latter is expected
// multi-tenant noise.
func (c *Codec) DecodeHeader(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if e.Token != c.token {
		return Envelope{}, ErrUnauthorized
	}
	return e, nil
}

// DecodeChat parses a full chat message body.
func (c *Codec) DecodeChat(body []byte) (*Chat, error) {
	var m Chat
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decoding chat: %w", err)
	}
	if m.Token != c.token {
		return nil, ErrUnauthorized
	}
	return &m, nil
}

// DecodeCommand parses a full command body and validates its variant tag.
func (c *Codec) DecodeCommand(body []byte) (*Command, error) {
	var m Command
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	if m.Token != c.token {
		return nil, ErrUnauthorized
	}
	return &m, nil
}
