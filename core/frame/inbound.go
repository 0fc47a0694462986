// Package frame defines the closed set of wire frames exchanged with a
// connected client. One frame is one JSON object; anything outside the
// enumerated shapes is rejected at the boundary.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// InboundType enumerates the accepted inbound frame kinds.
type InboundType string

const (
	InboundText  InboundType = "text"
	InboundAudio InboundType = "audio"
)

// Sentinel errors for inbound frame decoding.
var (
	ErrMalformed       = errors.New("malformed frame")
	ErrUnsupportedType = errors.New("unsupported frame type")
)

// Inbound is a decoded client frame. UserID is optional; the session layer
// substitutes an anonymous placeholder when it is empty.
type Inbound struct {
	Type    InboundType `json:"type"`
	Content string      `json:"content"`
	UserID  string      `json:"user_id,omitempty"`
}

// DecodeInbound parses raw bytes into an Inbound frame. Unknown fields and
// non-object payloads fail with ErrMalformed; a type value outside the
// enumerated set fails with ErrUnsupportedType (the frame is otherwise
// intact, so callers can report the offending type).
func DecodeInbound(data []byte) (Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var in Inbound
	if err := dec.Decode(&in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch in.Type {
	case InboundText, InboundAudio:
		return in, nil
	default:
		return in, fmt.Errorf("%w: %q", ErrUnsupportedType, in.Type)
	}
}
