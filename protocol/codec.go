package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxFrameSize is the hard cap on an inbound frame; anything larger is
// dropped and the connection closed.
const MaxFrameSize = 5 * 1024 * 1024 // 5 MiB

// ErrFrameTooLarge is returned by Decode when raw exceeds MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds %d byte limit", MaxFrameSize)

// Decode parses a raw frame into an Envelope, enforcing the size cap and
// well-formedness: a non-empty, JSON-object frame carrying a "type" field.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame missing required field: type")
	}
	return &env, nil
}

// Encode wraps a typed payload into an Envelope and marshals it.
func Encode(t Type, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{Type: t, Payload: payloadBytes}
	return json.Marshal(env)
}

// DecodePayload unmarshals an Envelope's payload into dst.
func DecodePayload(env *Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", env.Type, err)
	}
	return nil
}

// KnownType reports whether t is one of the coordinator's recognized
// inbound message types. Unknown types are rejected with ERROR but do not
// close the connection.
func KnownType(t Type) bool {
	switch t {
	case TypeAuth, TypeParticipantReady, TypeSignatureSubmit, TypeTransactionReceived, TypeTransactionRejected, TypePing, TypePong:
		return true
	default:
		return false
	}
}
