package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode_RejectsEmptyFrame(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}

func TestDecode_RejectsOversizedFrame(t *testing.T) {
	oversized := bytes.Repeat([]byte("a"), MaxFrameSize+1)
	_, err := Decode(oversized)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecode_AcceptsExactlyAtLimit(t *testing.T) {
	head := []byte(`{"type":"PING","payload":{"pad":"`)
	tail := []byte(`"}}`)
	pad := bytes.Repeat([]byte("a"), MaxFrameSize-len(head)-len(tail))
	frame := append(append(head, pad...), tail...)
	require.Len(t, frame, MaxFrameSize)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, TypePing, decoded.Type)
}

func TestDecode_RejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	require.Error(t, err)
}

func TestDecode_RejectsNonObjectFrame(t *testing.T) {
	_, err := Decode([]byte(`"just a string"`))
	require.Error(t, err)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	req := AuthRequest{SessionID: "abc", AuthToken: "tok", Role: RoleParticipant}
	raw, err := Encode(TypeAuth, req)
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, TypeAuth, env.Type)

	var decoded AuthRequest
	require.NoError(t, DecodePayload(env, &decoded))
	require.Equal(t, req, decoded)
}

func TestKnownType(t *testing.T) {
	require.True(t, KnownType(TypeAuth))
	require.False(t, KnownType(Type("NOT_A_REAL_TYPE")))
}
