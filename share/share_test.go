package share

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	info := Info{ServerURL: "wss://coordinator.example.com:8443", SessionID: "sess-123", AuthToken: "tok-abc"}

	s, err := Encode(info)
	require.NoError(t, err)
	require.Contains(t, s, prefix)

	got, err := Decode(s)
	require.NoError(t, err)
	require.Equal(t, info, got)
}

func TestDecode_RejectsMissingPrefix(t *testing.T) {
	_, err := Decode("not-a-share-string")
	require.Error(t, err)
}

func TestDecode_RejectsMalformedBase64(t *testing.T) {
	_, err := Decode(prefix + "!!!not-base64!!!")
	require.Error(t, err)
}

func TestDecode_RejectsMissingFields(t *testing.T) {
	s, err := Encode(Info{ServerURL: "wss://x", SessionID: "", AuthToken: "tok"})
	require.NoError(t, err)

	_, err = Decode(s)
	require.Error(t, err)
}
