package verify

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func TestVerify_Ed25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("frozen-transaction-bytes")
	sig := SignEd25519(priv, msg)

	encodedPub := EncodePublicKey(KeyTypeEd25519, pub)
	ok, reason := Verify(encodedPub, msg, sig)
	require.True(t, ok)
	require.Equal(t, ReasonNone, reason)
}

func TestVerify_Ed25519WrongMessage(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	sig := SignEd25519(priv, []byte("original"))
	encodedPub := EncodePublicKey(KeyTypeEd25519, pub)

	ok, reason := Verify(encodedPub, []byte("tampered"), sig)
	require.False(t, ok)
	require.Equal(t, ReasonCryptoFailure, reason)
}

func TestVerify_Secp256k1RoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg := []byte("frozen-transaction-bytes")
	sig, err := SignSecp256k1(priv, msg)
	require.NoError(t, err)

	encodedPub := EncodePublicKey(KeyTypeSecp256k1, priv.PubKey().SerializeCompressed())
	ok, reason := Verify(encodedPub, msg, sig)
	require.True(t, ok)
	require.Equal(t, ReasonNone, reason)
}

func TestVerify_UnknownKeyType(t *testing.T) {
	ok, reason := Verify([]byte{0xFF, 1, 2, 3}, []byte("msg"), make([]byte, 64))
	require.False(t, ok)
	require.Equal(t, ReasonUnknownKeyType, reason)
}

func TestVerify_BadSignatureLength(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	encodedPub := EncodePublicKey(KeyTypeEd25519, pub)

	ok, reason := Verify(encodedPub, []byte("msg"), []byte{1, 2, 3})
	require.False(t, ok)
	require.Equal(t, ReasonBadSignatureLen, reason)
}

func TestVerify_EmptyKey(t *testing.T) {
	ok, reason := Verify(nil, []byte("msg"), make([]byte, 64))
	require.False(t, ok)
	require.Equal(t, ReasonEmptyKey, reason)
}

func TestDigest_IsDeterministic(t *testing.T) {
	a := Digest([]byte("hello"))
	b := Digest([]byte("hello"))
	require.Equal(t, a, b)

	c := Digest([]byte("world"))
	require.NotEqual(t, a, c)
}

func TestBase58_RoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	encodedPub := EncodePublicKey(KeyTypeEd25519, pub)

	b58 := EncodeBase58(encodedPub)
	require.NotEmpty(t, b58)

	decoded, err := DecodeBase58(b58)
	require.NoError(t, err)
	require.Equal(t, encodedPub, decoded)
}

func TestDecodeBase58_RejectsInvalidCharacters(t *testing.T) {
	_, err := DecodeBase58("not-valid-base58-0OIl")
	require.Error(t, err)
}
