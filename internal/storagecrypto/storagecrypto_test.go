package storagecrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipher_SealOpenRoundTrip(t *testing.T) {
	c, err := New([]byte("a master key of arbitrary length"))
	require.NoError(t, err)

	sealed, err := c.Seal("super-secret-auth-token")
	require.NoError(t, err)
	require.NotContains(t, sealed, "super-secret-auth-token")

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "super-secret-auth-token", opened)
}

func TestCipher_SealIsNondeterministic(t *testing.T) {
	c, err := New([]byte("key"))
	require.NoError(t, err)

	a, err := c.Seal("token")
	require.NoError(t, err)
	b, err := c.Seal("token")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "a fresh random nonce must be used per Seal call")
}

func TestCipher_OpenRejectsTamperedCiphertext(t *testing.T) {
	c, err := New([]byte("key"))
	require.NoError(t, err)

	sealed, err := c.Seal("token")
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 0x01
	_, err = c.Open(string(tampered))
	require.Error(t, err)
}

func TestCipher_DifferentMasterKeysDoNotInteroperate(t *testing.T) {
	c1, err := New([]byte("key-one"))
	require.NoError(t, err)
	c2, err := New([]byte("key-two"))
	require.NoError(t, err)

	sealed, err := c1.Seal("token")
	require.NoError(t, err)

	_, err = c2.Open(sealed)
	require.Error(t, err)
}
