package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopClient_AttachAndSubmit(t *testing.T) {
	c := NewNoopClient()
	ctx := context.Background()

	rawTx := []byte("transfer 10 coins")
	entries := []SignedEntry{
		{PublicKey: []byte("K1"), Signature: []byte("S1")},
		{PublicKey: []byte("K2"), Signature: []byte("S2")},
	}

	signed, err := c.AttachSignatures(ctx, rawTx, entries)
	require.NoError(t, err)
	require.Greater(t, len(signed), len(rawTx))

	result, err := c.Submit(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, "confirmed", result.Status)
	require.NotEmpty(t, result.TransactionID)
}

func TestNoopClient_SubmitIsDeterministic(t *testing.T) {
	c := NewNoopClient()
	ctx := context.Background()

	r1, err := c.Submit(ctx, []byte("same bytes"))
	require.NoError(t, err)
	r2, err := c.Submit(ctx, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, r1.TransactionID, r2.TransactionID)
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &ExecutionError{Reason: "timeout", Retryable: true, Cause: cause}
	require.ErrorIs(t, err, cause)
}
