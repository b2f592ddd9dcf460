package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sigcoord/coordinator/storage"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndGetSession(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	sess := storage.PersistedSession{
		ID:        "s1",
		AuthToken: "tok",
		Threshold: 2,
		Status:    "waiting",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "waiting", got.Status)
}

func TestStore_UpdateStatusUnknownSession(t *testing.T) {
	s := NewStore()
	err := s.UpdateStatus(context.Background(), "ghost", "completed")
	require.Error(t, err)
}

func TestStore_DeleteExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, storage.PersistedSession{
		ID: "old", ExpiresAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, s.SaveSession(ctx, storage.PersistedSession{
		ID: "fresh", ExpiresAt: time.Now().Add(time.Hour),
	}))

	n, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "old")
	require.Error(t, err)
	_, err = s.GetSession(ctx, "fresh")
	require.NoError(t, err)
}

func TestStore_SaveSignatureIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	row := storage.SignatureRow{SessionID: "s1", PublicKey: "key-a", SignatureB64: "sig"}

	require.NoError(t, s.SaveSignature(ctx, row))
	require.NoError(t, s.SaveSignature(ctx, row))

	rows, err := s.ListSignatures(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
