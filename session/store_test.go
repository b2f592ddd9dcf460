package session

import (
	"testing"
	"time"

	"github.com/sigcoord/coordinator/internal/timers"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	reg := timers.NewRegistry(nil)
	t.Cleanup(reg.Shutdown)
	return NewStore(reg, nil, 10*time.Millisecond)
}

func TestStore_CreateAndGetSession(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateSession(testConfig())
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID())

	got, ok := st.GetSession(sess.ID())
	require.True(t, ok)
	require.Equal(t, sess.ID(), got.ID())
}

func TestStore_CreateSessionRejectsThresholdAboveKeyCount(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()
	cfg.Threshold = 10
	_, err := st.CreateSession(cfg)
	require.Error(t, err)
}

func TestStore_AuthenticateChecksToken(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateSession(testConfig())
	require.NoError(t, err)

	_, err = st.Authenticate(sess.ID(), "wrong-token")
	require.Error(t, err)

	got, err := st.Authenticate(sess.ID(), "tok")
	require.NoError(t, err)
	require.Equal(t, sess.ID(), got.ID())
}

func TestStore_AuthenticateUnknownSession(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Authenticate("does-not-exist", "tok")
	require.Error(t, err)
}

func TestStore_SweepExpiresStaleSessions(t *testing.T) {
	reg := timers.NewRegistry(nil)
	defer reg.Shutdown()
	st := NewStore(reg, nil, 10*time.Millisecond)

	cfg := testConfig()
	cfg.SessionTimeout = time.Millisecond
	sess, err := st.CreateSession(cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sess.Status() == StatusExpired
	}, time.Second, 5*time.Millisecond)
}

func TestStore_DeleteSession(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateSession(testConfig())
	require.NoError(t, err)

	st.DeleteSession(sess.ID())
	_, ok := st.GetSession(sess.ID())
	require.False(t, ok)
}
