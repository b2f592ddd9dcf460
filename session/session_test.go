package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Threshold:            2,
		EligibleKeys:         []string{"key-a", "key-b", "key-c"},
		ExpectedParticipants: 3,
		AuthToken:            "tok",
		SessionTimeout:       time.Minute,
	}
}

func TestSession_AuthTokenUsesConfigValueWhenSet(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	require.Equal(t, "tok", sess.AuthToken())
	require.True(t, sess.CheckAuthToken("tok"))
}

func TestSession_AuthTokenAutoGeneratedWhenBlank(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = ""
	sess := NewSession("s1", cfg, time.Now())
	require.NotEmpty(t, sess.AuthToken())
	require.True(t, sess.CheckAuthToken(sess.AuthToken()))

	other := NewSession("s2", cfg, time.Now())
	require.NotEqual(t, sess.AuthToken(), other.AuthToken(), "each auto-generated token must be unique")
}

func TestSession_AddParticipantAndReady(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	sess.AddParticipant(&Participant{ID: "p1", Status: ParticipantConnected})
	sess.AddParticipant(&Participant{ID: "p2", Status: ParticipantConnected})
	sess.AddParticipant(&Participant{ID: "p3", Status: ParticipantConnected})

	allReady, err := sess.SetParticipantReady("p1", "key-a")
	require.NoError(t, err)
	require.False(t, allReady)

	allReady, err = sess.SetParticipantReady("p2", "key-b")
	require.NoError(t, err)
	require.False(t, allReady)

	allReady, err = sess.SetParticipantReady("p3", "key-c")
	require.NoError(t, err)
	require.True(t, allReady)
}

func TestSession_SetParticipantReadyUnknown(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	_, err := sess.SetParticipantReady("ghost", "key-a")
	require.Error(t, err)
}

func TestSession_InjectTransactionOnce(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	require.NoError(t, sess.InjectTransaction(&FrozenTransaction{Bytes: []byte("tx")}))
	require.Equal(t, StatusTransactionReceived, sess.Status())

	err := sess.InjectTransaction(&FrozenTransaction{Bytes: []byte("tx2")})
	require.Error(t, err)
}

func TestSession_AddSignatureBeforeTransactionIsNotReady(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	result := sess.AddSignature("key-a", SignatureRecord{PublicKey: "key-a", SignatureB64: "sig1"})
	require.Equal(t, SignatureNotReady, result.Outcome)
}

func TestSession_AddSignatureIneligibleSigner(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	require.NoError(t, sess.InjectTransaction(&FrozenTransaction{Bytes: []byte("tx")}))

	result := sess.AddSignature("key-z", SignatureRecord{PublicKey: "key-z", SignatureB64: "sig1"})
	require.Equal(t, SignatureIneligible, result.Outcome)
}

func TestSession_AddSignatureReachesThresholdExactlyOnce(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	require.NoError(t, sess.InjectTransaction(&FrozenTransaction{Bytes: []byte("tx")}))

	r1 := sess.AddSignature("key-a", SignatureRecord{PublicKey: "key-a", SignatureB64: "sig-a"})
	require.Equal(t, SignatureAccepted, r1.Outcome)
	require.False(t, r1.ThresholdMet)
	require.Equal(t, StatusSigning, sess.Status())

	r2 := sess.AddSignature("key-b", SignatureRecord{PublicKey: "key-b", SignatureB64: "sig-b"})
	require.Equal(t, SignatureAccepted, r2.Outcome)
	require.True(t, r2.ThresholdMet)
	require.Equal(t, StatusThresholdMet, sess.Status())

	r3 := sess.AddSignature("key-c", SignatureRecord{PublicKey: "key-c", SignatureB64: "sig-c"})
	require.Equal(t, SignatureNotReady, r3.Outcome, "a signature arriving after threshold_met is not_ready")
	require.False(t, r3.ThresholdMet, "threshold must only fire on the signature that first crosses it")
}

func TestSession_AddSignatureDuplicateSigner(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	require.NoError(t, sess.InjectTransaction(&FrozenTransaction{Bytes: []byte("tx")}))

	sess.AddSignature("key-a", SignatureRecord{PublicKey: "key-a", SignatureB64: "sig-a"})
	result := sess.AddSignature("key-a", SignatureRecord{PublicKey: "key-a", SignatureB64: "sig-a-different"})
	require.Equal(t, SignatureDuplicateSigner, result.Outcome)
}

func TestSession_AddSignatureIdempotentReplay(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	require.NoError(t, sess.InjectTransaction(&FrozenTransaction{Bytes: []byte("tx")}))

	sess.AddSignature("key-a", SignatureRecord{PublicKey: "key-a", SignatureB64: "sig-a"})
	result := sess.AddSignature("key-a", SignatureRecord{PublicKey: "key-a", SignatureB64: "sig-a"})
	require.Equal(t, SignatureAlreadyAccepted, result.Outcome)
}

func TestSession_ConcurrentSignaturesThresholdFiresOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 2
	sess := NewSession("s1", cfg, time.Now())
	require.NoError(t, sess.InjectTransaction(&FrozenTransaction{Bytes: []byte("tx")}))

	keys := []string{"key-a", "key-b", "key-c"}
	results := make(chan AddSignatureResult, len(keys))
	for _, k := range keys {
		go func(key string) {
			results <- sess.AddSignature(key, SignatureRecord{PublicKey: key, SignatureB64: "sig-" + key})
		}(k)
	}

	metCount := 0
	for i := 0; i < len(keys); i++ {
		r := <-results
		if r.ThresholdMet {
			metCount++
		}
	}
	require.Equal(t, 1, metCount)
}

func TestSession_RemoveParticipantMarksDisconnected(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	sess.AddParticipant(&Participant{ID: "p1", Status: ParticipantConnected})
	sess.RemoveParticipant("p1")

	for _, p := range sess.Participants() {
		if p.ID == "p1" {
			require.Equal(t, ParticipantDisconnected, p.Status)
		}
	}
}

func TestSession_StatsSnapshot(t *testing.T) {
	sess := NewSession("s1", testConfig(), time.Now())
	sess.AddParticipant(&Participant{ID: "p1", Status: ParticipantConnected})
	sess.SetParticipantReady("p1", "key-a")

	stats := sess.Stats()
	require.Equal(t, 1, stats.ParticipantCount)
	require.Equal(t, 1, stats.ReadyCount)
	require.Equal(t, 2, stats.Threshold)
}
