// Package coordinator implements the SessionManager: the pure-logic
// orchestration layer that resolves a session, applies one store mutation,
// computes the resulting broadcast fan-out, and invokes the ledger client
// once a threshold is met. Manager is the pure-logic half and
// transport/ws.ConnectionServer is the I/O half; the two communicate only
// through Manager's method surface inbound and its event channel outbound.
package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sigcoord/coordinator/internal/coordinatorlog"
	"github.com/sigcoord/coordinator/internal/coordinatormetrics"
	"github.com/sigcoord/coordinator/internal/storagecrypto"
	"github.com/sigcoord/coordinator/internal/timers"
	"github.com/sigcoord/coordinator/ledger"
	"github.com/sigcoord/coordinator/ratelimit"
	"github.com/sigcoord/coordinator/session"
	"github.com/sigcoord/coordinator/storage"
	"github.com/sigcoord/coordinator/verify"
)

// executionGraceMargin is subtracted from session.ExecutionWindow so the
// ledger call finishes before the ledger-side validity window closes.
const executionGraceMargin = 10 * time.Second

// Manager ties the session store to the rate limiter, crypto verifier,
// ledger client, and optional persistent store, publishing Events for the
// transport layer to turn into wire broadcasts.
type Manager struct {
	store     *session.Store
	limiter   *ratelimit.Limiter
	timers    *timers.Registry
	ledger    ledger.Client
	persister storage.SessionPersister // may be nil (memory-only)
	metrics   *coordinatormetrics.Metrics // may be nil
	log       coordinatorlog.Logger
	tokenCipher *storagecrypto.Cipher // may be nil: auth tokens persisted in the clear

	events chan Event

	mu              sync.Mutex
	executionTimers map[string]timers.Handle // sessionID -> execution-window handle
}

// WithTokenCipher seals every auth token written through the persister
// with cipher instead of storing it in the clear. Optional; call before
// the manager starts serving traffic.
func (m *Manager) WithTokenCipher(cipher *storagecrypto.Cipher) *Manager {
	m.tokenCipher = cipher
	return m
}

// NewManager constructs a Manager. persister and metrics may be nil.
func NewManager(
	store *session.Store,
	limiter *ratelimit.Limiter,
	reg *timers.Registry,
	ledgerClient ledger.Client,
	persister storage.SessionPersister,
	metrics *coordinatormetrics.Metrics,
	log coordinatorlog.Logger,
) *Manager {
	if log == nil {
		log = coordinatorlog.GetDefaultLogger()
	}
	m := &Manager{
		store:           store,
		limiter:         limiter,
		timers:          reg,
		ledger:          ledgerClient,
		persister:       persister,
		metrics:         metrics,
		log:             log,
		events:          make(chan Event, 256),
		executionTimers: make(map[string]timers.Handle),
	}
	store.SetExpiryHook(m.onSessionExpired)
	return m
}

// Events returns the channel the transport layer drains to learn what to
// broadcast or unicast.
func (m *Manager) Events() <-chan Event { return m.events }

// CreateSession allocates a new session and, when a persistent store is
// attached, writes it through immediately.
func (m *Manager) CreateSession(ctx context.Context, cfg session.Config) (*session.Session, error) {
	sess, err := m.store.CreateSession(cfg)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
	}
	if m.persister != nil {
		threshold, _, expected, status, expiresAt := sess.Info()
		authToken := sess.AuthToken()
		if m.tokenCipher != nil {
			sealed, err := m.tokenCipher.Seal(authToken)
			if err != nil {
				m.log.Error("seal auth token failed", coordinatorlog.String("session_id", sess.ID()), coordinatorlog.Error(err))
			} else {
				authToken = sealed
			}
		}
		if err := m.persister.SaveSession(ctx, storage.PersistedSession{
			ID:                   sess.ID(),
			AuthToken:            authToken,
			Threshold:            threshold,
			EligibleKeys:         cfg.EligibleKeys,
			ExpectedParticipants: expected,
			Status:               string(status),
			CreatedAt:            time.Now(),
			ExpiresAt:            expiresAt,
		}); err != nil {
			m.log.Error("persist new session failed", coordinatorlog.String("session_id", sess.ID()), coordinatorlog.Error(err))
		}
	}
	return sess, nil
}

// Authenticate processes an AUTH frame: it consults the rate limiter keyed
// by sourceKey (the connection's remote address or similar caller-chosen
// identity) before ever touching the session store, then checks the
// session's auth token.
func (m *Manager) Authenticate(sourceKey, sessionID, authToken, label string) (*session.Session, *session.Participant, *coordinatorlog.CoordinatorError) {
	if !m.limiter.Allow(sourceKey) {
		m.recordAuthAttempt("rate_limited")
		return nil, nil, coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeRateLimited, "too many attempts", nil)
	}

	sess, err := m.store.Authenticate(sessionID, authToken)
	if err != nil {
		m.recordAuthAttempt("bad_token")
		return nil, nil, coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeAuthentication, "invalid session or auth token", err)
	}

	participant := &session.Participant{
		ID:       uuid.NewString(), // always fresh, never reused across reconnects
		Label:    label,
		Status:   session.ParticipantConnected,
		JoinedAt: time.Now(),
	}
	sess.AddParticipant(participant)
	m.recordAuthAttempt("success")
	if m.metrics != nil {
		m.metrics.ParticipantConns.Inc()
	}

	m.publish(Event{
		SessionID: sess.ID(),
		Kind:      EventParticipantConnected,
		Broadcast: true,
		Payload:   ParticipantConnectedPayload{ParticipantID: participant.ID, Label: participant.Label},
	})
	return sess, participant, nil
}

func (m *Manager) recordAuthAttempt(outcome string) {
	if m.metrics != nil {
		m.metrics.AuthAttempts.WithLabelValues(outcome).Inc()
	}
}

// ParticipantReady processes a PARTICIPANT_READY frame.
func (m *Manager) ParticipantReady(sessionID, participantID, publicKey string) (allReady bool, cerr *coordinatorlog.CoordinatorError) {
	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		return false, coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeValidation, "unknown session", nil)
	}
	allReady, err := sess.SetParticipantReady(participantID, publicKey)
	if err != nil {
		return false, coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeValidation, err.Error(), err)
	}
	m.publish(Event{
		SessionID: sessionID,
		Kind:      EventParticipantReady,
		Broadcast: true,
		Payload:   ParticipantReadyPayload{ParticipantID: participantID, AllReady: allReady},
	})
	return allReady, nil
}

// InjectTransaction freezes txBytes into the session exactly once, and
// arms the 110-second (120s minus the 10s safety margin) execution-window
// timer that forces the session to `failed{transaction_window_exceeded}`
// if it hasn't reached a terminal status by then.
func (m *Manager) InjectTransaction(sessionID string, txBytes []byte, summary string) *coordinatorlog.CoordinatorError {
	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		return coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeValidation, "unknown session", nil)
	}

	now := time.Now()
	if err := sess.InjectTransaction(&session.FrozenTransaction{Bytes: txBytes, Summary: summary, InjectedAt: now}); err != nil {
		return coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeAlreadyInjected, "transaction already injected", err)
	}

	deadline := now.Add(session.ExecutionWindow - executionGraceMargin)
	sess.ExtendExpiry(deadline)

	handle := m.timers.AfterFunc("execution-window:"+sessionID, "coordinator", session.ExecutionWindow-executionGraceMargin, func() {
		m.enforceExecutionWindow(sessionID)
	})
	m.mu.Lock()
	m.executionTimers[sessionID] = handle
	m.mu.Unlock()

	digest := verify.Digest(txBytes)
	m.publish(Event{
		SessionID: sessionID,
		Kind:      EventTransactionReceived,
		Broadcast: true,
		Payload:   TransactionReceivedPayload{TxBytes: txBytes, Summary: summary, Digest: digest},
	})
	return nil
}

// SubmitSignature processes a SIGNATURE_SUBMIT frame. publicKeyB64 and
// signatureB64 are base64-encoded: publicKeyB64 is verify's self-describing
// key form, matching the textual form eligible_keys is configured with.
func (m *Manager) SubmitSignature(sessionID, participantID, publicKeyB64, signatureB64 string) (session.AddSignatureResult, *coordinatorlog.CoordinatorError) {
	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		return session.AddSignatureResult{}, coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeValidation, "unknown session", nil)
	}

	tx := sess.Transaction()
	if tx != nil && sess.IsEligibleKey(publicKeyB64) {
		if result := m.verifyOrReject(sess, tx, publicKeyB64, signatureB64); result != nil {
			m.recordSignatureOutcome(string(result.Outcome))
			return *result, nil
		}
	}

	submittedAt := time.Now()
	result := sess.AddSignature(publicKeyB64, session.SignatureRecord{
		PublicKey:     publicKeyB64,
		SignatureB64:  signatureB64,
		ParticipantID: participantID,
		SubmittedAt:   submittedAt,
	})
	m.recordSignatureOutcome(string(result.Outcome))

	if result.Outcome == session.SignatureAccepted && m.persister != nil {
		if err := m.persister.SaveSignature(context.Background(), storage.SignatureRow{
			SessionID:     sessionID,
			PublicKey:     publicKeyB64,
			SignatureB64:  signatureB64,
			ParticipantID: participantID,
			SubmittedAt:   submittedAt,
		}); err != nil {
			m.log.Error("persist signature failed", coordinatorlog.String("session_id", sessionID), coordinatorlog.Error(err))
		}
	}

	if result.ThresholdMet {
		if m.metrics != nil {
			if injectedAt := tx.InjectedAt; !injectedAt.IsZero() {
				m.metrics.ObserveThresholdLatency(time.Since(injectedAt))
			}
		}
		m.publish(Event{SessionID: sessionID, Kind: EventThresholdMet, Broadcast: true, Payload: ThresholdMetPayload{Threshold: sess.Stats().Threshold}})
		go m.executeSession(sess)
	}
	return result, nil
}

// verifyOrReject runs crypto verification and returns a non-nil
// AddSignatureResult{Outcome: SignatureInvalid} if it fails, leaving the
// session untouched: an invalid signature never mutates session state.
// A nil return means verification succeeded (or wasn't attempted) and the
// caller should proceed to session.AddSignature for the authoritative
// state-machine checks (not_ready, ineligible, duplicate).
func (m *Manager) verifyOrReject(sess *session.Session, tx *session.FrozenTransaction, publicKeyB64, signatureB64 string) *session.AddSignatureResult {
	pubBytes, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return &session.AddSignatureResult{Outcome: session.SignatureInvalid}
	}
	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return &session.AddSignatureResult{Outcome: session.SignatureInvalid}
	}
	ok, reason := verify.Verify(pubBytes, tx.Bytes, sigBytes)
	if !ok {
		m.log.Warn("signature failed verification",
			coordinatorlog.String("session_id", sess.ID()),
			coordinatorlog.String("reason", string(reason)),
		)
		return &session.AddSignatureResult{Outcome: session.SignatureInvalid}
	}
	return nil
}

func (m *Manager) recordSignatureOutcome(outcome string) {
	if m.metrics != nil {
		m.metrics.SignaturesTotal.WithLabelValues(outcome).Inc()
	}
}

// RejectTransaction processes a participant-initiated TRANSACTION_REJECTED
// frame: the session moves to failed and every participant is notified.
func (m *Manager) RejectTransaction(sessionID, participantID, reason string) *coordinatorlog.CoordinatorError {
	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		return coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeValidation, "unknown session", nil)
	}
	_ = sess.UpdateParticipantStatus(participantID, session.ParticipantRejected)
	m.cancelExecutionTimer(sessionID)
	sess.SetStatus(session.StatusFailed)
	m.finalizeSession(sess, "failed")

	m.publish(Event{
		SessionID: sessionID,
		Kind:      EventSessionExpired,
		Broadcast: true,
		Payload:   SessionExpiredPayload{Reason: fmt.Sprintf("participant_rejected: %s", reason)},
	})
	return nil
}

// Disconnect marks participantID disconnected without mutating session
// status: a dropped connection never fails a session, the participant may
// reconnect and be re-counted.
func (m *Manager) Disconnect(sessionID, participantID string) {
	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		return
	}
	sess.RemoveParticipant(participantID)
	if m.metrics != nil {
		m.metrics.ParticipantConns.Dec()
	}
	m.publish(Event{
		SessionID: sessionID,
		Kind:      EventParticipantDisconnected,
		Broadcast: true,
		Payload:   ParticipantDisconnectedPayload{ParticipantID: participantID},
	})
}

// executeSession attaches signatures and submits to the ledger, running in
// its own goroutine so SubmitSignature never blocks on network I/O. Safe
// to call only once per session since ThresholdMet is exactly-once.
func (m *Manager) executeSession(sess *session.Session) {
	sess.SetStatus(session.StatusExecuting)

	ctx, cancel := context.WithDeadline(context.Background(), sess.ExpiresAt())
	defer cancel()

	tx := sess.Transaction()
	entries := signedEntriesFrom(sess)

	signedTx, err := m.ledger.AttachSignatures(ctx, tx.Bytes, entries)
	if err != nil {
		m.failExecution(sess, "execution_failed", err)
		return
	}

	result, err := m.ledger.Submit(ctx, signedTx)
	if err != nil {
		m.failExecution(sess, "execution_failed", err)
		return
	}

	m.cancelExecutionTimer(sess.ID())
	sess.SetStatus(session.StatusCompleted)
	m.finalizeSession(sess, "completed")
	if m.metrics != nil {
		m.metrics.LedgerSubmits.WithLabelValues("success").Inc()
	}
	m.publish(Event{
		SessionID: sess.ID(),
		Kind:      EventTransactionExecuted,
		Broadcast: true,
		Payload:   result,
	})
}

func (m *Manager) failExecution(sess *session.Session, reason string, cause error) {
	m.cancelExecutionTimer(sess.ID())
	sess.SetStatus(session.StatusFailed)
	m.finalizeSession(sess, "failed")
	if m.metrics != nil {
		m.metrics.LedgerSubmits.WithLabelValues("failure").Inc()
	}
	m.log.Error("ledger execution failed", coordinatorlog.String("session_id", sess.ID()), coordinatorlog.Error(cause))
	m.publish(Event{
		SessionID: sess.ID(),
		Kind:      EventError,
		Broadcast: true,
		Payload:   ErrorEventPayload{Err: coordinatorlog.NewCoordinatorError(coordinatorlog.ErrCodeExecutionFailed, reason, cause)},
	})
}

func signedEntriesFrom(sess *session.Session) []ledger.SignedEntry {
	records := sess.Signatures()
	entries := make([]ledger.SignedEntry, 0, len(records))
	for _, rec := range records {
		pubBytes, err := base64.StdEncoding.DecodeString(rec.PublicKey)
		if err != nil {
			continue
		}
		sigBytes, err := base64.StdEncoding.DecodeString(rec.SignatureB64)
		if err != nil {
			continue
		}
		entries = append(entries, ledger.SignedEntry{PublicKey: pubBytes, Signature: sigBytes})
	}
	return entries
}

// enforceExecutionWindow is the TimerRegistry callback armed by
// InjectTransaction. If the session hasn't reached a terminal status by
// the deadline, it fails with transaction_window_exceeded.
func (m *Manager) enforceExecutionWindow(sessionID string) {
	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		return
	}
	if sess.Status().Terminal() {
		return
	}
	sess.SetStatus(session.StatusFailed)
	m.finalizeSession(sess, "failed")
	m.publish(Event{
		SessionID: sessionID,
		Kind:      EventSessionExpired,
		Broadcast: true,
		Payload:   SessionExpiredPayload{Reason: "transaction_window_exceeded"},
	})
}

func (m *Manager) onSessionExpired(sess *session.Session) {
	m.finalizeSession(sess, "expired")
	m.publish(Event{
		SessionID: sess.ID(),
		Kind:      EventSessionExpired,
		Broadcast: true,
		Payload:   SessionExpiredPayload{Reason: "expired"},
	})
}

func (m *Manager) finalizeSession(sess *session.Session, status string) {
	if m.metrics != nil {
		m.metrics.SessionsCompleted.WithLabelValues(status).Inc()
	}
	if m.persister != nil {
		if err := m.persister.UpdateStatus(context.Background(), sess.ID(), status); err != nil {
			m.log.Error("persist session status failed", coordinatorlog.String("session_id", sess.ID()), coordinatorlog.Error(err))
		}
	}
}

func (m *Manager) cancelExecutionTimer(sessionID string) {
	m.mu.Lock()
	handle, ok := m.executionTimers[sessionID]
	delete(m.executionTimers, sessionID)
	m.mu.Unlock()
	if ok {
		m.timers.Cancel(handle)
	}
}

// Shutdown broadcasts SESSION_EXPIRED on every non-terminal session and
// cancels outstanding execution-window timers. The caller is responsible
// for stopping the ConnectionServer's accept loop and the TimerRegistry
// itself.
func (m *Manager) Shutdown() {
	for _, sess := range m.store.ListSessions() {
		if sess.Status().Terminal() {
			continue
		}
		m.cancelExecutionTimer(sess.ID())
		sess.SetStatus(session.StatusExpired)
		m.publish(Event{
			SessionID: sess.ID(),
			Kind:      EventSessionExpired,
			Broadcast: true,
			Payload:   SessionExpiredPayload{Reason: "shutdown"},
		})
	}
}
