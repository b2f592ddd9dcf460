package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one M-of-N signing round. Every mutation goes through its own
// mutex, which is what gives exactly-once threshold detection and idempotent
// duplicate-signature handling their correctness: the store never mutates a
// session's fields directly, only through these methods.
type Session struct {
	mu sync.Mutex

	id                   string
	authToken            string
	threshold            int
	eligibleKeys         map[string]struct{}
	expectedParticipants int

	status    Status
	createdAt time.Time
	expiresAt time.Time

	participants map[string]*Participant // keyed by participant ID
	signatures   map[string]SignatureRecord // keyed by public key

	transaction *FrozenTransaction
}

// NewSession builds a fresh session in StatusWaiting.
func NewSession(id string, cfg Config, now time.Time) *Session {
	eligible := make(map[string]struct{}, len(cfg.EligibleKeys))
	for _, k := range cfg.EligibleKeys {
		eligible[k] = struct{}{}
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	authToken := cfg.AuthToken
	if authToken == "" {
		authToken = uuid.NewString()
	}
	return &Session{
		id:                   id,
		authToken:            authToken,
		threshold:            cfg.Threshold,
		eligibleKeys:         eligible,
		expectedParticipants: cfg.ExpectedParticipants,
		status:               StatusWaiting,
		createdAt:            now,
		expiresAt:            now.Add(timeout),
		participants:         make(map[string]*Participant),
		signatures:           make(map[string]SignatureRecord),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CheckAuthToken reports whether token matches this session's auth token.
func (s *Session) CheckAuthToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authToken == token
}

// AuthToken returns the session's auth token, generated at creation time
// when the caller's Config left it blank. Used to build the hmsc: share
// string handed to operators after a session is created.
func (s *Session) AuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authToken
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExpiresAt returns the session's current deadline.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// IsEligibleKey reports whether publicKey is in the eligible set.
func (s *Session) IsEligibleKey(publicKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.eligibleKeys[publicKey]
	return ok
}

// Stats returns a consistent snapshot of the session's counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ready := 0
	for _, p := range s.participants {
		if p.Status == ParticipantReady || p.Status == ParticipantSigned {
			ready++
		}
	}
	return Stats{
		ParticipantCount: len(s.participants),
		ReadyCount:       ready,
		SignatureCount:   len(s.signatures),
		Threshold:        s.threshold,
	}
}

// Info returns the public SessionInfo-shaped fields callers surface on the
// wire without importing the protocol package from here.
func (s *Session) Info() (threshold, eligibleKeyCount, expectedParticipants int, status Status, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold, len(s.eligibleKeys), s.expectedParticipants, s.status, s.expiresAt
}

// AddParticipant registers a newly authenticated participant. Joining never
// changes session status by itself; status advances on transaction
// injection and signing, not on headcount.
func (s *Session) AddParticipant(p *Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
}

// UpdateParticipantStatus sets a participant's review status (reviewing,
// rejected, ...) without touching session-level state.
func (s *Session) UpdateParticipantStatus(participantID string, status ParticipantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return fmt.Errorf("unknown participant %q", participantID)
	}
	p.Status = status
	return nil
}

// RemoveParticipant marks a participant disconnected rather than deleting
// it, so late queries (e.g. for audit) still see who was present.
func (s *Session) RemoveParticipant(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[participantID]; ok {
		p.Status = ParticipantDisconnected
	}
}

// SetParticipantReady marks a participant ready with its public key and
// reports whether every expected participant is now ready.
func (s *Session) SetParticipantReady(participantID, publicKey string) (allReady bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok {
		return false, fmt.Errorf("unknown participant %q", participantID)
	}
	p.PublicKey = publicKey
	p.Status = ParticipantReady

	readyCount := 0
	for _, other := range s.participants {
		if other.Status == ParticipantReady || other.Status == ParticipantSigned {
			readyCount++
		}
	}
	return readyCount >= s.expectedParticipants, nil
}

// InjectTransaction freezes the transaction payload exactly once. A second
// call returns an error so the caller can translate it into
// ErrCodeAlreadyInjected.
func (s *Session) InjectTransaction(tx *FrozenTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transaction != nil {
		return fmt.Errorf("transaction already injected")
	}
	s.transaction = tx
	s.status = StatusTransactionReceived
	return nil
}

// Transaction returns the frozen transaction, or nil if none has been
// injected yet.
func (s *Session) Transaction() *FrozenTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transaction
}

// AddSignature records a verified signature under the session's mutex,
// which is what makes threshold detection exactly-once: only the goroutine
// that holds the lock when the count first reaches the threshold sees
// ThresholdMet=true, no matter how many submissions race to get here.
func (s *Session) AddSignature(publicKey string, record SignatureRecord) AddSignatureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusTransactionReceived && s.status != StatusSigning {
		return AddSignatureResult{Outcome: SignatureNotReady}
	}
	if _, eligible := s.eligibleKeys[publicKey]; !eligible {
		return AddSignatureResult{Outcome: SignatureIneligible}
	}
	if existing, ok := s.signatures[publicKey]; ok {
		if existing.SignatureB64 == record.SignatureB64 {
			return AddSignatureResult{
				Outcome:        SignatureAlreadyAccepted,
				UniqueAccepted: len(s.signatures),
			}
		}
		return AddSignatureResult{Outcome: SignatureDuplicateSigner}
	}

	wasBelow := len(s.signatures) < s.threshold
	s.signatures[publicKey] = record
	if p, ok := s.participants[record.ParticipantID]; ok {
		p.Status = ParticipantSigned
	}

	nowAtThreshold := len(s.signatures) >= s.threshold
	thresholdMet := wasBelow && nowAtThreshold
	if s.status == StatusTransactionReceived {
		s.status = StatusSigning
	}
	if thresholdMet {
		s.status = StatusThresholdMet
	}

	return AddSignatureResult{
		Outcome:        SignatureAccepted,
		ThresholdMet:   thresholdMet,
		UniqueAccepted: len(s.signatures),
	}
}

// SetStatus forces a status transition, used for executing/completed/
// failed/expired, transitions the store drives from outside the signing
// critical section (e.g. after the ledger call returns).
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// ExtendExpiry replaces the deadline with until, whether later or earlier
// than the current one; the coordinator uses it on transaction injection
// to set the deadline to the end of the execution window.
func (s *Session) ExtendExpiry(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = until
}

// Participants returns a snapshot slice of all participants, connected or
// not.
func (s *Session) Participants() []*Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Signatures returns a snapshot slice of every accepted signature record,
// in no particular order, for the caller (coordinator.Manager) to hand to
// the ledger client once threshold is met.
func (s *Session) Signatures() []SignatureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SignatureRecord, 0, len(s.signatures))
	for _, rec := range s.signatures {
		out = append(out, rec)
	}
	return out
}
