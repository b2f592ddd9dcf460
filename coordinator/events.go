package coordinator

import "github.com/sigcoord/coordinator/internal/coordinatorlog"

// EventKind tags the shape of an Event's Payload, matching the wire message
// types the ConnectionServer translates these into.
type EventKind string

const (
	EventParticipantConnected    EventKind = "participant_connected"
	EventParticipantDisconnected EventKind = "participant_disconnected"
	EventParticipantReady        EventKind = "participant_ready"
	EventTransactionReceived     EventKind = "transaction_received"
	EventThresholdMet            EventKind = "threshold_met"
	EventTransactionExecuted     EventKind = "transaction_executed"
	EventSessionExpired          EventKind = "session_expired"
	EventError                   EventKind = "error"
)

// Event is one outbound occurrence the Manager publishes. Broadcast events
// go to every participant currently connected to SessionID; unicast events
// carry a non-empty TargetParticipantID. Payload is always one of the
// concrete *Payload types below (or ledger.Result for EventTransactionExecuted),
// never an ad hoc anonymous struct, so transport/ws can type-switch on Kind
// and assert without guessing shapes.
type Event struct {
	SessionID           string
	Kind                EventKind
	Broadcast           bool
	TargetParticipantID string
	Payload             interface{}
}

// ParticipantConnectedPayload accompanies EventParticipantConnected.
type ParticipantConnectedPayload struct {
	ParticipantID string
	Label         string
}

// ParticipantDisconnectedPayload accompanies EventParticipantDisconnected.
type ParticipantDisconnectedPayload struct {
	ParticipantID string
}

// ParticipantReadyPayload accompanies EventParticipantReady.
type ParticipantReadyPayload struct {
	ParticipantID string
	AllReady      bool
}

// TransactionReceivedPayload accompanies EventTransactionReceived.
type TransactionReceivedPayload struct {
	TxBytes []byte
	Summary string
	Digest  [32]byte
}

// ThresholdMetPayload accompanies EventThresholdMet.
type ThresholdMetPayload struct {
	Threshold int
}

// SessionExpiredPayload accompanies EventSessionExpired.
type SessionExpiredPayload struct {
	Reason string
}

// ErrorEventPayload accompanies EventError.
type ErrorEventPayload struct {
	Err *coordinatorlog.CoordinatorError
}

// publish sends ev on the Manager's event channel without blocking:
// per-connection back-pressure is the ConnectionServer's concern, not the
// Manager's. The channel is sized generously and drops with a log line if
// a consumer is wedged, since the Manager must never block session
// mutation on slow I/O.
func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("event channel full, dropping event",
			coordinatorlog.String("session_id", ev.SessionID),
			coordinatorlog.String("kind", string(ev.Kind)),
		)
	}
}
