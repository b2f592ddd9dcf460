// Package protocol defines the coordinator's wire schema: JSON objects
// carrying a "type" tag and a "payload" object. Decoding is two-pass: an
// Envelope is decoded first, then its Payload is decoded into the concrete
// struct for its Type.
package protocol

import "encoding/json"

// Type is the closed set of message type tags carried on the wire.
type Type string

const (
	TypeAuth                    Type = "AUTH"
	TypeAuthSuccess             Type = "AUTH_SUCCESS"
	TypeAuthFailed              Type = "AUTH_FAILED"
	TypeParticipantReady        Type = "PARTICIPANT_READY"
	TypeSignatureSubmit         Type = "SIGNATURE_SUBMIT"
	TypeSignatureAccepted       Type = "SIGNATURE_ACCEPTED"
	TypeSignatureRejected       Type = "SIGNATURE_REJECTED"
	TypeTransactionRejected     Type = "TRANSACTION_REJECTED"
	TypePing                    Type = "PING"
	TypePong                    Type = "PONG"
	TypeTransactionReceived     Type = "TRANSACTION_RECEIVED"
	TypeParticipantConnected    Type = "PARTICIPANT_CONNECTED"
	TypeParticipantDisconnected Type = "PARTICIPANT_DISCONNECTED"
	TypeSessionExpired          Type = "SESSION_EXPIRED"
	TypeThresholdMet            Type = "THRESHOLD_MET"
	TypeTransactionExecuted     Type = "TRANSACTION_EXECUTED"
	TypeError                   Type = "ERROR"
)

// Role distinguishes the kind of participant authenticating into a session.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
)

// Envelope is the outer frame every message is wrapped in.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AuthRequest is the inbound AUTH payload.
type AuthRequest struct {
	SessionID string `json:"session_id"`
	AuthToken string `json:"auth_token"`
	Role      Role   `json:"role"`
	Label     string `json:"label,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// SessionInfo summarizes session state returned alongside AUTH_SUCCESS.
type SessionInfo struct {
	SessionID            string `json:"session_id"`
	Threshold            int    `json:"threshold"`
	EligibleKeyCount     int    `json:"eligible_key_count"`
	ExpectedParticipants int    `json:"expected_participants"`
	Status               string `json:"status"`
	ExpiresAt            int64  `json:"expires_at"`
}

// AuthSuccess is the unicast response to a successful AUTH.
type AuthSuccess struct {
	ParticipantID string      `json:"participant_id"`
	SessionInfo   SessionInfo `json:"session_info"`
}

// AuthFailed is the unicast response to a failed AUTH.
type AuthFailed struct {
	Reason string `json:"reason"`
}

// ParticipantReadyRequest is the inbound PARTICIPANT_READY payload.
type ParticipantReadyRequest struct {
	PublicKey string `json:"public_key"`
}

// ParticipantReadyBroadcast is the outbound PARTICIPANT_READY fan-out.
type ParticipantReadyBroadcast struct {
	ParticipantID string `json:"participant_id"`
	AllReady      bool   `json:"all_ready"`
}

// SignatureSubmitRequest is the inbound SIGNATURE_SUBMIT payload.
type SignatureSubmitRequest struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// SignatureRejected is the response to a rejected signature submission.
type SignatureRejected struct {
	Reason string `json:"reason"`
}

// TransactionRejectedRequest is the inbound participant-initiated rejection.
type TransactionRejectedRequest struct {
	Reason string `json:"reason"`
}

// TransactionReceived is the coordinator-pushed transaction injection event.
type TransactionReceived struct {
	FrozenTransactionBase64 string                 `json:"frozen_transaction_base64"`
	TxSummary               string                 `json:"tx_summary"`
	Metadata                map[string]interface{} `json:"metadata,omitempty"`
	ContractABI             string                 `json:"contract_abi,omitempty"`
}

// ParticipantConnected is broadcast when a participant completes AUTH.
type ParticipantConnected struct {
	ParticipantID string `json:"participant_id"`
	Label         string `json:"label,omitempty"`
}

// ParticipantDisconnected is broadcast on heartbeat failure or clean close.
type ParticipantDisconnected struct {
	ParticipantID string `json:"participant_id"`
}

// SessionExpiredEvent is broadcast when a session is reaped or its
// execution window lapses.
type SessionExpiredEvent struct {
	Reason string `json:"reason"`
}

// ThresholdMetEvent is broadcast exactly once per session, on the Kth
// accepted signature.
type ThresholdMetEvent struct {
	Threshold int `json:"threshold"`
}

// TransactionExecuted is broadcast once the ledger reports success.
type TransactionExecuted struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// ErrorPayload is carried by every ERROR message.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
