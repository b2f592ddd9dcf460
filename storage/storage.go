// Package storage defines the coordinator's persistence boundary: a
// SessionPersister interface with memory and PostgreSQL backends.
package storage

import (
	"context"
	"time"
)

// PersistedSession is the durable projection of a session.Session. It
// carries the session's identity and configuration; accepted signatures
// are stored separately as SignatureRows. Nothing in this module reads
// these records back into a session.Store, so a coordinator restart does
// not restore live sessions.
type PersistedSession struct {
	ID                   string
	AuthToken            string
	Threshold            int
	EligibleKeys         []string
	ExpectedParticipants int
	Status               string
	CreatedAt            time.Time
	ExpiresAt            time.Time
}

// SignatureRow is one durable accepted-signature record.
type SignatureRow struct {
	SessionID     string
	PublicKey     string
	SignatureB64  string
	ParticipantID string
	SubmittedAt   time.Time
}

// SessionPersister is the persistence contract the coordinator.Manager
// writes through: it saves each session on creation, each accepted
// signature, and the final status (completed, failed or expired).
// Intermediate statuses and participant changes are not written.
type SessionPersister interface {
	SaveSession(ctx context.Context, s PersistedSession) error
	GetSession(ctx context.Context, id string) (*PersistedSession, error)
	UpdateStatus(ctx context.Context, id, status string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	SaveSignature(ctx context.Context, row SignatureRow) error
	ListSignatures(ctx context.Context, sessionID string) ([]SignatureRow, error)

	Ping(ctx context.Context) error
	Close() error
}
