// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package postgres implements storage.SessionPersister against PostgreSQL
// via pgx/v5.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sigcoord/coordinator/storage"
)

// Store implements storage.SessionPersister against a pgxpool.Pool.
type Store struct {
	db *pgxpool.Pool
}

// New connects to databaseURL and returns a ready Store. The caller is
// responsible for running the schema migration in schema.sql beforehand.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

func (s *Store) SaveSession(ctx context.Context, sess storage.PersistedSession) error {
	query := `
		INSERT INTO sessions (id, auth_token, threshold, eligible_keys, expected_participants, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.Exec(ctx, query,
		sess.ID, sess.AuthToken, sess.Threshold, strings.Join(sess.EligibleKeys, ","),
		sess.ExpectedParticipants, sess.Status, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.PersistedSession, error) {
	query := `
		SELECT id, auth_token, threshold, eligible_keys, expected_participants, status, created_at, expires_at
		FROM sessions WHERE id = $1
	`
	var sess storage.PersistedSession
	var eligibleKeys string
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.AuthToken, &sess.Threshold, &eligibleKeys,
		&sess.ExpectedParticipants, &sess.Status, &sess.CreatedAt, &sess.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if eligibleKeys != "" {
		sess.EligibleKeys = strings.Split(eligibleKeys, ",")
	}
	return &sess, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := s.db.Exec(ctx, `UPDATE sessions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *Store) SaveSignature(ctx context.Context, row storage.SignatureRow) error {
	query := `
		INSERT INTO signatures (session_id, public_key, signature_b64, participant_id, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, public_key) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query, row.SessionID, row.PublicKey, row.SignatureB64, row.ParticipantID, row.SubmittedAt)
	if err != nil {
		return fmt.Errorf("save signature: %w", err)
	}
	return nil
}

func (s *Store) ListSignatures(ctx context.Context, sessionID string) ([]storage.SignatureRow, error) {
	query := `
		SELECT session_id, public_key, signature_b64, participant_id, submitted_at
		FROM signatures WHERE session_id = $1
	`
	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var out []storage.SignatureRow
	for rows.Next() {
		var row storage.SignatureRow
		if err := rows.Scan(&row.SessionID, &row.PublicKey, &row.SignatureB64, &row.ParticipantID, &row.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signatures: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}
