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

// Package memory implements storage.SessionPersister with an in-process
// RWMutex-protected map. Used for single-instance deployments or tests
// that don't want a real Postgres instance.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sigcoord/coordinator/storage"
)

// Store is an in-memory storage.SessionPersister.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]storage.PersistedSession
	signatures map[string][]storage.SignatureRow // keyed by session ID
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions:   make(map[string]storage.PersistedSession),
		signatures: make(map[string][]storage.SignatureRow),
	}
}

func (s *Store) SaveSession(ctx context.Context, sess storage.PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.PersistedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return &sess, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	sess.Status = status
	s.sessions[id] = sess
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			delete(s.signatures, id)
			count++
		}
	}
	return count, nil
}

func (s *Store) SaveSignature(ctx context.Context, row storage.SignatureRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.signatures[row.SessionID] {
		if existing.PublicKey == row.PublicKey {
			return nil // idempotent
		}
	}
	s.signatures[row.SessionID] = append(s.signatures[row.SessionID], row)
	return nil
}

func (s *Store) ListSignatures(ctx context.Context, sessionID string) ([]storage.SignatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.signatures[sessionID]
	out := make([]storage.SignatureRow, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
