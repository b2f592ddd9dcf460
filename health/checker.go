// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package health runs named, cached health checks against the
// coordinator's dependencies (persistent store, ledger client) and serves
// them over HTTP.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sigcoord/coordinator/internal/coordinatorlog"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Check is a single health check function.
type Check func(ctx context.Context) error

// Checker manages multiple health checks, caching each result briefly so
// a flood of /health requests doesn't hammer the storage backend.
type Checker struct {
	checks   map[string]Check
	timeout  time.Duration
	mu       sync.RWMutex
	log      coordinatorlog.Logger
	cacheTTL time.Duration
	cache    map[string]*cachedResult
}

type cachedResult struct {
	result    *CheckResult
	expiresAt time.Time
}

// NewChecker creates a new health checker.
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:   make(map[string]Check),
		timeout:  timeout,
		log:      coordinatorlog.GetDefaultLogger(),
		cacheTTL: 10 * time.Second,
		cache:    make(map[string]*cachedResult),
	}
}

// SetLogger overrides the checker's logger.
func (h *Checker) SetLogger(l coordinatorlog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = l
}

// RegisterCheck registers a named health check.
func (h *Checker) RegisterCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	h.log.Info("health check registered", coordinatorlog.String("name", name))
}

// Check performs a single named health check, using the cache when fresh.
func (h *Checker) Check(ctx context.Context, name string) (*CheckResult, error) {
	h.mu.RLock()
	check, exists := h.checks[name]
	h.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("health check not found: %s", name)
	}

	if cached := h.getCachedResult(name); cached != nil {
		return cached, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	duration := time.Since(start)

	result := &CheckResult{Name: name, Timestamp: time.Now(), Duration: duration}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		h.log.Warn("health check failed", coordinatorlog.String("name", name), coordinatorlog.Error(err))
	} else {
		result.Status = StatusHealthy
	}

	h.cacheResult(name, result)
	return result, nil
}

// CheckAll runs every registered check concurrently.
func (h *Checker) CheckAll(ctx context.Context) map[string]*CheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()

	results := make(map[string]*CheckResult)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range names {
		wg.Add(1)
		go func(checkName string) {
			defer wg.Done()
			result, err := h.Check(ctx, checkName)
			if err != nil {
				result = &CheckResult{Name: checkName, Status: StatusUnhealthy, Message: err.Error(), Timestamp: time.Now()}
			}
			mu.Lock()
			results[checkName] = result
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// OverallStatus rolls every check's result into one status.
func (h *Checker) OverallStatus(ctx context.Context) Status {
	results := h.CheckAll(ctx)
	if len(results) == 0 {
		return StatusHealthy
	}
	unhealthy, degraded := false, false
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			unhealthy = true
		case StatusDegraded:
			degraded = true
		}
	}
	switch {
	case unhealthy:
		return StatusUnhealthy
	case degraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (h *Checker) getCachedResult(name string) *CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cached, exists := h.cache[name]
	if !exists || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.result
}

func (h *Checker) cacheResult(name string, result *CheckResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache[name] = &cachedResult{result: result, expiresAt: time.Now().Add(h.cacheTTL)}
}

// StorageHealthCheck wraps a persistent store's ping function.
func StorageHealthCheck(ping func(context.Context) error) Check {
	return func(ctx context.Context) error {
		if ping == nil {
			return fmt.Errorf("storage ping not configured")
		}
		return ping(ctx)
	}
}

// LedgerHealthCheck wraps a ledger client's connectivity probe.
func LedgerHealthCheck(probe func(context.Context) error) Check {
	return func(ctx context.Context) error {
		if probe == nil {
			return fmt.Errorf("ledger probe not configured")
		}
		return probe(ctx)
	}
}
