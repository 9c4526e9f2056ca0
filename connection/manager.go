// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager is the process-wide account table: one supervisor per
// configured account, all sharing one bridge. Safe for concurrent
// use, though in practice only the host thread calls it.
type Manager struct {
	logger *slog.Logger

	mu          sync.Mutex
	supervisors map[string]*Supervisor
	shutdown    bool
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:      logger,
		supervisors: make(map[string]*Supervisor),
	}
}

// AddAccount registers a supervisor for the given configuration.
// Account names are unique.
func (m *Manager) AddAccount(config SupervisorConfig) (*Supervisor, error) {
	supervisor, err := NewSupervisor(config)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, fmt.Errorf("connection: manager is shut down")
	}
	if _, exists := m.supervisors[config.Account]; exists {
		return nil, fmt.Errorf("connection: account %s already registered", config.Account)
	}
	m.supervisors[config.Account] = supervisor
	return supervisor, nil
}

// RemoveAccount disconnects and forgets an account. Removing an
// unknown account is a no-op.
func (m *Manager) RemoveAccount(account string) {
	m.mu.Lock()
	supervisor := m.supervisors[account]
	delete(m.supervisors, account)
	m.mu.Unlock()

	if supervisor != nil {
		supervisor.Disconnect()
	}
}

// Supervisor returns the supervisor for an account, or nil.
func (m *Manager) Supervisor(account string) *Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisors[account]
}

// Accounts returns the registered account names, sorted.
func (m *Manager) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.supervisors))
	for name := range m.supervisors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown disconnects every account and rejects further adds. The
// caller closes the bridge first so blocked workers wake immediately
// instead of waiting out their backpressure.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	supervisors := make([]*Supervisor, 0, len(m.supervisors))
	for _, supervisor := range m.supervisors {
		supervisors = append(supervisors, supervisor)
	}
	m.supervisors = make(map[string]*Supervisor)
	m.mu.Unlock()

	for _, supervisor := range supervisors {
		supervisor.Disconnect()
	}
	m.logger.Info("all accounts disconnected", "count", len(supervisors))
}
