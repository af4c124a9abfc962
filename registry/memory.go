package registry

import (
	"context"
	"sync"

	"github.com/MrEthical07/portalAuth/profile"
)

// Memory is a process-local Registry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]profile.Role
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]profile.Role)}
}

func (m *Memory) Lookup(ctx context.Context, email string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.entries[profile.NormalizeEmail(email)]
	if !ok {
		return Result{}, nil
	}
	return Result{Exists: true, Role: role}, nil
}

func (m *Memory) Register(ctx context.Context, email string, role profile.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !role.Valid() {
		return profile.ErrInvalidRole
	}

	email = profile.NormalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[email]; ok {
		return &RegisteredError{Email: email, Role: existing}
	}
	m.entries[email] = role
	return nil
}

func (m *Memory) Reassign(ctx context.Context, email string, role profile.Role) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !role.Valid() {
		return false, profile.ErrInvalidRole
	}

	email = profile.NormalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[email]; !ok {
		return false, nil
	}
	m.entries[email] = role
	return true, nil
}

func (m *Memory) Remove(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, profile.NormalizeEmail(email))
	m.mu.Unlock()
	return nil
}

var _ Registry = (*Memory)(nil)
