package profilestore

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/portalAuth/profile"
	"github.com/google/uuid"
)

type nowFunc func() time.Time

// Memory is a process-local Store. It backs the sandbox and tests.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]*profile.Profile
	now      nowFunc
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]*profile.Profile),
		now:      time.Now,
	}
}

// WithClock replaces the timestamp source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) Upsert(ctx context.Context, userID, email string, patch profile.Patch) (*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.profiles[userID]
	if !ok {
		current = seed(uuid.NewString(), userID, email, patch, m.now)
	} else {
		current = current.Clone()
	}
	if err := current.Apply(patch, m.now()); err != nil {
		return nil, err
	}

	m.profiles[userID] = current
	return current.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.profiles, userID)
	m.mu.Unlock()
	return nil
}

// Len reports how many profiles are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

var _ Store = (*Memory)(nil)
