package profilestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/portalAuth/profile"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestMemoryGetMissReturnsNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "nobody")
	if !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryUpsertCreatesWithDefaults(t *testing.T) {
	m := NewMemory().WithClock(fixedClock(time.Unix(1700000000, 0)))
	ctx := context.Background()

	p, err := m.Upsert(ctx, "u1", "A@X.com", profile.Patch{Role: profile.Ptr(profile.RoleEmployee)})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if p.ID == "" || p.UserID != "u1" || p.Email != "a@x.com" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, ok := p.Employee(); !ok {
		t.Fatalf("expected employee payload, got %T", p.Details)
	}

	got, err := m.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("expected stored id %s, got %s", p.ID, got.ID)
	}
}

func TestMemoryUpsertIsIdempotentOnBusinessFields(t *testing.T) {
	m := NewMemory().WithClock(fixedClock(time.Unix(1700000000, 0)))
	ctx := context.Background()
	patch := profile.Patch{DisplayName: profile.Ptr("Ada"), Institution: profile.Ptr("MIT")}

	first, err := m.Upsert(ctx, "u1", "a@x.com", patch)
	if err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	second, err := m.Upsert(ctx, "u1", "a@x.com", patch)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	if m.Len() != 1 {
		t.Fatalf("expected one profile, got %d", m.Len())
	}
	if first.ID != second.ID || first.DisplayName != second.DisplayName || first.Role != second.Role {
		t.Fatal("expected business fields unchanged by a repeated upsert")
	}
	s1, _ := first.Student()
	s2, _ := second.Student()
	if *s1 != *s2 {
		t.Fatalf("expected identical payloads, got %+v and %+v", s1, s2)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatal("expected CreatedAt to be preserved")
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatal("expected UpdatedAt to be re-stamped")
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	p, _ := m.Upsert(ctx, "u1", "a@x.com", profile.Patch{})
	p.DisplayName = "mutated"

	got, _ := m.Get(ctx, "u1")
	if got.DisplayName == "mutated" {
		t.Fatal("expected the store to hand out copies")
	}
}

func TestMemoryUpsertInvalidRoleLeavesStoreUntouched(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Upsert(ctx, "u1", "a@x.com", profile.Patch{}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	_, err := m.Upsert(ctx, "u1", "a@x.com", profile.Patch{Role: profile.Ptr(profile.Role("root"))})
	if !errors.Is(err, profile.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	got, _ := m.Get(ctx, "u1")
	if got.Role != profile.RoleStudent {
		t.Fatalf("expected role unchanged, got %s", got.Role)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.Upsert(ctx, "u1", "a@x.com", profile.Patch{})

	if err := m.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, "u1"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryHonorsCanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Get(ctx, "u1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
