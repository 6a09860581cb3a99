package lock

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	m := NewMemoryLock()
	m.now = func() time.Time { return now }

	if ok, _ := m.Lock(ctx, EventKey("Ev1"), time.Minute); !ok {
		t.Fatal("first lock must succeed")
	}
	if ok, _ := m.Lock(ctx, EventKey("Ev1"), time.Minute); ok {
		t.Fatal("second lock must fail while held")
	}
	if ok, _ := m.Lock(ctx, EventKey("Ev2"), time.Minute); !ok {
		t.Fatal("other keys are independent")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := m.Lock(ctx, EventKey("Ev1"), time.Minute); !ok {
		t.Fatal("lock must be reusable after ttl")
	}

	_ = m.Unlock(ctx, EventKey("Ev1"))
	if ok, _ := m.Lock(ctx, EventKey("Ev1"), time.Minute); !ok {
		t.Fatal("lock must be reusable after unlock")
	}
}
