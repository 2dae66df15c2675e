package ratelimit

import (
	"testing"
	"time"
)

func TestCheckAdmitsUpToLimit(t *testing.T) {
	l, err := New(2, time.Second, 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer l.Close()

	now := time.Now()
	if r := l.Check("k", now); !r.Allowed {
		t.Fatalf("expected first request admitted")
	}
	if r := l.Check("k", now); !r.Allowed {
		t.Fatalf("expected second request admitted")
	}
	if r := l.Check("k", now); r.Allowed {
		t.Fatalf("expected third request rejected")
	}
}

func TestCheckWindowExpires(t *testing.T) {
	l, err := New(1, 100*time.Millisecond, 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer l.Close()

	now := time.Now()
	if r := l.Check("k", now); !r.Allowed {
		t.Fatalf("expected first request admitted")
	}
	if r := l.Check("k", now.Add(10*time.Millisecond)); r.Allowed {
		t.Fatalf("expected second request rejected within window")
	}
	if r := l.Check("k", now.Add(150*time.Millisecond)); !r.Allowed {
		t.Fatalf("expected request admitted after window elapses")
	}
}

func TestNewValidatesParameters(t *testing.T) {
	if _, err := New(-1, time.Second, 10, false); err == nil {
		t.Fatalf("expected error for negative limit")
	}
	if _, err := New(1, 0, 10, false); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if _, err := New(1, time.Second, 0, false); err == nil {
		t.Fatalf("expected error for zero maxEntries")
	}
}

func TestSetLimitTakesEffectImmediately(t *testing.T) {
	l, err := New(1, time.Second, 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer l.Close()

	now := time.Now()
	l.Check("k", now)
	if r := l.Check("k", now); r.Allowed {
		t.Fatalf("expected second request rejected at limit 1")
	}

	l.SetLimit(2)
	if r := l.Check("k", now); !r.Allowed {
		t.Fatalf("expected request admitted after limit raised")
	}
}

func TestLRUEvictionUnderCapacity(t *testing.T) {
	l, err := New(10, time.Minute, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer l.Close()

	now := time.Now()
	l.Check("a", now)
	l.Check("b", now)
	l.Check("c", now)

	if r := l.Check("c", now); !r.Allowed {
		t.Fatalf("expected recently admitted key c to survive eviction")
	}
}
