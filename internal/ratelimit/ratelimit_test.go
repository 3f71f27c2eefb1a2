package ratelimit

import (
	"testing"
	"time"
)

// testClock lets tests step time manually.
type testClock struct {
	current time.Time
}

func (c *testClock) now() time.Time { return c.current }

func (c *testClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestLimiter(cheap, expensive uint) (*Limiter, *testClock) {
	clock := &testClock{current: time.Unix(1000, 0)}
	l := NewLimiter(cheap, expensive)
	l.now = clock.now
	return l, clock
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(3, 1)

	// The window-opening request plus the limit all pass.
	for i := 0; i < 4; i++ {
		if _, ok := l.Allow(1, Cheap); !ok {
			t.Fatalf("request %d rejected, want allowed", i)
		}
	}
	if _, ok := l.Allow(1, Cheap); ok {
		t.Fatal("request over limit allowed, want rejected")
	}
}

func TestRetryAfterCountsDown(t *testing.T) {
	l, clock := newTestLimiter(0, 1)

	if _, ok := l.Allow(1, Cheap); !ok {
		t.Fatal("window-opening request rejected")
	}
	retry, ok := l.Allow(1, Cheap)
	if ok {
		t.Fatal("second request allowed, want rejected")
	}
	if retry != 10 {
		t.Errorf("retryAfter = %d, want 10", retry)
	}

	clock.advance(4 * time.Second)
	retry, ok = l.Allow(1, Cheap)
	if ok {
		t.Fatal("request inside window allowed, want rejected")
	}
	if retry != 6 {
		t.Errorf("retryAfter = %d, want 6", retry)
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	l, clock := newTestLimiter(0, 1)

	l.Allow(1, Cheap)
	clock.advance(9*time.Second + 500*time.Millisecond)
	retry, ok := l.Allow(1, Cheap)
	if ok {
		t.Fatal("request inside window allowed, want rejected")
	}
	if retry != 1 {
		t.Errorf("retryAfter = %d, want 1 (rounded up)", retry)
	}
}

func TestWindowResets(t *testing.T) {
	l, clock := newTestLimiter(1, 1)

	l.Allow(1, Cheap)
	l.Allow(1, Cheap)
	if _, ok := l.Allow(1, Cheap); ok {
		t.Fatal("request over limit allowed, want rejected")
	}

	clock.advance(CheapWindow)
	if _, ok := l.Allow(1, Cheap); !ok {
		t.Fatal("request after window reset rejected, want allowed")
	}
}

func TestRejectionHasNoEffect(t *testing.T) {
	l, clock := newTestLimiter(1, 1)

	l.Allow(1, Cheap)
	l.Allow(1, Cheap)

	// Hammering a spent window must not extend it.
	for i := 0; i < 10; i++ {
		clock.advance(time.Second)
		l.Allow(1, Cheap)
	}
	clock.advance(0)
	if clock.current.Sub(time.Unix(1000, 0)) < CheapWindow {
		t.Fatal("test clock did not pass the window")
	}
	if _, ok := l.Allow(1, Cheap); !ok {
		t.Fatal("request after original window passed rejected, want allowed")
	}
}

func TestClassesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(0, 0)

	l.Allow(1, Cheap)
	if _, ok := l.Allow(1, Expensive); !ok {
		t.Fatal("expensive request rejected after cheap one, want independent windows")
	}
	retry, ok := l.Allow(1, Expensive)
	if ok {
		t.Fatal("expensive request over limit allowed, want rejected")
	}
	if retry != 300 {
		t.Errorf("expensive retryAfter = %d, want 300", retry)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(0, 1)

	l.Allow(1, Cheap)
	if _, ok := l.Allow(1, Cheap); ok {
		t.Fatal("user 1 over limit allowed, want rejected")
	}
	if _, ok := l.Allow(2, Cheap); !ok {
		t.Fatal("user 2 rejected on user 1's window, want allowed")
	}
}
