// Package ratelimit implements the per-user request limiter with two
// independent windowed classes.
package ratelimit

import (
	"sync"
	"time"
)

// Class selects which window a request counts against.
type Class int

const (
	// Cheap covers normal chat traffic: a short window with a generous
	// limit.
	Cheap Class = iota
	// Expensive covers credential-mutating requests: a long window with a
	// tight limit.
	Expensive
)

// Window lengths per class.
const (
	CheapWindow     = 10 * time.Second
	ExpensiveWindow = 5 * time.Minute
)

type window struct {
	start time.Time
	count uint
}

type state struct {
	cheap     window
	expensive window
}

// Limiter tracks request windows per user id. Safe for concurrent use by
// every connection goroutine.
type Limiter struct {
	mu     sync.Mutex
	states map[uint64]*state

	cheapLimit     uint
	expensiveLimit uint

	now func() time.Time
}

// NewLimiter creates a limiter with the given per-window limits.
func NewLimiter(cheapLimit, expensiveLimit uint) *Limiter {
	return &Limiter{
		states:         make(map[uint64]*state),
		cheapLimit:     cheapLimit,
		expensiveLimit: expensiveLimit,
		now:            time.Now,
	}
}

// Allow records one request for the user in the given class. When the
// window's limit is already spent it reports ok=false with the whole-second
// time until the window resets, and the request must have no effect.
func (l *Limiter) Allow(userID uint64, class Class) (retryAfter uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, found := l.states[userID]
	if !found {
		s = &state{}
		l.states[userID] = s
	}

	w, length, limit := &s.cheap, CheapWindow, l.cheapLimit
	if class == Expensive {
		w, length, limit = &s.expensive, ExpensiveWindow, l.expensiveLimit
	}

	now := l.now()
	reset := w.start.Add(length)
	if !now.Before(reset) {
		w.start = now
		w.count = 0
		return 0, true
	}
	if w.count >= limit {
		left := reset.Sub(now)
		return uint64((left + time.Second - 1) / time.Second), false
	}
	w.count++
	return 0, true
}
