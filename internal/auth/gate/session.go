package gate

import (
	"sync"
	"time"
)

// SessionGate remembers successful unlocks in memory only. Nothing is
// persisted; a process restart locks every identity again.
type SessionGate struct {
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time // identity -> unlock expiry
}

// NewSessionGate creates a session gate using the wall clock.
func NewSessionGate() *SessionGate {
	return NewSessionGateWithClock(time.Now)
}

// NewSessionGateWithClock creates a session gate with an injectable clock.
func NewSessionGateWithClock(now func() time.Time) *SessionGate {
	return &SessionGate{
		now:      now,
		sessions: make(map[string]time.Time),
	}
}

// Set records an unlock for the identity lasting the given duration.
func (g *SessionGate) Set(identity string, duration time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[identity] = g.now().Add(duration)
}

// Valid reports whether the identity's unlock is still in effect. Expired
// sessions are cleared on read.
func (g *SessionGate) Valid(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	expiry, ok := g.sessions[identity]
	if !ok {
		return false
	}
	if g.now().After(expiry) {
		delete(g.sessions, identity)
		return false
	}
	return true
}

// ExpiresAt returns the unlock expiry, if one is active.
func (g *SessionGate) ExpiresAt(identity string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	expiry, ok := g.sessions[identity]
	if !ok || g.now().After(expiry) {
		return time.Time{}, false
	}
	return expiry, true
}

// Extend pushes the identity's expiry out, if a session is active.
func (g *SessionGate) Extend(identity string, duration time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	expiry, ok := g.sessions[identity]
	if !ok || g.now().After(expiry) {
		delete(g.sessions, identity)
		return false
	}
	g.sessions[identity] = g.now().Add(duration)
	return true
}

// Clear drops the identity's session.
func (g *SessionGate) Clear(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, identity)
}

// ClearAll drops every session.
func (g *SessionGate) ClearAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = make(map[string]time.Time)
}
