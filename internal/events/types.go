// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Auth lifecycle events
	StateChanged EventType = "STATE_CHANGED"
	JWTValidated EventType = "JWT_VALIDATED"
	JWTExpired   EventType = "JWT_EXPIRED"
	AuthError    EventType = "AUTH_ERROR"
	UserLogout   EventType = "USER_LOGOUT"

	// Gate events
	GateUnlocked   EventType = "GATE_UNLOCKED"
	GateExpired    EventType = "GATE_EXPIRED"
	GateConfigured EventType = "GATE_CONFIGURED"
	GateRemoved    EventType = "GATE_REMOVED"

	// Store lifecycle events
	StoreOpened    EventType = "STORE_OPENED"
	StoreClosed    EventType = "STORE_CLOSED"
	StoreDestroyed EventType = "STORE_DESTROYED"

	// Ledger events
	TransactionCreated EventType = "TRANSACTION_CREATED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}
