// Package domain contains core concepts of the messaging core.
// This file defines live Connection sessions and their state machine.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type UserID string

type ConversationID string

type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// ConnState follows connecting -> open -> closing -> closed.
// Closed is terminal: a reconnect always creates a new Connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving to next is a legal state change.
func (s ConnState) CanTransition(next ConnState) bool {
	switch s {
	case StateConnecting:
		return next == StateOpen || next == StateClosing || next == StateClosed
	case StateOpen:
		return next == StateClosing || next == StateClosed
	case StateClosing:
		return next == StateClosed
	default:
		return false
	}
}

// Connection is one live transport session between a client device and the
// server. A connection belongs to exactly one user; a user may hold several
// connections at once (multiple tabs or devices).
type Connection struct {
	ID       ConnectionID
	User     UserID
	OpenedAt time.Time
}

func NewConnection(user UserID) *Connection {
	return &Connection{
		ID:       NewConnectionID(),
		User:     user,
		OpenedAt: time.Now().UTC(),
	}
}
