// Package session coordinates streamed answer generation.
//
// Each session has a caller-chosen id and moves through
// Pending -> Streaming -> Completed | Cancelled | Failed. A session's
// events are consumed once through an iterator; cancelling, abandoning the
// iterator, or cancelling the start context all end it the same way.
package session

import (
	"fmt"
	"regexp"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// State is the lifecycle state of a session.
type State int32

const (
	StatePending State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// EventType distinguishes stream events.
type EventType string

const (
	EventToken     EventType = "token"
	EventHeartbeat EventType = "heartbeat"
	EventError     EventType = "error"
)

// Event is one item of a session stream.
type Event struct {
	Type EventType `json:"type"`
	Data string    `json:"data"`
	// Err is set on error events.
	Err error `json:"-"`
}

// maxIDLength bounds session ids.
const maxIDLength = 128

var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateID checks that id is usable as a session id.
// Valid ids contain only letters, numbers, dots, hyphens, and underscores.
func ValidateID(id string) error {
	if id == "" {
		return dcerrors.ValidationError("session id cannot be empty", nil)
	}
	if len(id) > maxIDLength {
		return dcerrors.ValidationError(fmt.Sprintf("session id too long (max %d chars)", maxIDLength), nil)
	}
	if !validIDPattern.MatchString(id) {
		return dcerrors.ValidationError("session id can only contain letters, numbers, dots, hyphens, and underscores", nil)
	}
	return nil
}
