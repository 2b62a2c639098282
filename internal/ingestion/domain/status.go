package domain

import (
	"errors"
	"fmt"
)

type MessageStatus string

const (
	StatusPending    MessageStatus = "PENDING"
	StatusProcessing MessageStatus = "PROCESSING"
	StatusImported   MessageStatus = "IMPORTED"
	StatusSkipped    MessageStatus = "SKIPPED"
	StatusFailed     MessageStatus = "FAILED"
)

var ErrInvalidTransition = errors.New("invalid message status transition")

// FAILED records can be picked up again by queue re-processing; IMPORTED and SKIPPED are final.
var transitions = map[MessageStatus][]MessageStatus{
	StatusPending:    {StatusProcessing, StatusSkipped, StatusFailed},
	StatusProcessing: {StatusImported, StatusFailed, StatusSkipped},
	StatusFailed:     {StatusPending, StatusProcessing},
}

func CanTransition(from, to MessageStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s MessageStatus) Terminal() bool {
	return s == StatusImported || s == StatusSkipped
}

// Transition moves the record to the next status or reports why it cannot.
func (r *InboundMessageRecord) Transition(to MessageStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}
