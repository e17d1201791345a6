// Package stats counts validation outcomes.
//
// Only counters are kept. Requests and results themselves are never stored.
package stats

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Event describes the outcome of one connection.
//
// PaymentType is empty when the request failed before classification.
type Event struct {
	PaymentType string
	Outcome     Outcome
	At          time.Time
}

// Recorder persists events. Callers treat errors as best-effort.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type Counters struct {
	Approved int64
	Rejected int64
	Failed   int64
}

func (c *Counters) add(o Outcome) {
	switch o {
	case OutcomeApproved:
		c.Approved++
	case OutcomeRejected:
		c.Rejected++
	default:
		c.Failed++
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
