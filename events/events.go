/*
Package events describes allocation and project change notifications.

PURPOSE:
  Downstream systems (dashboards, staffing tools) need to know when an
  engineer's allocations change. The write path publishes one Event per
  committed change through a Publisher.

DELIVERY:
  Events are published after the write commits. A failed publish is
  logged by the caller and never rolls the write back, so delivery is
  at-most-once.

IMPLEMENTATIONS:
  Nop:                     Drops everything (default, no broker configured)
  Recorder:                Keeps events in memory (tests)
  natsbus.Publisher:       JSON over NATS, subject "<prefix>.<type>"

SEE ALSO:
  - capacity/service.go: Publishes after each accepted write
  - events/natsbus: NATS transport
*/
package events

import (
	"context"
	"sync"
	"time"
)

// Type names a change. It doubles as the NATS subject suffix.
type Type string

const (
	AllocationCreated Type = "allocation.created"
	AllocationUpdated Type = "allocation.updated"
	AllocationDeleted Type = "allocation.deleted"
	ProjectUpdated    Type = "project.updated"
	ProjectDeleted    Type = "project.deleted"
)

// Event is the payload sent for every committed change.
type Event struct {
	Type                 Type      `json:"type"`
	AllocationID         string    `json:"allocation_id,omitempty"`
	EngineerID           string    `json:"engineer_id,omitempty"`
	ProjectID            string    `json:"project_id,omitempty"`
	AllocationPercentage int       `json:"allocation_percentage,omitempty"`
	StartDate            string    `json:"start_date,omitempty"`
	EndDate              string    `json:"end_date,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// =============================================================================
// NOP
// =============================================================================

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// =============================================================================
// RECORDER
// =============================================================================

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
