// Package scheduling lets a capability owner schedule deferred work.
//
// A Scheduler wraps the shared clock with task ids and, when it has a
// TaskStore, durable task records that are re-armed when the scheduler is
// rebuilt after a restart. A due task is delivered to the owner's current
// receiver through the scheduler's capabilities.Binding.
package scheduling

import (
	"context"
	"time"

	"github.com/kart-io/sentinel-agent/pkg/scheduling/clock"
)

// Task is a pending unit of deferred work.
type Task struct {
	ID       string    `json:"id"`
	OwnerKey string    `json:"owner_key"`
	Due      time.Time `json:"due"`
	Payload  []byte    `json:"payload,omitempty"`
	// Cron is set for recurring tasks. Due is then the next occurrence.
	Cron string `json:"cron,omitempty"`
}

// Recurring reports whether t is re-armed after it fires.
func (t Task) Recurring() bool {
	return t.Cron != ""
}

// TaskStore persists the pending tasks of each owner. Deleting an absent
// task is not an error. Implementations must be safe for concurrent use.
type TaskStore interface {
	Save(ctx context.Context, task Task) error
	Delete(ctx context.Context, ownerKey, id string) error
	List(ctx context.Context, ownerKey string) ([]Task, error)
}

// Clock is the part of the shared clock a Scheduler uses.
type Clock interface {
	Now() time.Time
	RequestTrigger(id string, due time.Time, cb clock.Callback) error
	Cancel(id string)
}

var _ Clock = (*clock.RunnableClock)(nil)
