// Package clock implements the process-wide timeline of due triggers.
//
// A RunnableClock keeps every pending trigger in one ordered timeline and
// arms a single one-shot timer for the earliest of them. When the timer
// fires, all overdue triggers are drained in one pass and their callbacks
// are dispatched to a bounded worker pool, so registering new triggers is
// never blocked by running work.
package clock

import "time"

// Callback is the work run when a trigger becomes due. A returned error
// is logged and does not affect other triggers.
type Callback func() error

// Entry is a pending trigger. Two entries with the same TriggerID are the
// same trigger regardless of Due or Callback.
type Entry struct {
	TriggerID string
	Due       time.Time
	Callback  Callback
}

// Before orders entries by due time, then by trigger id.
func (e Entry) Before(o Entry) bool {
	if !e.Due.Equal(o.Due) {
		return e.Due.Before(o.Due)
	}
	return e.TriggerID < o.TriggerID
}

func (e Entry) valid() bool {
	return e.TriggerID != "" && !e.Due.IsZero() && e.Callback != nil
}
