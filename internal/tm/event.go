package tm

import (
	"sync/atomic"
	"time"
)

// Event is one entry in the memory's append-only event log. TUVs reference
// events by id; they never own them. An event is created in memory and its
// row is written the first time a save or modify transaction references it,
// so the timestamp stays adjustable until then.
type Event struct {
	ID        int64
	Timestamp time.Time
	Username  string
	Argument  string

	used atomic.Bool
}

// SetTimestamp adjusts the event's timestamp. It has no effect once the
// event has been referenced by a TUV.
func (e *Event) SetTimestamp(t time.Time) {
	if e.used.Load() {
		return
	}
	e.Timestamp = t.UTC()
}

func (e *Event) markUsed() { e.used.Store(true) }
