package audit

import (
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// Effects collects the audit entries and notifications produced by one
// engine operation. The operation persists its state first and then hands
// the collected effects to Sink.Flush.
type Effects struct {
	entries []Entry
	events  []notifications.Event
}

// Audit queues an audit entry.
func (e *Effects) Audit(orderID string, event enums.AuditEvent, actor enums.AuditActor, payload any) {
	e.entries = append(e.entries, Entry{
		OrderID: orderID,
		Event:   event,
		Actor:   actor,
		Payload: payload,
	})
}

// Notify queues a notification for the fan-out.
func (e *Effects) Notify(event notifications.Event) {
	e.events = append(e.events, event)
}

// Merge appends the effects of a nested operation.
func (e *Effects) Merge(other *Effects) {
	if other == nil {
		return
	}
	e.entries = append(e.entries, other.entries...)
	e.events = append(e.events, other.events...)
}

// Entries exposes the queued audit entries.
func (e *Effects) Entries() []Entry {
	return e.entries
}

// Events exposes the queued notifications.
func (e *Effects) Events() []notifications.Event {
	return e.events
}
