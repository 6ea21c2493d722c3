package booking

import (
	"context"
	"time"
)

const (
	EventSlotReserved              = "SLOT_RESERVED"
	EventReservationFailed         = "RESERVATION_FAILED"
	EventAppointmentCreated        = "APPOINTMENT_CREATED"
	EventAppointmentCreationFailed = "APPOINTMENT_CREATION_FAILED"
	EventCompensationSucceeded     = "COMPENSATION_SUCCEEDED"
	EventCompensationFailed        = "COMPENSATION_FAILED"
)

// EventLog is the audit trail of booking writes.
type EventLog interface {
	InsertEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, eventType string, since time.Time) ([]Event, error)
}

// NopEventLog is used when no database is configured; the structured logs
// remain the only trail.
type NopEventLog struct{}

func (NopEventLog) InsertEvent(context.Context, Event) error { return nil }

func (NopEventLog) ListEvents(context.Context, string, time.Time) ([]Event, error) {
	return nil, nil
}
