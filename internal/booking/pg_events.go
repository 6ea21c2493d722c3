package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgEventLog struct {
	pool *pgxpool.Pool
}

func NewPgEventLog(pool *pgxpool.Pool) *PgEventLog {
	return &PgEventLog{pool: pool}
}

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(
		&ev.ID,
		&ev.AttemptID,
		&ev.Type,
		&ev.DoctorID,
		&ev.TimeSlot,
		&ev.AppointmentID,
		&ev.Payload,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *PgEventLog) InsertEvent(ctx context.Context, ev Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_events (attempt_id, event_type, doctor_id, time_slot, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, ev.AttemptID, ev.Type, ev.DoctorID, ev.TimeSlot, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func (r *PgEventLog) ListEvents(ctx context.Context, eventType string, since time.Time) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, attempt_id, event_type, doctor_id, time_slot, appointment_id, payload, created_at
		FROM booking_events
		WHERE event_type = $1
		  AND created_at >= $2
		ORDER BY created_at
	`, eventType, since)
	if err != nil {
		return nil, fmt.Errorf("list booking events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
