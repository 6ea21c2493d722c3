package booking

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrUnreadableResponse means the store answered 2xx, so the write took
	// effect, but the body could not be decoded.
	ErrUnreadableResponse = errors.New("store response could not be decoded")
)

// Store is the external REST store holding doctors and appointments.
type Store interface {
	ListDoctors(ctx context.Context) ([]Doctor, error)
	GetDoctor(ctx context.Context, id int64) (*Doctor, error)
	CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error)

	// Partial update of the availability sequence only
	UpdateAvailability(ctx context.Context, doctorID int64, availability []Slot) (*Doctor, error)

	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	FindAppointments(ctx context.Context, doctorID int64, timeSlot string) ([]Appointment, error)

	Ping(ctx context.Context) error
}

// StoreError is a non-success response from the store.
type StoreError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}
