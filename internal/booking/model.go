package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
)

const AppointmentConfirmed = "confirmed"

// ID is a store-assigned identifier. Some REST stores hand ids back as
// numeric strings, so both forms are accepted on decode.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	n, err := strconv.ParseInt(strings.Trim(s, `"`), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", s)
	}
	*id = ID(n)
	return nil
}

type Slot struct {
	Day    string     `json:"day"`
	Time   string     `json:"time"`
	Status SlotStatus `json:"status"`
}

// Key is the slot identity, formatted "<day> - <time>".
func (s Slot) Key() string {
	return s.Day + " - " + s.Time
}

type Doctor struct {
	ID             ID     `json:"id,omitempty"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Availability   []Slot `json:"availability"`
}

// DoctorSummary is the doctor as shown on a confirmation.
type DoctorSummary struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

type Appointment struct {
	ID             ID     `json:"id,omitempty"`
	DoctorID       ID     `json:"doctorId"`
	PatientName    string `json:"patientName"`
	TimeSlot       string `json:"timeSlot"`
	Date           string `json:"date"`
	Status         string `json:"status"`
	MedicalReason  string `json:"medicalReason"`
	Medications    string `json:"medications"`
	Allergies      string `json:"allergies"`
	MedicalHistory string `json:"medicalHistory"`
}

// BookingRequest is a validated and sanitized booking submission.
type BookingRequest struct {
	DoctorID       int64
	PatientName    string
	Slot           string
	MedicalReason  string
	Medications    string
	Allergies      string
	MedicalHistory string
}

type Confirmation struct {
	Appointment Appointment   `json:"appointment"`
	Doctor      DoctorSummary `json:"doctor"`
}

// Event is one row of the booking event log.
type Event struct {
	ID            int64
	AttemptID     uuid.UUID
	Type          string
	DoctorID      int64
	TimeSlot      string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
}

// Inconsistency is a slot left booked with no appointment behind it.
type Inconsistency struct {
	AttemptID uuid.UUID `json:"attemptId"`
	DoctorID  int64     `json:"doctorId"`
	TimeSlot  string    `json:"timeSlot"`
	FailedAt  time.Time `json:"failedAt"`
}
