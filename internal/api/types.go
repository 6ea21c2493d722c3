package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hackgods/doctor-booking/internal/booking"
)

const (
	msgDoctorNotFound       = "Doctor not found"
	msgSlotNotFound         = "Specified time slot not found"
	msgSlotUnavailable      = "This time slot is no longer available"
	msgReserveFailed        = "Failed to reserve time slot"
	msgAppointmentFailed    = "Appointment creation failed"
	msgInternal             = "Internal server error - please try again later"
	msgInvalidBody          = "Invalid JSON body"
	msgInvalidDoctorID      = "Invalid doctor ID"
	msgInvalidAppointmentID = "Invalid appointment ID"
	msgAppointmentMissing   = "Failed to fetch appointment details"
	msgDoctorMissing        = "Failed to fetch doctor details"
	msgBooked               = "Appointment booked successfully"
	msgTooManyRequests      = "Too many requests - please slow down"
)

type BookingResponse struct {
	Success     bool                 `json:"success"`
	Appointment *booking.Appointment `json:"appointment"`
	Message     string               `json:"message"`
}

type ValidationErrorResponse struct {
	Errors []string `json:"errors"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
