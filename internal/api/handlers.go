package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-booking/internal/booking"
)

const maxBodyBytes = 1 << 20

// BookingService is the part of booking.Service the handlers depend on.
type BookingService interface {
	Book(ctx context.Context, req booking.BookingRequest) (*booking.Appointment, error)
	ListDoctors(ctx context.Context) ([]booking.Doctor, error)
	GetDoctor(ctx context.Context, id int64) (*booking.Doctor, error)
	GetConfirmation(ctx context.Context, appointmentID int64) (*booking.Confirmation, error)
}

func createBookingHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{Errors: []string{msgInvalidBody}})
			return
		}

		req, err := booking.Validate(raw)
		if err != nil {
			var ve *booking.ValidationError
			if errors.As(err, &ve) {
				log.Warn("booking validation failed",
					zap.Strings("errors", ve.Messages),
					zap.String("request_id", GetRequestID(r.Context())),
				)
				writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{Errors: ve.Messages})
				return
			}
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}

		appt, err := svc.Book(r.Context(), req)
		if err != nil {
			handleBookingError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, BookingResponse{
			Success:     true,
			Appointment: appt,
			Message:     msgBooked,
		})
	}
}

func handleBookingError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, msgDoctorNotFound)
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, msgSlotNotFound)
	case errors.Is(err, booking.ErrSlotConflict),
		errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, msgSlotUnavailable)
	case errors.Is(err, booking.ErrReservationWriteFailed):
		writeError(w, http.StatusInternalServerError, msgReserveFailed)
	case errors.Is(err, booking.ErrAppointmentCreationFailed):
		writeError(w, http.StatusInternalServerError, msgAppointmentFailed)
	default:
		log.Error("booking failed unexpectedly",
			zap.Error(err),
			zap.String("request_id", GetRequestID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func listDoctorsHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			log.Error("list doctors failed", zap.Error(err), zap.String("request_id", GetRequestID(r.Context())))
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		if doctors == nil {
			doctors = []booking.Doctor{}
		}
		writeJSON(w, http.StatusOK, doctors)
	}
}

func getDoctorHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidDoctorID)
			return
		}

		doctor, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrDoctorNotFound) {
				writeError(w, http.StatusNotFound, msgDoctorNotFound)
				return
			}
			log.Error("get doctor failed", zap.Error(err), zap.String("request_id", GetRequestID(r.Context())))
			writeError(w, http.StatusInternalServerError, msgInternal)
			return
		}

		writeJSON(w, http.StatusOK, doctor)
	}
}

func getConfirmationHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidAppointmentID)
			return
		}

		conf, err := svc.GetConfirmation(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, msgAppointmentMissing)
			case errors.Is(err, booking.ErrDoctorNotFound):
				writeError(w, http.StatusNotFound, msgDoctorMissing)
			default:
				log.Error("get confirmation failed", zap.Error(err), zap.String("request_id", GetRequestID(r.Context())))
				writeError(w, http.StatusInternalServerError, msgInternal)
			}
			return
		}

		writeJSON(w, http.StatusOK, conf)
	}
}
