package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/doctor-booking/internal/redis"
)

var (
	ErrSlotBeingBooked           = errors.New("doctor availability is being updated by another booking")
	ErrReservationWriteFailed    = errors.New("failed to reserve time slot")
	ErrAppointmentCreationFailed = errors.New("appointment creation failed")
)

type requestIDKey struct{}

// WithRequestID attaches the inbound request id so booking logs can be
// correlated with access logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type Service struct {
	store  Store
	locker redisclient.Locker
	events EventLog
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store Store, locker redisclient.Locker, events EventLog, log *zap.Logger) *Service {
	if events == nil {
		events = NopEventLog{}
	}
	return &Service{
		store:  store,
		locker: locker,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// attempt carries the per-booking correlation data through the workflow.
type attempt struct {
	id  uuid.UUID
	req BookingRequest
	log *zap.Logger
}

// Book reserves the requested slot and creates the appointment. The whole
// sequence runs under the doctor's lock so the availability read and the
// availability write cannot interleave with another booking for the same
// doctor.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	a := &attempt{id: uuid.New(), req: req}
	a.log = s.log.With(
		zap.String("attempt_id", a.id.String()),
		zap.String("request_id", RequestID(ctx)),
		zap.Int64("doctor_id", req.DoctorID),
		zap.String("slot", req.Slot),
	)

	var created *Appointment
	err := s.locker.WithDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		appt, err := s.book(lockCtx, a)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			a.log.Warn("doctor is locked by a concurrent booking")
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

func (s *Service) book(ctx context.Context, a *attempt) (*Appointment, error) {
	a.log.Info("looking up doctor")
	doctor, err := s.store.GetDoctor(ctx, a.req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			a.log.Warn("doctor lookup failed", zap.Error(err))
			return nil, err
		}
		return nil, fmt.Errorf("lookup doctor: %w", err)
	}

	updated, err := ReserveSlot(doctor, a.req.Slot)
	if err != nil {
		a.log.Warn("slot cannot be reserved", zap.Error(err))
		return nil, err
	}

	state := StateAvailable

	if _, err := s.store.UpdateAvailability(ctx, a.req.DoctorID, updated); err != nil {
		a.log.Error("availability write failed", zap.Error(err))
		s.logEvent(ctx, a, EventReservationFailed, nil, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %w", ErrReservationWriteFailed, err)
	}
	state = s.transition(a, state, StateReserved)
	s.logEvent(ctx, a, EventSlotReserved, nil, nil)

	appt := Appointment{
		DoctorID:       ID(a.req.DoctorID),
		PatientName:    a.req.PatientName,
		TimeSlot:       a.req.Slot,
		Date:           s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Status:         AppointmentConfirmed,
		MedicalReason:  a.req.MedicalReason,
		Medications:    a.req.Medications,
		Allergies:      a.req.Allergies,
		MedicalHistory: a.req.MedicalHistory,
	}

	created, err := s.store.CreateAppointment(ctx, appt)
	if errors.Is(err, ErrUnreadableResponse) {
		// The store accepted the appointment; restoring the slot would
		// free a slot that now has an appointment.
		a.log.Error("appointment created but store response unreadable, keeping slot booked", zap.Error(err))
		s.transition(a, state, StateBooked)
		s.logEvent(ctx, a, EventAppointmentCreated, nil, map[string]any{"warning": err.Error()})
		return &appt, nil
	}
	if err != nil {
		a.log.Error("appointment write failed", zap.Error(err))
		s.logEvent(ctx, a, EventAppointmentCreationFailed, nil, map[string]any{"error": err.Error()})
		s.compensate(ctx, a, doctor.Availability, state)
		return nil, fmt.Errorf("%w: %w", ErrAppointmentCreationFailed, err)
	}
	s.transition(a, state, StateBooked)

	apptID := int64(created.ID)
	s.logEvent(ctx, a, EventAppointmentCreated, &apptID, nil)
	a.log.Info("appointment booked", zap.Int64("appointment_id", apptID))

	return created, nil
}

// compensate writes the pre-reservation availability back. It is never
// retried; a failure leaves the slot booked with no appointment and is
// only recorded.
func (s *Service) compensate(ctx context.Context, a *attempt, original []Slot, state SlotState) {
	ctx = context.WithoutCancel(ctx)

	a.log.Info("restoring original availability")
	if _, err := s.store.UpdateAvailability(ctx, a.req.DoctorID, original); err != nil {
		a.log.Error("compensation failed, slot left booked without appointment",
			zap.Error(err), zap.String("slot_state", string(state)))
		s.logEvent(ctx, a, EventCompensationFailed, nil, map[string]any{"error": err.Error()})
		return
	}

	s.transition(a, state, StateAvailable)
	s.logEvent(ctx, a, EventCompensationSucceeded, nil, nil)
}

func (s *Service) transition(a *attempt, from, to SlotState) SlotState {
	next, err := from.Transition(to)
	if err != nil {
		a.log.Error("unexpected slot transition", zap.Error(err))
		return from
	}
	a.log.Debug("slot state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	return next
}

func (s *Service) logEvent(ctx context.Context, a *attempt, eventType string, appointmentID *int64, payload map[string]any) {
	var data []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			a.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		} else {
			data = b
		}
	}

	ev := Event{
		AttemptID:     a.id,
		Type:          eventType,
		DoctorID:      a.req.DoctorID,
		TimeSlot:      a.req.Slot,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.events.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		a.log.Warn("failed to insert booking event", zap.String("event", eventType), zap.Error(err))
	}
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.store.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.store.GetDoctor(ctx, id)
}

// GetConfirmation loads a created appointment together with its doctor.
func (s *Service) GetConfirmation(ctx context.Context, appointmentID int64) (*Confirmation, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	doctor, err := s.store.GetDoctor(ctx, int64(appt.DoctorID))
	if err != nil {
		return nil, err
	}

	return &Confirmation{
		Appointment: *appt,
		Doctor: DoctorSummary{
			ID:             doctor.ID,
			Name:           doctor.Name,
			Specialization: doctor.Specialization,
		},
	}, nil
}

// AuditCompensationFailures re-reads the store for every failed
// compensation since the given time and reports the slots that are still
// booked with no appointment referencing them. It performs no writes.
func (s *Service) AuditCompensationFailures(ctx context.Context, since time.Time) ([]Inconsistency, error) {
	events, err := s.events.ListEvents(ctx, EventCompensationFailed, since)
	if err != nil {
		return nil, fmt.Errorf("list compensation failures: %w", err)
	}

	seen := make(map[string]bool)
	var result []Inconsistency

	for _, ev := range events {
		key := fmt.Sprintf("%d|%s", ev.DoctorID, ev.TimeSlot)
		if seen[key] {
			continue
		}
		seen[key] = true

		doctor, err := s.store.GetDoctor(ctx, ev.DoctorID)
		if err != nil {
			if errors.Is(err, ErrDoctorNotFound) {
				s.log.Warn("audited doctor no longer exists", zap.Int64("doctor_id", ev.DoctorID))
				continue
			}
			return nil, fmt.Errorf("audit doctor %d: %w", ev.DoctorID, err)
		}

		idx, ok := FindSlot(doctor.Availability, ev.TimeSlot)
		if !ok || doctor.Availability[idx].Status != SlotBooked {
			continue
		}

		appts, err := s.store.FindAppointments(ctx, ev.DoctorID, ev.TimeSlot)
		if err != nil {
			return nil, fmt.Errorf("audit appointments for doctor %d: %w", ev.DoctorID, err)
		}
		if len(appts) > 0 {
			continue
		}

		result = append(result, Inconsistency{
			AttemptID: ev.AttemptID,
			DoctorID:  ev.DoctorID,
			TimeSlot:  ev.TimeSlot,
			FailedAt:  ev.CreatedAt,
		})
	}

	return result, nil
}
