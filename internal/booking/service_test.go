package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/doctor-booking/internal/redis"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestService(store Store, events EventLog) *Service {
	svc := NewService(store, newMemLocker(), events, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func validRequest() BookingRequest {
	return BookingRequest{
		DoctorID:       1,
		PatientName:    "Jane Doe",
		Slot:           "Monday - 10:00 AM",
		MedicalReason:  "checkup",
		Allergies:      "pollen",
		Medications:    "",
		MedicalHistory: "",
	}
}

func TestBook_Success(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	events := &memEventLog{}
	svc := newTestService(store, events)

	appt, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, ID(1), appt.ID)
	assert.Equal(t, ID(1), appt.DoctorID)
	assert.Equal(t, "Jane Doe", appt.PatientName)
	assert.Equal(t, "Monday - 10:00 AM", appt.TimeSlot)
	assert.Equal(t, AppointmentConfirmed, appt.Status)
	assert.Equal(t, "2026-03-02T09:30:00.000Z", appt.Date)
	assert.Equal(t, "pollen", appt.Allergies)

	d, err := store.GetDoctor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []Slot{
		{Day: "Monday", Time: "09:00 AM", Status: SlotBooked},
		{Day: "Monday", Time: "10:00 AM", Status: SlotBooked},
		{Day: "Tuesday", Time: "10:00 AM", Status: SlotAvailable},
	}, d.Availability)

	assert.Equal(t, []string{EventSlotReserved, EventAppointmentCreated}, events.types())
}

func TestBook_RoundTripThroughConfirmation(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	svc := newTestService(store, nil)

	appt, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err)

	conf, err := svc.GetConfirmation(context.Background(), int64(appt.ID))
	require.NoError(t, err)
	assert.Equal(t, ID(1), conf.Appointment.DoctorID)
	assert.Equal(t, "Monday - 10:00 AM", conf.Appointment.TimeSlot)
	assert.Equal(t, "Jane Doe", conf.Appointment.PatientName)
	assert.Equal(t, DoctorSummary{ID: 1, Name: "Dr. House", Specialization: "Diagnostics"}, conf.Doctor)
}

func TestBook_DoctorNotFoundWritesNothing(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	_, err := svc.Book(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.Zero(t, store.writes())
}

func TestBook_LookupTransportErrorIsGeneric(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.failGetDoctor = errStoreDown
	svc := newTestService(store, nil)

	_, err := svc.Book(context.Background(), validRequest())
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, ErrDoctorNotFound)
}

func TestBook_SlotNotFound(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	svc := newTestService(store, nil)

	req := validRequest()
	req.Slot = "Sunday - 10:00 AM"
	_, err := svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.Zero(t, store.writes())
}

func TestBook_BookedSlotConflictsWithoutWrites(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	svc := newTestService(store, nil)

	req := validRequest()
	req.Slot = "Monday - 09:00 AM"
	_, err := svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Zero(t, store.writes())
}

func TestBook_ReservationWriteFailure(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.failUpdateCalls[1] = errStoreDown
	events := &memEventLog{}
	svc := newTestService(store, events)

	_, err := svc.Book(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrReservationWriteFailed)
	assert.Zero(t, store.createApptCalls)
	assert.Equal(t, 1, store.updateCalls, "no compensation when nothing was committed")
	assert.Equal(t, []string{EventReservationFailed}, events.types())
}

func TestBook_AppointmentFailureCompensates(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.failCreateAppt = errStoreDown
	events := &memEventLog{}
	svc := newTestService(store, events)

	_, err := svc.Book(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrAppointmentCreationFailed)

	require.Len(t, store.availabilityWrites, 2)
	assert.Equal(t, sampleDoctor().Availability, store.availabilityWrites[1])

	d, _ := store.GetDoctor(context.Background(), 1)
	assert.Equal(t, sampleDoctor().Availability, d.Availability)

	assert.Equal(t, []string{
		EventSlotReserved,
		EventAppointmentCreationFailed,
		EventCompensationSucceeded,
	}, events.types())
}

func TestBook_CompensationFailureStillReportsCreationFailure(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.failCreateAppt = errStoreDown
	store.failUpdateCalls[2] = errors.New("patch rejected")
	events := &memEventLog{}
	svc := newTestService(store, events)

	_, err := svc.Book(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrAppointmentCreationFailed)
	assert.Equal(t, 2, store.updateCalls, "compensation is attempted exactly once")

	d, _ := store.GetDoctor(context.Background(), 1)
	idx, ok := FindSlot(d.Availability, "Monday - 10:00 AM")
	require.True(t, ok)
	assert.Equal(t, SlotBooked, d.Availability[idx].Status)

	assert.Equal(t, []string{
		EventSlotReserved,
		EventAppointmentCreationFailed,
		EventCompensationFailed,
	}, events.types())
}

func TestBook_CompensationSurvivesCancelledRequest(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.failCreateAppt = errStoreDown
	svc := newTestService(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancellingStore := &cancelOnCreate{memStore: store, cancel: cancel}
	svc.store = cancellingStore

	_, err := svc.Book(ctx, validRequest())
	assert.ErrorIs(t, err, ErrAppointmentCreationFailed)
	require.Len(t, store.availabilityWrites, 2)
	assert.NoError(t, cancellingStore.compensationCtxErr)
}

// cancelOnCreate cancels the request context when the appointment write
// fails, then records the context the compensating write ran with.
type cancelOnCreate struct {
	*memStore
	cancel             context.CancelFunc
	created            bool
	compensationCtxErr error
}

func (c *cancelOnCreate) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	c.created = true
	c.cancel()
	return c.memStore.CreateAppointment(ctx, a)
}

func (c *cancelOnCreate) UpdateAvailability(ctx context.Context, id int64, slots []Slot) (*Doctor, error) {
	if c.created {
		c.compensationCtxErr = ctx.Err()
	}
	return c.memStore.UpdateAvailability(ctx, id, slots)
}

func TestBook_EventLogFailureDoesNotFailBooking(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	svc := newTestService(store, &memEventLog{fail: errors.New("db down")})

	_, err := svc.Book(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestBook_LockHeldIsReportedAsBeingBooked(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	locker := newMemLocker()
	locker.wait = 20 * time.Millisecond
	locker.hold(1)

	svc := NewService(store, locker, nil, zap.NewNop())
	_, err := svc.Book(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
	assert.Zero(t, store.writes())
}

func TestBook_ConcurrentRequestsForSameSlotBookOnce(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	svc := newTestService(store, nil)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Book(context.Background(), validRequest())
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrSlotBeingBooked) || errors.Is(err, ErrSlotConflict), err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, store.createApptCalls)
}

func TestGetConfirmation_MissingAppointment(t *testing.T) {
	svc := newTestService(newMemStore(*sampleDoctor()), nil)

	_, err := svc.GetConfirmation(context.Background(), 42)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestAuditCompensationFailures(t *testing.T) {
	doctor := *sampleDoctor()
	store := newMemStore(doctor)
	store.failCreateAppt = errStoreDown
	store.failUpdateCalls[2] = errors.New("patch rejected")
	events := &memEventLog{}
	svc := newTestService(store, events)

	_, err := svc.Book(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrAppointmentCreationFailed)

	// the same failure recorded twice is reported once
	events.events = append(events.events, events.events[len(events.events)-1])

	found, err := svc.AuditCompensationFailures(context.Background(), fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(1), found[0].DoctorID)
	assert.Equal(t, "Monday - 10:00 AM", found[0].TimeSlot)
	assert.Equal(t, fixedNow, found[0].FailedAt)

	writesBefore := store.writes()

	// once an appointment exists for the slot it is no longer inconsistent
	store.failCreateAppt = nil
	_, err = store.CreateAppointment(context.Background(), Appointment{DoctorID: 1, TimeSlot: "Monday - 10:00 AM"})
	require.NoError(t, err)

	found, err = svc.AuditCompensationFailures(context.Background(), fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, writesBefore+1, store.writes(), "audit performs no writes")
}

func TestAuditCompensationFailures_OutsideWindow(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	events := &memEventLog{events: []Event{{
		Type:      EventCompensationFailed,
		DoctorID:  1,
		TimeSlot:  "Monday - 09:00 AM",
		CreatedAt: fixedNow.Add(-48 * time.Hour),
	}}}
	svc := newTestService(store, events)

	found, err := svc.AuditCompensationFailures(context.Background(), fixedNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, found)
}

var _ redisclient.Locker = (*memLocker)(nil)

func newRedisLocker(t *testing.T, ttl time.Duration, opts ...redisclient.LockOption) redisclient.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := redisclient.NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return redisclient.NewRedisDoctorLocker(rdb, ttl, opts...)
}

func TestBook_ConcurrentBookingsOfDifferentSlotsForOneDoctorBothSucceed(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.slowUpdate = 100 * time.Millisecond

	locker := newRedisLocker(t, 5*time.Second, redisclient.WithWaitTimeout(2*time.Second))
	svc := NewService(store, locker, nil, zap.NewNop())

	slots := []string{"Monday - 10:00 AM", "Tuesday - 10:00 AM"}
	errs := make([]error, len(slots))

	var wg sync.WaitGroup
	for i, slot := range slots {
		wg.Add(1)
		go func(i int, slot string) {
			defer wg.Done()
			req := validRequest()
			req.Slot = slot
			_, errs[i] = svc.Book(context.Background(), req)
		}(i, slot)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, slots[i])
	}

	d, err := store.GetDoctor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []Slot{
		{Day: "Monday", Time: "09:00 AM", Status: SlotBooked},
		{Day: "Monday", Time: "10:00 AM", Status: SlotBooked},
		{Day: "Tuesday", Time: "10:00 AM", Status: SlotBooked},
	}, d.Availability)
	assert.Equal(t, 2, store.createApptCalls)
}

func TestBook_SecondBookingOfSameSlotWaitsThenConflicts(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.slowUpdate = 50 * time.Millisecond

	locker := newRedisLocker(t, 5*time.Second, redisclient.WithWaitTimeout(2*time.Second))
	svc := NewService(store, locker, nil, zap.NewNop())

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), validRequest())
		}(i)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSlotConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestBook_CompensationFinishesBeforeLockExpires(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.blockCreateAppt = true

	ttl := time.Second
	locker := newRedisLocker(t, ttl, redisclient.WithReleaseMargin(500*time.Millisecond))
	svc := NewService(store, locker, nil, zap.NewNop())

	start := time.Now()
	var writesAt []time.Duration
	store.onUpdate = func() { writesAt = append(writesAt, time.Since(start)) }

	_, err := svc.Book(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrAppointmentCreationFailed)

	require.Len(t, writesAt, 2)
	compensationAt := writesAt[1]
	assert.GreaterOrEqual(t, compensationAt, 400*time.Millisecond)
	assert.Less(t, compensationAt, ttl)

	d, err := store.GetDoctor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, sampleDoctor().Availability, d.Availability)
}

func TestBook_UnreadableCreateResponseKeepsSlotBooked(t *testing.T) {
	store := newMemStore(*sampleDoctor())
	store.undecodableAppt = true
	events := &memEventLog{}
	svc := newTestService(store, events)

	appt, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Zero(t, appt.ID)
	assert.Equal(t, "Monday - 10:00 AM", appt.TimeSlot)

	assert.Len(t, store.availabilityWrites, 1)
	assert.Len(t, store.appointments, 1)
	assert.Equal(t, []string{EventSlotReserved, EventAppointmentCreated}, events.types())

	d, err := store.GetDoctor(context.Background(), 1)
	require.NoError(t, err)
	idx, ok := FindSlot(d.Availability, "Monday - 10:00 AM")
	require.True(t, ok)
	assert.Equal(t, SlotBooked, d.Availability[idx].Status)
}
