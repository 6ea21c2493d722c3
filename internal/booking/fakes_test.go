package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/hackgods/doctor-booking/internal/redis"
)

// memStore is an in-memory Store with per-call failure injection.
type memStore struct {
	mu           sync.Mutex
	doctors      map[int64]Doctor
	appointments map[int64]Appointment
	nextApptID   int64

	failGetDoctor      error
	failCreateAppt     error
	undecodableAppt    bool // create succeeds but the response cannot be read
	slowUpdate         time.Duration
	onUpdate           func()
	blockCreateAppt    bool // create waits for ctx to end
	failUpdateCalls    map[int]error // 1-based call index -> error
	updateCalls        int
	availabilityWrites [][]Slot
	createApptCalls    int
}

func newMemStore(doctors ...Doctor) *memStore {
	s := &memStore{
		doctors:         make(map[int64]Doctor),
		appointments:    make(map[int64]Appointment),
		failUpdateCalls: make(map[int]error),
	}
	for _, d := range doctors {
		s.doctors[int64(d.ID)] = cloneDoctor(d)
	}
	return s
}

func cloneDoctor(d Doctor) Doctor {
	d.Availability = append([]Slot(nil), d.Availability...)
	return d
}

func (s *memStore) ListDoctors(ctx context.Context) ([]Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Doctor
	for _, d := range s.doctors {
		out = append(out, cloneDoctor(d))
	}
	return out, nil
}

func (s *memStore) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGetDoctor != nil {
		return nil, s.failGetDoctor
	}
	d, ok := s.doctors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrDoctorNotFound, &StoreError{Op: "get doctor", StatusCode: 404})
	}
	c := cloneDoctor(d)
	return &c, nil
}

func (s *memStore) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = ID(len(s.doctors) + 1)
	s.doctors[int64(d.ID)] = cloneDoctor(d)
	return &d, nil
}

func (s *memStore) UpdateAvailability(ctx context.Context, doctorID int64, availability []Slot) (*Doctor, error) {
	if s.onUpdate != nil {
		s.onUpdate()
	}
	if s.slowUpdate > 0 {
		time.Sleep(s.slowUpdate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if err := s.failUpdateCalls[s.updateCalls]; err != nil {
		return nil, err
	}
	d, ok := s.doctors[doctorID]
	if !ok {
		return nil, &StoreError{Op: "update availability", StatusCode: 404}
	}
	d.Availability = append([]Slot(nil), availability...)
	s.doctors[doctorID] = d
	s.availabilityWrites = append(s.availabilityWrites, d.Availability)
	c := cloneDoctor(d)
	return &c, nil
}

func (s *memStore) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if s.blockCreateAppt {
		<-ctx.Done()
		s.mu.Lock()
		s.createApptCalls++
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.createApptCalls++
	if s.failCreateAppt != nil {
		return nil, s.failCreateAppt
	}
	s.nextApptID++
	a.ID = ID(s.nextApptID)
	s.appointments[s.nextApptID] = a
	if s.undecodableAppt {
		return nil, fmt.Errorf("store create appointment: %w: invalid id", ErrUnreadableResponse)
	}
	return &a, nil
}

func (s *memStore) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrAppointmentNotFound, &StoreError{Op: "get appointment", StatusCode: 404})
	}
	return &a, nil
}

func (s *memStore) FindAppointments(ctx context.Context, doctorID int64, timeSlot string) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.appointments {
		if int64(a.DoctorID) == doctorID && a.TimeSlot == timeSlot {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCalls + s.createApptCalls
}

// memLocker mirrors the Redis locker: a held lock is waited on for up to
// wait, then rejected.
type memLocker struct {
	mu   sync.Mutex
	held map[int64]chan struct{}
	wait time.Duration
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[int64]chan struct{}), wait: time.Second}
}

func (l *memLocker) sem(doctorID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.held[doctorID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.held[doctorID] = ch
	}
	return ch
}

// hold takes the doctor's lock on behalf of another booking.
func (l *memLocker) hold(doctorID int64) {
	l.sem(doctorID) <- struct{}{}
}

func (l *memLocker) WithDoctorLock(ctx context.Context, doctorID int64, fn func(ctx context.Context) error) error {
	ch := l.sem(doctorID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return redisclient.ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()

	return fn(ctx)
}

type memEventLog struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

func (m *memEventLog) InsertEvent(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memEventLog) ListEvents(ctx context.Context, eventType string, since time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Type == eventType && !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEventLog) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

var errStoreDown = errors.New("store unavailable")
