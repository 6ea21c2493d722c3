package booking

import (
	"errors"
	"fmt"
)

var (
	ErrSlotNotFound            = errors.New("specified time slot not found")
	ErrSlotConflict            = errors.New("time slot is no longer available")
	ErrInvalidStatusTransition = errors.New("invalid slot state transition")
)

// SlotState tracks one slot through a booking attempt. The store only
// knows available and booked; reserved covers the window between the
// availability write and the appointment write.
type SlotState string

const (
	StateAvailable SlotState = "available"
	StateReserved  SlotState = "reserved"
	StateBooked    SlotState = "booked"
)

var slotTransitions = map[SlotState][]SlotState{
	StateAvailable: {StateReserved},
	StateReserved:  {StateBooked, StateAvailable},
}

func (s SlotState) Transition(to SlotState) (SlotState, error) {
	for _, allowed := range slotTransitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, s, to)
}

// FindSlot returns the index of the slot whose key matches exactly.
func FindSlot(availability []Slot, key string) (int, bool) {
	for i, slot := range availability {
		if slot.Key() == key {
			return i, true
		}
	}
	return -1, false
}

// ReserveSlot returns a copy of the doctor's availability with the slot
// identified by key marked booked. The doctor is left untouched.
func ReserveSlot(d *Doctor, key string) ([]Slot, error) {
	idx, ok := FindSlot(d.Availability, key)
	if !ok {
		return nil, ErrSlotNotFound
	}
	if d.Availability[idx].Status != SlotAvailable {
		return nil, fmt.Errorf("%w: status %q", ErrSlotConflict, d.Availability[idx].Status)
	}

	updated := make([]Slot, len(d.Availability))
	copy(updated, d.Availability)
	updated[idx].Status = SlotBooked

	return updated, nil
}
