package booking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const maxErrorBody = 4 << 10

type HTTPStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// do sends body (if any) as JSON and decodes a 2xx response into out (if any).
func (s *HTTPStore) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("store %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("store %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("store %s: send request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StoreError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("store %s: %w: %w", op, ErrUnreadableResponse, err)
	}
	return nil
}

func (s *HTTPStore) ListDoctors(ctx context.Context) ([]Doctor, error) {
	var doctors []Doctor
	if err := s.do(ctx, "list doctors", http.MethodGet, "/doctors", nil, &doctors); err != nil {
		return nil, err
	}
	return doctors, nil
}

func (s *HTTPStore) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	var d Doctor
	err := s.do(ctx, "get doctor", http.MethodGet, "/doctors/"+strconv.FormatInt(id, 10), nil, &d)
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %w", ErrDoctorNotFound, err)
		}
		return nil, err
	}
	return &d, nil
}

func (s *HTTPStore) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	var created Doctor
	if err := s.do(ctx, "create doctor", http.MethodPost, "/doctors", d, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *HTTPStore) UpdateAvailability(ctx context.Context, doctorID int64, availability []Slot) (*Doctor, error) {
	patch := struct {
		Availability []Slot `json:"availability"`
	}{Availability: availability}

	var updated Doctor
	err := s.do(ctx, "update availability", http.MethodPatch, "/doctors/"+strconv.FormatInt(doctorID, 10), patch, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *HTTPStore) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	a.ID = 0

	var created Appointment
	if err := s.do(ctx, "create appointment", http.MethodPost, "/appointments", a, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *HTTPStore) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	var a Appointment
	err := s.do(ctx, "get appointment", http.MethodGet, "/appointments/"+strconv.FormatInt(id, 10), nil, &a)
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %w", ErrAppointmentNotFound, err)
		}
		return nil, err
	}
	return &a, nil
}

func (s *HTTPStore) FindAppointments(ctx context.Context, doctorID int64, timeSlot string) ([]Appointment, error) {
	q := url.Values{}
	q.Set("doctorId", strconv.FormatInt(doctorID, 10))
	q.Set("timeSlot", timeSlot)

	var appts []Appointment
	if err := s.do(ctx, "find appointments", http.MethodGet, "/appointments?"+q.Encode(), nil, &appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", http.MethodGet, "/doctors", nil, nil)
}
