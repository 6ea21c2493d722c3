package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-booking/internal/booking"
	"github.com/hackgods/doctor-booking/internal/config"
	"github.com/hackgods/doctor-booking/internal/logger"
)

var reasons = []string{
	"Annual checkup",
	"Persistent headache",
	"Follow-up visit",
	"Skin rash",
	"Back pain",
	"Prescription renewal",
}

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ReadRatio    float64
	DoctorLimit  int
}

// target is one bookable doctor slot.
type target struct {
	DoctorID booking.ID
	Slot     string
}

type DataPool struct {
	Targets []target

	mu           sync.RWMutex
	appointments []booking.ID
	bookedBy     map[target]int
}

func newDataPool(targets []target) *DataPool {
	return &DataPool{Targets: targets, bookedBy: make(map[target]int)}
}

func (dp *DataPool) AddAppointment(t target, id booking.ID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookedBy[t]++
	if id != 0 {
		dp.appointments = append(dp.appointments, id)
	}
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booking.ID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// DoubleBooked lists slots that got more than one successful booking.
func (dp *DataPool) DoubleBooked() []target {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	var out []target
	for t, n := range dp.bookedBy {
		if n > 1 {
			out = append(out, t)
		}
	}
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Throttled int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

// RecordThrottled counts a 429. Throttled requests stay out of the latency
// figures since they never reach the booking workflow.
func (om *OperationMetrics) RecordThrottled() {
	atomic.AddInt64(&om.Total, 1)
	atomic.AddInt64(&om.Throttled, 1)
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = percentile(latencies, 50)
	p95 = percentile(latencies, 95)
	return avg, min, max, p50, p95
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Metrics struct {
	Booking      OperationMetrics
	Confirmation OperationMetrics
	ListDoctors  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(base.Env, base.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		zl.Fatal("invalid simulator config", zap.Error(err))
	}
	zl.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking_ratio", cfg.BookingRatio),
		zap.Float64("read_ratio", cfg.ReadRatio),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zl,
	}

	loadCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	targets, err := sim.loadTargets(loadCtx)
	cancel()
	if err != nil {
		zl.Fatal("load doctors", zap.Error(err))
	}
	sim.pool = newDataPool(targets)
	zl.Info("loaded bookable slots", zap.Int("slots", len(targets)))

	sim.Run(rootCtx)
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.7),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 50),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.BookingRatio <= 0 {
		return fmt.Errorf("SIM_BOOKING_RATIO must be > 0")
	}
	return nil
}

// loadTargets collects the available slots of the first DoctorLimit doctors.
func (s *Simulator) loadTargets(ctx context.Context) ([]target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/api/doctors", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list doctors: status %d", resp.StatusCode)
	}

	var doctors []booking.Doctor
	if err := json.NewDecoder(resp.Body).Decode(&doctors); err != nil {
		return nil, fmt.Errorf("decode doctors: %w", err)
	}
	return collectTargets(doctors, s.config.DoctorLimit)
}

func collectTargets(doctors []booking.Doctor, limit int) ([]target, error) {
	if limit > 0 && len(doctors) > limit {
		doctors = doctors[:limit]
	}
	var targets []target
	for _, d := range doctors {
		for _, slot := range d.Availability {
			if slot.Status == booking.SlotAvailable {
				targets = append(targets, target{DoctorID: d.ID, Slot: slot.Key()})
			}
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no available slots, run cmd/seed first")
	}
	return targets, nil
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := time.Now().UnixNano() + int64(workerID)
	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(uint64(seed))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < s.config.BookingRatio {
				s.doBooking(ctx, rng, faker)
				continue
			}
			if rng.Intn(2) == 0 {
				s.doConfirmation(ctx, rng)
			} else {
				s.doListDoctors(ctx)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	body, _ := json.Marshal(map[string]any{
		"doctorId":      int64(t.DoctorID),
		"patientName":   faker.FirstName() + " " + faker.LastName(),
		"slot":          t.Slot,
		"medicalReason": faker.RandomString(reasons),
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		// The run deadline cancels in-flight requests; those are not errors.
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.metrics.Booking.RecordThrottled()
		return
	}

	success := resp.StatusCode == http.StatusOK
	conflict := resp.StatusCode == http.StatusConflict
	if success {
		var created struct {
			Appointment struct {
				ID booking.ID `json:"id"`
			} `json:"appointment"`
		}
		if b, err := io.ReadAll(resp.Body); err == nil {
			_ = json.Unmarshal(b, &created)
		}
		s.pool.AddAppointment(t, created.Appointment.ID)
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doConfirmation(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timedGet(ctx, &s.metrics.Confirmation, fmt.Sprintf("%s/api/appointments/%d", s.config.APIBaseURL, id))
}

func (s *Simulator) doListDoctors(ctx context.Context) {
	s.timedGet(ctx, &s.metrics.ListDoctors, s.config.APIBaseURL+"/api/doctors")
}

func (s *Simulator) timedGet(ctx context.Context, om *OperationMetrics, url string) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		om.RecordThrottled()
		return
	}
	om.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Bookable slots: %d\n", len(s.pool.Targets))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirmation", &s.metrics.Confirmation)
	printOperationReport("List doctors", &s.metrics.ListDoctors)

	doubled := s.pool.DoubleBooked()
	if len(doubled) == 0 {
		fmt.Println("Double bookings: none")
		return
	}
	fmt.Printf("Double bookings: %d\n", len(doubled))
	for _, t := range doubled {
		fmt.Printf("  doctor %d, %s\n", t.DoctorID, t.Slot)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	throttled := atomic.LoadInt64(&om.Throttled)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if throttled > 0 {
		fmt.Printf("  Throttled (429): %d (%.1f%%)\n", throttled, float64(throttled)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
