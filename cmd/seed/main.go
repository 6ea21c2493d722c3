package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-booking/internal/booking"
	"github.com/hackgods/doctor-booking/internal/config"
	"github.com/hackgods/doctor-booking/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

func main() {
	if err := newSeedCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSeedCmd() *cobra.Command {
	var (
		doctors     int
		slotsPerDay int
		storeURL    string
		seed        int64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the doctors store with fake doctors and open slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if storeURL == "" {
				storeURL = cfg.StoreURL
			}
			if doctors <= 0 || slotsPerDay <= 0 || slotsPerDay > 8 {
				return fmt.Errorf("--doctors must be > 0 and --slots-per-day in 1..8")
			}

			zl, err := logger.New(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			faker := gofakeit.New(uint64(seed))

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			store := booking.NewHTTPStore(storeURL, cfg.StoreTimeout)
			return seedDoctors(ctx, zl, faker, store, doctors, slotsPerDay)
		},
	}

	cmd.Flags().IntVar(&doctors, "doctors", 10, "number of doctors to create")
	cmd.Flags().IntVar(&slotsPerDay, "slots-per-day", 4, "hourly slots per weekday, starting 09:00 AM")
	cmd.Flags().StringVar(&storeURL, "store-url", "", "store base URL (defaults to STORE_URL)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = time based)")

	return cmd
}

func seedDoctors(ctx context.Context, zl *zap.Logger, faker *gofakeit.Faker, store booking.Store, count, slotsPerDay int) error {
	zl.Info("seeding doctors", zap.Int("count", count))

	for i := 0; i < count; i++ {
		d := booking.Doctor{
			Name:           "Dr. " + faker.Name(),
			Specialization: specialties[faker.Number(0, len(specialties)-1)],
			Availability:   weekSlots(slotsPerDay),
		}

		created, err := store.CreateDoctor(ctx, d)
		if err != nil {
			return fmt.Errorf("create doctor %d: %w", i+1, err)
		}
		zl.Debug("doctor created", zap.Int64("id", int64(created.ID)), zap.String("name", created.Name))
	}

	zl.Info("doctors seeded", zap.Int("count", count))
	return nil
}

// weekSlots builds hourly 12-hour clock slots from 09:00 AM for each weekday.
func weekSlots(perDay int) []booking.Slot {
	slots := make([]booking.Slot, 0, len(weekdays)*perDay)
	for _, day := range weekdays {
		for h := 0; h < perDay; h++ {
			slots = append(slots, booking.Slot{
				Day:    day,
				Time:   clock(9 + h),
				Status: booking.SlotAvailable,
			})
		}
	}
	return slots
}

func clock(hour24 int) string {
	suffix := "AM"
	if hour24 >= 12 {
		suffix = "PM"
	}
	h := hour24 % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:00 %s", h, suffix)
}
