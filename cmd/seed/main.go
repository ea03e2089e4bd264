package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/auth"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/logging"
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

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("dev", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	doctors := getInt("SEED_DOCTORS", 20)
	users := getInt("SEED_USERS", 200)
	days := getInt("SEED_DAYS", 7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	repo := appointment.NewPgRepository(pool)
	svc := appointment.NewService(repo, appointment.Options{Logger: zerolog.Nop()})

	doctorIDs, err := seedDoctors(ctx, repo, svc, doctors, days, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	userIDs, err := seedUsers(ctx, repo, users, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed users")
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	printToken(tokens, "user", userIDs[0], appointment.RoleUser, logger)
	printToken(tokens, "doctor", doctorIDs[0], appointment.RoleDoctor, logger)
	printToken(tokens, "admin", uuid.New(), appointment.RoleAdmin, logger)

	logger.Info().Int("doctors", len(doctorIDs)).Int("users", len(userIDs)).Msg("seed complete")
}

func seedDoctors(ctx context.Context, repo *appointment.PgRepository, svc *appointment.Service, count, days int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Int("days", days).Msg("seeding doctors")

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		d, err := repo.CreateDoctor(ctx, appointment.Doctor{
			Name:           "Dr. " + gofakeit.Name(),
			Email:          uniqueEmail("dr", i),
			Specialization: specialties[gofakeit.Number(0, len(specialties)-1)],
		})
		if err != nil {
			return nil, err
		}

		for day := 1; day <= days; day++ {
			date := time.Now().AddDate(0, 0, day).Format(appointment.DateLayout)
			if _, err := svc.PublishAvailability(ctx, d.ID, date, randomSlots()); err != nil {
				return nil, fmt.Errorf("publish %s for %s: %w", date, d.ID, err)
			}
		}
		ids = append(ids, d.ID)
	}

	logger.Info().Msg("doctors seeded")
	return ids, nil
}

func seedUsers(ctx context.Context, repo *appointment.PgRepository, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding users")

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		u, err := repo.CreateUser(ctx, appointment.User{
			Name:   gofakeit.Name(),
			Email:  uniqueEmail("patient", i),
			Age:    gofakeit.Number(1, 95),
			Height: gofakeit.Number(50, 210),
			Weight: gofakeit.Number(3, 150),
			Gender: gofakeit.Gender(),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)

		if (i+1)%100 == 0 {
			logger.Info().Msgf("users seeded: %d/%d", i+1, count)
		}
	}

	logger.Info().Msg("users seeded")
	return ids, nil
}

// randomSlots picks a subset of the half-hour labels between 09:00 and 17:00.
func randomSlots() []string {
	var slots []string
	for minutes := 9 * 60; minutes < 17*60; minutes += 30 {
		if gofakeit.Bool() {
			slots = append(slots, fmt.Sprintf("%02d:%02d", minutes/60, minutes%60))
		}
	}
	return slots
}

func uniqueEmail(prefix string, i int) string {
	return fmt.Sprintf("%s.%d.%s@%s", prefix, i, strings.ToLower(gofakeit.Username()), "clinic.test")
}

func printToken(tokens *auth.TokenManager, label string, id uuid.UUID, role appointment.Role, logger zerolog.Logger) {
	tok, err := tokens.Issue(id, role)
	if err != nil {
		logger.Error().Err(err).Str("role", string(role)).Msg("issue token")
		return
	}
	fmt.Printf("%-6s %s\n       Bearer %s\n", label, id, tok)
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
