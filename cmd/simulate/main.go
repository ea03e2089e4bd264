package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/auth"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/logging"
)

// SimConfig drives a same-slot race: every round publishes one slot and
// fires Contenders simultaneous bookings at it.
type SimConfig struct {
	APIBaseURL string
	Rounds     int
	Contenders int
	Readers    int
}

type OperationMetrics struct {
	Total       int64
	Success     int64
	Unavailable int64
	Error       int64
	Latencies   []time.Duration
	mu          sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, unavailable bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if unavailable {
		atomic.AddInt64(&om.Unavailable, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95), pct(99)
}

type Simulator struct {
	config      SimConfig
	client      *http.Client
	doctorToken string
	log         zerolog.Logger
	doctorID    uuid.UUID
	userTokens  []string
	date        string
	booking     OperationMetrics
	reads       OperationMetrics
	doubleBooks int
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fallback := logging.New("dev", "info")
		fallback.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel)

	cfg := SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Rounds:     getInt("SIM_ROUNDS", 10),
		Contenders: getInt("SIM_CONTENDERS", 50),
		Readers:    getInt("SIM_READERS", 4),
	}
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Int("rounds", cfg.Rounds).
		Int("contenders", cfg.Contenders).
		Int("readers", cfg.Readers).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
		date:   time.Now().AddDate(0, 0, 30).Format(appointment.DateLayout),
	}

	repo := appointment.NewPgRepository(pool)
	svc := appointment.NewService(repo, appointment.Options{Logger: zerolog.Nop()})
	tokens := auth.NewTokenManager(baseCfg.JWTSecret, baseCfg.JWTIssuer, time.Hour)

	if err := sim.prepare(ctx, repo, tokens); err != nil {
		logger.Fatal().Err(err).Msg("prepare data")
	}

	if err := sim.Run(); err != nil {
		logger.Fatal().Err(err).Msg("simulation aborted")
	}
	sim.PrintReport()

	booked, err := svc.ListDoctorAppointments(context.Background(), sim.doctorID)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify ledger")
	}
	if len(booked) > cfg.Rounds || sim.doubleBooks > 0 {
		logger.Error().
			Int("appointments", len(booked)).
			Int("slots", cfg.Rounds).
			Int("double_booked_rounds", sim.doubleBooks).
			Msg("double booking detected")
		os.Exit(1)
	}
	logger.Info().Int("appointments", len(booked)).Msg("no slot was granted twice")
}

func validateConfig(cfg SimConfig) error {
	if cfg.Rounds <= 0 || cfg.Rounds > 48 {
		return fmt.Errorf("SIM_ROUNDS must be between 1 and 48")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.Readers < 0 {
		return fmt.Errorf("SIM_READERS must be >= 0")
	}
	return nil
}

// prepare creates a dedicated doctor and one user per contender.
func (s *Simulator) prepare(ctx context.Context, repo *appointment.PgRepository, tokens *auth.TokenManager) error {
	run := uuid.NewString()[:8]

	doc, err := repo.CreateDoctor(ctx, appointment.Doctor{
		Name:           "Dr. Simulation " + run,
		Email:          fmt.Sprintf("sim-%s@clinic.test", run),
		Specialization: "Simulation",
	})
	if err != nil {
		return err
	}
	s.doctorID = doc.ID
	if s.doctorToken, err = tokens.Issue(doc.ID, appointment.RoleDoctor); err != nil {
		return err
	}

	for i := 0; i < s.config.Contenders; i++ {
		u, err := repo.CreateUser(ctx, appointment.User{
			Name:  fmt.Sprintf("Contender %d", i),
			Email: fmt.Sprintf("sim-%s-%d@clinic.test", run, i),
		})
		if err != nil {
			return err
		}
		tok, err := tokens.Issue(u.ID, appointment.RoleUser)
		if err != nil {
			return err
		}
		s.userTokens = append(s.userTokens, tok)
	}

	s.log.Info().Str("doctor_id", doc.ID.String()).Str("date", s.date).Msg("simulation data ready")
	return nil
}

func (s *Simulator) slots() []string {
	out := make([]string, 0, s.config.Rounds)
	for i := 0; i < s.config.Rounds; i++ {
		minutes := 8*60 + i*15
		out = append(out, fmt.Sprintf("%02d:%02d", minutes/60, minutes%60))
	}
	return out
}

// Run plays every round: open the round's slot, then race the contenders for
// it. Republishing the growing list keeps earlier, already booked slots closed.
func (s *Simulator) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readers sync.WaitGroup
	for i := 0; i < s.config.Readers; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			s.reader(ctx)
		}()
	}

	var err error
	slots := s.slots()
	for i, slot := range slots {
		if err = s.open(ctx, slots[:i+1]); err != nil {
			err = fmt.Errorf("open round %d: %w", i+1, err)
			break
		}
		s.log.Debug().Str("slot", slot).Msg("round opened")

		if winners := s.race(slot); winners > 1 {
			s.doubleBooks++
			s.log.Error().Str("slot", slot).Int("winners", winners).Msg("slot granted more than once")
		}
	}

	cancel()
	readers.Wait()
	if err != nil {
		return err
	}
	s.log.Info().Msg("simulation complete")
	return nil
}

// open publishes slots through the API as the simulation doctor.
func (s *Simulator) open(ctx context.Context, slots []string) error {
	body, err := json.Marshal(map[string]any{"date": s.date, "slots": slots})
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.config.APIBaseURL+"/doctors/me/availability", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.doctorToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish availability: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish availability: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// race fires every contender at slot at once and returns how many won.
func (s *Simulator) race(slot string) int {
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		winners int64
	)

	for _, tok := range s.userTokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			if s.book(tok, slot) {
				atomic.AddInt64(&winners, 1)
			}
		}(tok)
	}

	close(start)
	wg.Wait()
	return int(winners)
}

func (s *Simulator) bookingRequest(token, slot string) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{
		"doctorId": s.doctorID.String(),
		"date":     s.date,
		"slot":     slot,
	})
	if err != nil {
		return nil, fmt.Errorf("encode booking: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build booking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (s *Simulator) book(token, slot string) bool {
	req, err := s.bookingRequest(token, slot)
	if err != nil {
		s.log.Error().Err(err).Str("slot", slot).Msg("booking not sent")
		s.booking.Record(0, false, false)
		return false
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, unavailable := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
		case http.StatusBadRequest:
			var e struct {
				Error string `json:"error"`
			}
			raw, readErr := io.ReadAll(resp.Body)
			unavailable = readErr == nil && json.Unmarshal(raw, &e) == nil && e.Error == "slot_unavailable"
		}
	}

	s.booking.Record(latency, success, unavailable)
	return success
}

func (s *Simulator) reader(ctx context.Context) {
	url := fmt.Sprintf("%s/doctors/%s/slots", s.config.APIBaseURL, s.doctorID)
	for ctx.Err() == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			s.log.Error().Err(err).Msg("build slots request")
			return
		}
		req.Header.Set("Authorization", "Bearer "+s.userTokens[0])

		start := time.Now()
		resp, err := s.client.Do(req)
		latency := time.Since(start)
		if ctx.Err() != nil {
			return
		}

		success := false
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			success = resp.StatusCode == http.StatusOK
		}
		s.reads.Record(latency, success, false)
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Rounds: %d\n", s.config.Rounds)
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Printf("Double-booked rounds: %d\n", s.doubleBooks)
	fmt.Println()

	printOperationReport("Booking", &s.booking)
	printOperationReport("List slots", &s.reads)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	unavailable := atomic.LoadInt64(&om.Unavailable)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if unavailable > 0 {
		fmt.Printf("  Slot unavailable: %d (%.1f%%)\n", unavailable, float64(unavailable)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
