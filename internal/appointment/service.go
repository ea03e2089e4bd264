package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAvailabilityPublished    = "AVAILABILITY_PUBLISHED"
)

const maxSlotLabel = 32

// SlotCache is a read-through cache for a doctor's availability. It is an
// optimisation only: the repository stays the source of truth and the
// allocator never consults it.
//
// Every Invalidate advances the doctor's generation. A reader takes the
// generation before loading from the repository and passes it to Set, which
// drops the write when an invalidation happened in between.
type SlotCache interface {
	Get(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityEntry, bool, error)
	Generation(ctx context.Context, doctorID uuid.UUID) (int64, error)
	Set(ctx context.Context, doctorID uuid.UUID, generation int64, entries []AvailabilityEntry) error
	Invalidate(ctx context.Context, doctorID uuid.UUID) error
}

// Recorder receives booking outcomes for metrics.
type Recorder interface {
	ObserveAllocation(result string)
	ObserveStatusUpdate(status string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAllocation(string)   {}
func (nopRecorder) ObserveStatusUpdate(string) {}

type Options struct {
	Cache       SlotCache
	Metrics     Recorder
	Logger      zerolog.Logger
	IdentityTTL time.Duration // doctor identity cache lifetime, 0 disables it
}

type Service struct {
	repo    Repository
	cache   SlotCache
	metrics Recorder
	log     zerolog.Logger
	doctors *gocache.Cache
}

func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:    repo,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if opts.IdentityTTL > 0 {
		s.doctors = gocache.New(opts.IdentityTTL, 2*opts.IdentityTTL)
	}
	return s
}

// AllocateRequest asks for one slot of one doctor on one date.
type AllocateRequest struct {
	UserID   uuid.UUID
	DoctorID uuid.UUID
	Date     string
	Slot     string
	Status   AppointmentStatus // PENDING when empty
}

// Allocate books req.Slot for req.UserID. The slot leaves the doctor's
// availability and the appointment enters the ledger together or not at all;
// of any number of concurrent calls for the same slot at most one succeeds and
// the rest get ErrSlotUnavailable.
func (s *Service) Allocate(ctx context.Context, req AllocateRequest) (*Appointment, error) {
	req.Date = strings.TrimSpace(req.Date)
	req.Slot = strings.TrimSpace(req.Slot)

	if err := validateAllocate(&req); err != nil {
		s.metrics.ObserveAllocation(allocationResult(err))
		return nil, err
	}

	if _, err := s.repo.GetUserByID(ctx, req.UserID); err != nil {
		s.metrics.ObserveAllocation(allocationResult(err))
		return nil, classify("load user", err)
	}
	if _, err := s.doctor(ctx, req.DoctorID); err != nil {
		s.metrics.ObserveAllocation(allocationResult(err))
		return nil, classify("load doctor", err)
	}

	appt, err := s.repo.AllocateSlot(ctx, AllocateParams{
		UserID:   req.UserID,
		DoctorID: req.DoctorID,
		Date:     req.Date,
		Slot:     req.Slot,
		Status:   req.Status,
		Event: s.newEvent(EventAppointmentCreated, req.DoctorID, map[string]any{
			"user_id": req.UserID.String(),
			"date":    req.Date,
			"slot":    req.Slot,
			"status":  req.Status,
		}),
	})
	if err != nil {
		err = classify("allocate slot", err)
		s.metrics.ObserveAllocation(allocationResult(err))
		if KindOf(err) == KindInternal {
			s.log.Error().Err(err).
				Str("doctor_id", req.DoctorID.String()).
				Str("date", req.Date).
				Str("slot", req.Slot).
				Msg("slot allocation failed")
		}
		return nil, err
	}

	s.invalidate(ctx, req.DoctorID)
	s.metrics.ObserveAllocation("success")
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("date", appt.Date).
		Str("slot", appt.Slot).
		Msg("slot allocated")

	return appt, nil
}

func validateAllocate(req *AllocateRequest) error {
	if req.UserID == uuid.Nil {
		return InvalidInput("userId is required")
	}
	if req.DoctorID == uuid.Nil {
		return InvalidInput("doctorId is required")
	}
	if !ValidDate(req.Date) {
		return InvalidInput("date must be formatted as YYYY-MM-DD")
	}
	if err := validateSlotLabel(req.Slot); err != nil {
		return err
	}

	if req.Status == "" {
		req.Status = StatusPending
		return nil
	}
	st, _ := NormalizeStatus(string(req.Status))
	if st != StatusPending && st != StatusConfirmed {
		return InvalidInput("initial status %q is not allowed", req.Status)
	}
	req.Status = st
	return nil
}

func validateSlotLabel(slot string) error {
	if slot == "" {
		return InvalidInput("slot is required")
	}
	if len(slot) > maxSlotLabel {
		return InvalidInput("slot label must be at most %d characters", maxSlotLabel)
	}
	return nil
}

// PublishAvailability replaces the doctor's slot set for date. Labels already
// held by an active appointment are dropped, so republishing never reopens a
// consumed slot. This is the only path that grows a slot set.
func (s *Service) PublishAvailability(ctx context.Context, doctorID uuid.UUID, date string, slots []string) (*AvailabilityEntry, error) {
	date = strings.TrimSpace(date)
	if doctorID == uuid.Nil {
		return nil, InvalidInput("doctorId is required")
	}
	if !ValidDate(date) {
		return nil, InvalidInput("date must be formatted as YYYY-MM-DD")
	}
	cleaned := CleanSlots(slots)
	for _, sl := range cleaned {
		if err := validateSlotLabel(sl); err != nil {
			return nil, err
		}
	}

	entry, err := s.repo.PublishAvailability(ctx, doctorID, AvailabilityEntry{Date: date, Slots: cleaned},
		s.newEvent(EventAvailabilityPublished, doctorID, map[string]any{
			"date":  date,
			"slots": cleaned,
		}))
	if err != nil {
		return nil, classify("publish availability", err)
	}

	s.invalidate(ctx, doctorID)
	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("date", date).
		Int("slots", len(entry.Slots)).
		Msg("availability published")

	return entry, nil
}

// ListDoctorSlots returns the doctor's current inventory ordered by date.
func (s *Service) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityEntry, error) {
	fill := false
	var gen int64
	if s.cache != nil {
		entries, ok, err := s.cache.Get(ctx, doctorID)
		if err != nil {
			s.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache read failed")
		} else if ok {
			return entries, nil
		}

		// The generation must be read before the repository.
		gen, err = s.cache.Generation(ctx, doctorID)
		if err != nil {
			s.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache generation read failed")
		} else {
			fill = true
		}
	}

	entries, err := s.repo.GetAvailability(ctx, doctorID)
	if err != nil {
		return nil, classify("load availability", err)
	}

	if fill {
		if err := s.cache.Set(ctx, doctorID, gen, entries); err != nil {
			s.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache write failed")
		}
	}
	return entries, nil
}

// ListDoctorSlotsForDate returns the entry for one date, or ErrDateNotFound.
func (s *Service) ListDoctorSlotsForDate(ctx context.Context, doctorID uuid.UUID, date string) (*AvailabilityEntry, error) {
	if !ValidDate(date) {
		return nil, InvalidInput("date must be formatted as YYYY-MM-DD")
	}
	entries, err := s.ListDoctorSlots(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Date == date {
			return &e, nil
		}
	}
	return nil, ErrDateNotFound
}

func (s *Service) ListUserAppointments(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	result, err := s.repo.ListAppointmentsByUser(ctx, userID)
	if err != nil {
		return nil, classify("list user appointments", err)
	}
	return result, nil
}

func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	result, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, classify("list doctor appointments", err)
	}
	return result, nil
}

// ListDoctorPatients returns every distinct user who has booked with the
// doctor. No appointments is an empty result, not an error.
func (s *Service) ListDoctorPatients(ctx context.Context, doctorID uuid.UUID) ([]User, error) {
	if _, err := s.doctor(ctx, doctorID); err != nil {
		return nil, classify("load doctor", err)
	}
	patients, err := s.repo.ListPatientsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, classify("list patients", err)
	}
	if patients == nil {
		patients = []User{}
	}
	return patients, nil
}

// UpdateAppointmentStatus moves an appointment owned by doctorID to status.
// Cancelling does not release the slot. Reactivating takes the slot back out
// of inventory if the doctor had republished it.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, appointmentID, doctorID uuid.UUID, status string) (*Appointment, error) {
	if appointmentID == uuid.Nil {
		return nil, InvalidInput("appointment id is required")
	}
	to, ok := NormalizeStatus(status)
	if !ok {
		return nil, InvalidInput("status %q is not a valid status", status)
	}

	appt, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, doctorID, to,
		s.newEvent(EventAppointmentStatusChanged, doctorID, map[string]any{"status": to}))
	if err != nil {
		return nil, classify("update appointment status", err)
	}

	if appt.Status.Active() {
		s.invalidate(ctx, doctorID)
	}
	s.metrics.ObserveStatusUpdate(statusLabel(to))
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("status", string(appt.Status)).
		Msg("appointment status updated")

	return appt, nil
}

func (s *Service) ListSpecializations(ctx context.Context) ([]string, error) {
	result, err := s.repo.ListSpecializations(ctx)
	if err != nil {
		return nil, classify("list specializations", err)
	}
	return result, nil
}

func (s *Service) ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]Doctor, error) {
	specialization = strings.TrimSpace(specialization)
	if specialization == "" {
		return nil, InvalidInput("specialization is required")
	}
	result, err := s.repo.ListDoctorsBySpecialization(ctx, specialization)
	if err != nil {
		return nil, classify("list doctors", err)
	}
	return result, nil
}

// ListDoctors returns the whole doctor directory ordered by name.
func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	result, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, classify("list doctors", err)
	}
	return result, nil
}

// ListUsers returns every user record ordered by name. Callers restrict it to
// administrators.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	result, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, classify("list users", err)
	}
	return result, nil
}

// GetProfile resolves a user or doctor reference.
func (s *Service) GetProfile(ctx context.Context, ref IdentityRef) (*Profile, error) {
	if ref.ID == uuid.Nil {
		return nil, InvalidInput("id is required")
	}

	switch ref.Kind {
	case IdentityUser:
		u, err := s.GetUser(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &Profile{Kind: IdentityUser, User: u}, nil
	case IdentityDoctor:
		d, err := s.doctor(ctx, ref.ID)
		if err != nil {
			return nil, classify("load doctor", err)
		}
		return &Profile{Kind: IdentityDoctor, Doctor: d}, nil
	default:
		return nil, InvalidInput("identity type %q must be user or doctor", ref.Kind)
	}
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, classify("load user", err)
	}
	return u, nil
}

// doctor resolves identity through the in-process cache. Name and
// specialization never change underneath the booking core.
func (s *Service) doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	key := id.String()
	if s.doctors != nil {
		if v, ok := s.doctors.Get(key); ok {
			d := v.(Doctor)
			return &d, nil
		}
	}

	d, err := s.repo.GetDoctorByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.doctors != nil {
		s.doctors.SetDefault(key, *d)
	}
	return d, nil
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, doctorID); err != nil {
		s.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache invalidation failed")
	}
}

func (s *Service) newEvent(eventType string, doctorID uuid.UUID, payload map[string]any) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := doctorID
	return EventLog{
		EventType: eventType,
		DoctorID:  &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}
}

// classify keeps domain errors as they are and marks everything else internal.
func classify(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal(op, err)
}

// statusLabel bounds the metric label set to the known statuses.
func statusLabel(st AppointmentStatus) string {
	switch st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return string(st)
	default:
		return "other"
	}
}

func allocationResult(err error) string {
	switch KindOf(err) {
	case KindSlotUnavailable:
		return "slot_unavailable"
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "error"
	}
}
