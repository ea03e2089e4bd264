package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository. Every method runs under one
// lock, which makes AllocateSlot the same remove-if-present unit the Postgres
// repository gets from its conditional UPDATE.
type MemoryRepository struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]Doctor
	users        map[uuid.UUID]User
	availability map[uuid.UUID]map[string][]string
	appointments map[uuid.UUID]Appointment
	events       []EventLog

	// beforeInsert lets tests fail the ledger half of an allocation.
	beforeInsert func(Appointment) error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		users:        make(map[uuid.UUID]User),
		availability: make(map[uuid.UUID]map[string][]string),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// AddDoctor registers a doctor record, assigning an ID when none is set.
func (m *MemoryRepository) AddDoctor(d Doctor) Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	m.doctors[d.ID] = d
	return d
}

// AddUser registers a user record, assigning an ID when none is set.
func (m *MemoryRepository) AddUser(u User) User {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = u
	return u
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventLog(nil), m.events...)
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		result = append(result, d)
	}
	sortDoctors(result)
	return result, nil
}

func (m *MemoryRepository) ListUsers(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sortUsers(result)
	return result, nil
}

func (m *MemoryRepository) ListDoctorsBySpecialization(_ context.Context, specialization string) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []Doctor{}
	for _, d := range m.doctors {
		if d.Specialization == specialization {
			result = append(result, d)
		}
	}
	sortDoctors(result)
	return result, nil
}

func (m *MemoryRepository) ListSpecializations(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	result := []string{}
	for _, d := range m.doctors {
		if _, ok := seen[d.Specialization]; ok {
			continue
		}
		seen[d.Specialization] = struct{}{}
		result = append(result, d.Specialization)
	}
	sort.Strings(result)
	return result, nil
}

func (m *MemoryRepository) GetAvailability(_ context.Context, doctorID uuid.UUID) ([]AvailabilityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doctors[doctorID]; !ok {
		return nil, ErrDoctorNotFound
	}

	byDate := m.availability[doctorID]
	result := make([]AvailabilityEntry, 0, len(byDate))
	for date, slots := range byDate {
		result = append(result, AvailabilityEntry{Date: date, Slots: append([]string{}, slots...)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result, nil
}

func (m *MemoryRepository) PublishAvailability(_ context.Context, doctorID uuid.UUID, entry AvailabilityEntry, ev EventLog) (*AvailabilityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doctors[doctorID]; !ok {
		return nil, ErrDoctorNotFound
	}

	held := make(map[string]struct{})
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Date == entry.Date && a.Status.Active() {
			held[a.Slot] = struct{}{}
		}
	}

	slots := make([]string, 0, len(entry.Slots))
	for _, s := range entry.Slots {
		if _, taken := held[s]; !taken {
			slots = append(slots, s)
		}
	}

	if m.availability[doctorID] == nil {
		m.availability[doctorID] = make(map[string][]string)
	}
	m.availability[doctorID][entry.Date] = slots
	m.appendEvent(ev)

	return &AvailabilityEntry{Date: entry.Date, Slots: append([]string{}, slots...)}, nil
}

func (m *MemoryRepository) AllocateSlot(_ context.Context, p AllocateParams) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots, ok := m.availability[p.DoctorID][p.Date]
	if !ok {
		return nil, ErrDateNotFound
	}

	idx := -1
	for i, s := range slots {
		if s == p.Slot {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrSlotUnavailable
	}

	if p.Status.Active() && m.activeHolder(p.DoctorID, p.Date, p.Slot, uuid.Nil) {
		return nil, ErrSlotUnavailable
	}

	now := time.Now()
	appt := Appointment{
		ID:        uuid.New(),
		UserID:    p.UserID,
		DoctorID:  p.DoctorID,
		Date:      p.Date,
		Slot:      p.Slot,
		Status:    p.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Both halves are applied only after every check has passed.
	if m.beforeInsert != nil {
		if err := m.beforeInsert(appt); err != nil {
			return nil, err
		}
	}

	m.availability[p.DoctorID][p.Date] = without(slots, p.Slot)
	m.appointments[appt.ID] = appt

	ev := p.Event
	ev.AppointmentID = &appt.ID
	m.appendEvent(ev)

	return &appt, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) ListAppointmentsByUser(_ context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []AppointmentDetail{}
	for _, a := range m.appointments {
		if a.UserID != userID {
			continue
		}
		d := AppointmentDetail{Appointment: a}
		if doc, ok := m.doctors[a.DoctorID]; ok {
			s := doc.Summary()
			d.Doctor = &s
		}
		result = append(result, d)
	}
	sortDetails(result)
	return result, nil
}

func (m *MemoryRepository) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []AppointmentDetail{}
	for _, a := range m.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		d := AppointmentDetail{Appointment: a}
		if u, ok := m.users[a.UserID]; ok {
			s := u.Summary()
			d.User = &s
		}
		result = append(result, d)
	}
	sortDetails(result)
	return result, nil
}

func (m *MemoryRepository) ListPatientsByDoctor(_ context.Context, doctorID uuid.UUID) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	result := []User{}
	for _, a := range m.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		if u, ok := m.users[a.UserID]; ok {
			result = append(result, u)
		}
	}
	sortUsers(result)
	return result, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id, doctorID uuid.UUID, to AppointmentStatus, ev EventLog) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.DoctorID != doctorID {
		return nil, ErrNotAppointmentOwner
	}
	if to.Active() && !a.Status.Active() {
		if m.activeHolder(a.DoctorID, a.Date, a.Slot, a.ID) {
			return nil, ErrSlotUnavailable
		}
		// A republished label goes back out of inventory with its holder.
		if slots, ok := m.availability[a.DoctorID][a.Date]; ok {
			m.availability[a.DoctorID][a.Date] = without(slots, a.Slot)
		}
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	m.appointments[id] = a

	ev.AppointmentID = &a.ID
	m.appendEvent(ev)

	return &a, nil
}

// activeHolder reports whether an active appointment other than except holds the slot.
func (m *MemoryRepository) activeHolder(doctorID uuid.UUID, date, slot string, except uuid.UUID) bool {
	for _, a := range m.appointments {
		if a.ID != except && a.DoctorID == doctorID && a.Date == date && a.Slot == slot && a.Status.Active() {
			return true
		}
	}
	return false
}

func without(slots []string, slot string) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if s != slot {
			out = append(out, s)
		}
	}
	return out
}

func (m *MemoryRepository) appendEvent(ev EventLog) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
}

func sortDoctors(ds []Doctor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Name != ds[j].Name {
			return ds[i].Name < ds[j].Name
		}
		return ds[i].ID.String() < ds[j].ID.String()
	})
}

func sortUsers(us []User) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].Name != us[j].Name {
			return us[i].Name < us[j].Name
		}
		return us[i].ID.String() < us[j].ID.String()
	})
}

func sortDetails(ds []AppointmentDetail) {
	sort.Slice(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
