package appointment

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format used for availability entries and appointments.
const DateLayout = "2006-01-02"

// AppointmentStatus is an open vocabulary. The constants below are the values
// this service knows about; callers may drive any other well-formed token.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

var statusPattern = regexp.MustCompile(`^[A-Z][A-Z_]{0,31}$`)

// NormalizeStatus upper-cases and trims s, returning false when the result is
// not a usable status token.
func NormalizeStatus(s string) (AppointmentStatus, bool) {
	n := strings.ToUpper(strings.TrimSpace(s))
	if !statusPattern.MatchString(n) {
		return "", false
	}
	return AppointmentStatus(n), true
}

// Active reports whether the appointment still holds its slot.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled
}

type Role string

const (
	RoleUser   Role = "user"
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

type Doctor struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Specialization string    `json:"specialization"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       int       `json:"age"`
	Height    int       `json:"height"`
	Weight    int       `json:"weight"`
	Gender    string    `json:"gender"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IdentityKind says which account system an IdentityRef points into.
type IdentityKind string

const (
	IdentityUser   IdentityKind = "user"
	IdentityDoctor IdentityKind = "doctor"
)

func ParseIdentityKind(s string) (IdentityKind, bool) {
	k := IdentityKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case IdentityUser, IdentityDoctor:
		return k, true
	}
	return "", false
}

// IdentityRef addresses either a user or a doctor.
type IdentityRef struct {
	Kind IdentityKind
	ID   uuid.UUID
}

// Profile is a resolved IdentityRef. Exactly one of User and Doctor is set,
// matching Kind.
type Profile struct {
	Kind   IdentityKind
	User   *User
	Doctor *Doctor
}

// AvailabilityEntry is one date of a doctor's bookable inventory.
type AvailabilityEntry struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

func (e AvailabilityEntry) Has(slot string) bool {
	for _, s := range e.Slots {
		if s == slot {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"userId"`
	DoctorID  uuid.UUID         `json:"doctorId"`
	Date      string            `json:"date"`
	Slot      string            `json:"slot"`
	Status    AppointmentStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type DoctorSummary struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
}

type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// AppointmentDetail is an appointment joined with the counterpart identity.
// Only one of Doctor / User is filled, depending on who is asking.
type AppointmentDetail struct {
	Appointment
	Doctor *DoctorSummary `json:"doctor,omitempty"`
	User   *UserSummary   `json:"user,omitempty"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	DoctorID      *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AllocateParams is what a repository needs to consume a slot.
type AllocateParams struct {
	UserID   uuid.UUID
	DoctorID uuid.UUID
	Date     string
	Slot     string
	Status   AppointmentStatus
	Event    EventLog
}

func (d Doctor) Summary() DoctorSummary {
	return DoctorSummary{ID: d.ID, Name: d.Name, Specialization: d.Specialization}
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// CleanSlots trims labels, drops empties and duplicates, keeping first-seen order.
func CleanSlots(slots []string) []string {
	out := make([]string, 0, len(slots))
	seen := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
