package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
// Implementations return the package sentinels (ErrDoctorNotFound, ...) for
// domain outcomes and wrapped driver errors for everything else.
type Repository interface {
	// Identity records owned by the account system
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]Doctor, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListSpecializations(ctx context.Context) ([]string, error)

	// Availability store. Entries are ordered by date.
	GetAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityEntry, error)
	PublishAvailability(ctx context.Context, doctorID uuid.UUID, entry AvailabilityEntry, ev EventLog) (*AvailabilityEntry, error)

	// AllocateSlot removes p.Slot from the doctor's entry for p.Date only if it
	// is currently present and records the appointment, as one atomic unit.
	// Returns ErrDateNotFound when the entry is absent and ErrSlotUnavailable
	// when the slot is not in it.
	AllocateSlot(ctx context.Context, p AllocateParams) (*Appointment, error)

	// Ledger
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error)
	ListPatientsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]User, error)

	// UpdateAppointmentStatus changes status only when the appointment belongs
	// to doctorID. A missing row is ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id, doctorID uuid.UUID, to AppointmentStatus, ev EventLog) (*Appointment, error)
}
