package api

import (
	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID string `json:"doctorId" validate:"required,uuid"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Slot     string `json:"slot" validate:"required,max=32"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,max=32"`
}

type PublishAvailabilityRequest struct {
	Date  string   `json:"date" validate:"required,datetime=2006-01-02"`
	Slots []string `json:"slots" validate:"dive,max=32"`
}

// BookingStepRequest carries the whole selection made so far.
type BookingStepRequest struct {
	Specialization string `json:"specialization" validate:"omitempty,max=100"`
	DoctorID       string `json:"doctorId" validate:"omitempty,uuid"`
	Date           string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Slot           string `json:"slot" validate:"omitempty,max=32"`
}

type AppointmentsResponse struct {
	Appointments []appointment.AppointmentDetail `json:"appointments"`
}

type SlotsResponse struct {
	AvailableSlots []appointment.AvailabilityEntry `json:"availableSlots"`
}

type PatientsResponse struct {
	Patients []appointment.User `json:"patients"`
}

type DoctorsResponse struct {
	Doctors []appointment.Doctor `json:"doctors"`
}

type UsersResponse struct {
	Users []appointment.User `json:"users"`
}

// ProfileResponse tags data with the kind of identity it describes.
type ProfileResponse struct {
	Type appointment.IdentityKind `json:"type"`
	Data any                      `json:"data"`
}

type SpecializationsResponse struct {
	Specializations []string `json:"specializations"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
