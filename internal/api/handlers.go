package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/auth"
)

type Handler struct {
	svc      *appointment.Service
	flow     *appointment.Flow
	validate *validator.Validate
}

func NewHandler(svc *appointment.Service, flow *appointment.Flow) *Handler {
	return &Handler{svc: svc, flow: flow, validate: newValidator()}
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req CreateAppointmentRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	appt, err := h.svc.Allocate(r.Context(), appointment.AllocateRequest{
		UserID:   id.ID,
		DoctorID: uuid.MustParse(req.DoctorID),
		Date:     req.Date,
		Slot:     req.Slot,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, appt)
}

// listAppointments serves ?as=user|doctor. The perspective defaults to the
// caller's role and must match it.
func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	as := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("as")))
	if as == "" {
		as = string(id.Role)
	}

	var (
		list []appointment.AppointmentDetail
		err  error
	)
	switch appointment.Role(as) {
	case appointment.RoleUser, appointment.RoleDoctor:
		if id.Role != appointment.Role(as) {
			writeError(w, http.StatusForbidden, "unauthorized", "cannot list appointments as "+as)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", "as must be user or doctor")
		return
	}

	if id.Role == appointment.RoleDoctor {
		list, err = h.svc.ListDoctorAppointments(r.Context(), id.ID)
	} else {
		list, err = h.svc.ListUserAppointments(r.Context(), id.ID)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AppointmentsResponse{Appointments: list})
}

func (h *Handler) updateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	apptID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "id must be a valid UUID")
		return
	}

	var req UpdateStatusRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	appt, err := h.svc.UpdateAppointmentStatus(r.Context(), apptID, id.ID, req.Status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

// listDoctors returns the whole directory unless ?specialization= narrows it.
func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	var (
		doctors []appointment.Doctor
		err     error
	)
	if spec := strings.TrimSpace(r.URL.Query().Get("specialization")); spec != "" {
		doctors, err = h.svc.ListDoctorsBySpecialization(r.Context(), spec)
	} else {
		doctors, err = h.svc.ListDoctors(r.Context())
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DoctorsResponse{Doctors: doctors})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UsersResponse{Users: users})
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	kind, ok := appointment.ParseIdentityKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "type must be user or doctor")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "id must be a valid UUID")
		return
	}

	profile, err := h.svc.GetProfile(r.Context(), appointment.IdentityRef{Kind: kind, ID: id})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := ProfileResponse{Type: profile.Kind}
	if profile.User != nil {
		resp.Data = profile.User
	} else {
		resp.Data = profile.Doctor
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listSpecializations(w http.ResponseWriter, r *http.Request) {
	specs, err := h.svc.ListSpecializations(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SpecializationsResponse{Specializations: specs})
}

func (h *Handler) listDoctorSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "doctorId must be a valid UUID")
		return
	}

	if date := r.URL.Query().Get("date"); date != "" {
		entry, err := h.svc.ListDoctorSlotsForDate(r.Context(), doctorID, date)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}

	entries, err := h.svc.ListDoctorSlots(r.Context(), doctorID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{AvailableSlots: entries})
}

func (h *Handler) publishAvailability(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req PublishAvailabilityRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	entry, err := h.svc.PublishAvailability(r.Context(), id.ID, req.Date, req.Slots)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// listDoctorPatients is open to the doctor themself and to admins.
func (h *Handler) listDoctorPatients(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "doctorId must be a valid UUID")
		return
	}
	if id.Role == appointment.RoleDoctor && id.ID != doctorID {
		writeError(w, http.StatusForbidden, "unauthorized", "doctors can only list their own patients")
		return
	}

	patients, err := h.svc.ListDoctorPatients(r.Context(), doctorID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PatientsResponse{Patients: patients})
}

func (h *Handler) startBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	step, err := h.flow.Start(r.Context(), id.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (h *Handler) advanceBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	state, ok := appointment.ParseFlowState(chi.URLParam(r, "state"))
	if !ok || state == appointment.StateBooked {
		writeError(w, http.StatusNotFound, "not_found", "unknown booking step")
		return
	}

	var req BookingStepRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	sel := appointment.Selection{
		Specialization: req.Specialization,
		Date:           req.Date,
		Slot:           req.Slot,
	}
	if req.DoctorID != "" {
		sel.DoctorID = uuid.MustParse(req.DoctorID)
	}

	step, err := h.flow.Advance(r.Context(), id.ID, state, sel)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if step.State == appointment.StateBooked {
		status = http.StatusCreated
	}
	writeJSON(w, status, step)
}
