package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/auth"
	"github.com/hackgods/clinic-appointments/internal/metrics"
)

type testEnv struct {
	router http.Handler
	repo   *appointment.MemoryRepository
	svc    *appointment.Service
	tokens *auth.TokenManager
	doctor appointment.Doctor
	other  appointment.Doctor
	user   appointment.User
}

func newTestEnv(t *testing.T, mutate ...func(*RouterConfig)) *testEnv {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	m := metrics.New("clinic")
	svc := appointment.NewService(repo, appointment.Options{Metrics: m, Logger: zerolog.Nop()})
	tokens := auth.NewTokenManager("test-secret", "clinic-appointments", time.Hour)

	cfg := RouterConfig{
		Service: svc,
		Tokens:  tokens,
		Metrics: m,
		Logger:  zerolog.Nop(),
		Env:     "test",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		router: NewRouter(cfg),
		repo:   repo,
		svc:    svc,
		tokens: tokens,
		doctor: repo.AddDoctor(appointment.Doctor{Name: "Dr. Grey", Email: "grey@clinic.test", Specialization: "Cardiology"}),
		other:  repo.AddDoctor(appointment.Doctor{Name: "Dr. House", Email: "house@clinic.test", Specialization: "Diagnostics"}),
		user:   repo.AddUser(appointment.User{Name: "Ada", Email: "ada@clinic.test"}),
	}

	_, err := svc.PublishAvailability(context.Background(), env.doctor.ID, "2025-01-10", []string{"09:00", "10:00"})
	require.NoError(t, err)
	return env
}

func (e *testEnv) token(t *testing.T, id uuid.UUID, role appointment.Role) string {
	t.Helper()
	tok, err := e.tokens.Issue(id, role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(c *RouterConfig) {
		c.RequiredChecks = map[string]Check{"postgres": func(context.Context) error { return nil }}
		c.OptionalChecks = map[string]Check{"redis": func(context.Context) error { return errors.New("down") }}
	})

	rec := env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "ok", ready.Dependencies["postgres"])
	assert.Equal(t, "down", ready.Dependencies["redis"])

	env = newTestEnv(t, func(c *RouterConfig) {
		c.RequiredChecks = map[string]Check{"postgres": func(context.Context) error { return errors.New("down") }}
	})
	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateAppointment_Auth(t *testing.T) {
	env := newTestEnv(t)
	body := CreateAppointmentRequest{DoctorID: env.doctor.ID.String(), Date: "2025-01-10", Slot: "09:00"}

	rec := env.do(t, http.MethodPost, "/appointments", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/appointments", "not-a-jwt", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/appointments", env.token(t, env.doctor.ID, appointment.RoleDoctor), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAppointment(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, env.user.ID, appointment.RoleUser)

	rec := env.do(t, http.MethodPost, "/appointments", tok,
		CreateAppointmentRequest{DoctorID: env.doctor.ID.String(), Date: "2025-01-10", Slot: "09:00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[appointment.Appointment](t, rec)
	assert.Equal(t, env.user.ID, appt.UserID)
	assert.Equal(t, appointment.StatusPending, appt.Status)

	rec = env.do(t, http.MethodGet, "/doctors/"+env.doctor.ID.String()+"/slots", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotsResponse](t, rec)
	require.Len(t, slots.AvailableSlots, 1)
	assert.Equal(t, []string{"10:00"}, slots.AvailableSlots[0].Slots)

	rec = env.do(t, http.MethodPost, "/appointments", tok,
		CreateAppointmentRequest{DoctorID: env.doctor.ID.String(), Date: "2025-01-10", Slot: "09:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "slot_unavailable", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/appointments", tok,
		CreateAppointmentRequest{DoctorID: env.doctor.ID.String(), Date: "2025-02-01", Slot: "09:00"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/appointments", tok,
		CreateAppointmentRequest{DoctorID: "nope", Date: "2025-01-10", Slot: "10:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_input", errResp.Error)
	assert.Contains(t, errResp.Details, "doctorId")

	rec = env.do(t, http.MethodPost, "/appointments", tok, map[string]string{"doctorId": env.doctor.ID.String(), "when": "now"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_booking_allocations_total{result="success"} 1`)
	assert.Contains(t, rec.Body.String(), `clinic_booking_allocations_total{result="slot_unavailable"} 1`)
}

func TestListDoctorSlots_ByDate(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, env.user.ID, appointment.RoleUser)
	base := "/doctors/" + env.doctor.ID.String() + "/slots"

	rec := env.do(t, http.MethodGet, base+"?date=2025-01-10", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[appointment.AvailabilityEntry](t, rec)
	assert.Equal(t, []string{"09:00", "10:00"}, entry.Slots)

	rec = env.do(t, http.MethodGet, base+"?date=2025-01-11", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/doctors/"+uuid.NewString()+"/slots", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/doctors/xyz/slots", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAppointments(t *testing.T) {
	env := newTestEnv(t)
	userTok := env.token(t, env.user.ID, appointment.RoleUser)
	docTok := env.token(t, env.doctor.ID, appointment.RoleDoctor)

	rec := env.do(t, http.MethodPost, "/appointments", userTok,
		CreateAppointmentRequest{DoctorID: env.doctor.ID.String(), Date: "2025-01-10", Slot: "10:00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/appointments?as=user", userTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[AppointmentsResponse](t, rec)
	require.Len(t, mine.Appointments, 1)
	require.NotNil(t, mine.Appointments[0].Doctor)
	assert.Equal(t, "Dr. Grey", mine.Appointments[0].Doctor.Name)

	rec = env.do(t, http.MethodGet, "/appointments", docTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	theirs := decode[AppointmentsResponse](t, rec)
	require.Len(t, theirs.Appointments, 1)
	require.NotNil(t, theirs.Appointments[0].User)
	assert.Equal(t, "Ada", theirs.Appointments[0].User.Name)

	rec = env.do(t, http.MethodGet, "/appointments?as=doctor", userTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/appointments?as=admin", userTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/appointments", env.token(t, env.other.ID, appointment.RoleDoctor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[AppointmentsResponse](t, rec).Appointments)
}

func TestUpdateAppointmentStatus(t *testing.T) {
	env := newTestEnv(t)
	userTok := env.token(t, env.user.ID, appointment.RoleUser)

	rec := env.do(t, http.MethodPost, "/appointments", userTok,
		CreateAppointmentRequest{DoctorID: env.doctor.ID.String(), Date: "2025-01-10", Slot: "09:00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[appointment.Appointment](t, rec)
	path := "/appointments/" + appt.ID.String() + "/status"

	rec = env.do(t, http.MethodPatch, path, env.token(t, env.other.ID, appointment.RoleDoctor), UpdateStatusRequest{Status: "CONFIRMED"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPatch, path, userTok, UpdateStatusRequest{Status: "CONFIRMED"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	docTok := env.token(t, env.doctor.ID, appointment.RoleDoctor)
	rec = env.do(t, http.MethodPatch, path, docTok, UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.StatusConfirmed, decode[appointment.Appointment](t, rec).Status)

	rec = env.do(t, http.MethodPatch, "/appointments/"+uuid.NewString()+"/status", docTok, UpdateStatusRequest{Status: "CONFIRMED"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPatch, path, docTok, UpdateStatusRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishAvailabilityAndPatients(t *testing.T) {
	env := newTestEnv(t)
	docTok := env.token(t, env.doctor.ID, appointment.RoleDoctor)
	patientsPath := "/doctors/" + env.doctor.ID.String() + "/patients"

	rec := env.do(t, http.MethodGet, patientsPath, docTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"patients":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/doctors/me/availability", docTok,
		PublishAvailabilityRequest{Date: "2025-01-12", Slots: []string{"08:00", "08:30"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"08:00", "08:30"}, decode[appointment.AvailabilityEntry](t, rec).Slots)

	rec = env.do(t, http.MethodPut, "/doctors/me/availability", docTok,
		PublishAvailabilityRequest{Date: "12/01/2025", Slots: []string{"08:00"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/appointments", env.token(t, env.user.ID, appointment.RoleUser),
		CreateAppointmentRequest{DoctorID: env.doctor.ID.String(), Date: "2025-01-12", Slot: "08:30"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, patientsPath, env.token(t, uuid.New(), appointment.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	patients := decode[PatientsResponse](t, rec)
	require.Len(t, patients.Patients, 1)
	assert.Equal(t, env.user.ID, patients.Patients[0].ID)

	rec = env.do(t, http.MethodGet, patientsPath, env.token(t, env.other.ID, appointment.RoleDoctor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDirectory(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, env.user.ID, appointment.RoleUser)

	rec := env.do(t, http.MethodGet, "/doctors/specializations", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Cardiology", "Diagnostics"}, decode[SpecializationsResponse](t, rec).Specializations)

	rec = env.do(t, http.MethodGet, "/doctors?specialization=Cardiology", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode[DoctorsResponse](t, rec)
	require.Len(t, docs.Doctors, 1)
	assert.Equal(t, env.doctor.ID, docs.Doctors[0].ID)

	rec = env.do(t, http.MethodGet, "/doctors", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[DoctorsResponse](t, rec)
	require.Len(t, all.Doctors, 2)
	assert.Equal(t, "Dr. Grey", all.Doctors[0].Name)
	assert.Equal(t, "Dr. House", all.Doctors[1].Name)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser(appointment.User{Name: "Bob", Email: "bob@clinic.test"})

	rec := env.do(t, http.MethodGet, "/users", env.token(t, uuid.New(), appointment.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[UsersResponse](t, rec)
	require.Len(t, users.Users, 2)
	assert.Equal(t, "Ada", users.Users[0].Name)
	assert.Equal(t, "Bob", users.Users[1].Name)

	rec = env.do(t, http.MethodGet, "/users", env.token(t, env.user.ID, appointment.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/users", env.token(t, env.doctor.ID, appointment.RoleDoctor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, env.user.ID, appointment.RoleUser)

	type profileBody struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	rec := env.do(t, http.MethodGet, "/identities/doctor/"+env.doctor.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[profileBody](t, rec)
	assert.Equal(t, "doctor", body.Type)
	var doc appointment.Doctor
	require.NoError(t, json.Unmarshal(body.Data, &doc))
	assert.Equal(t, env.doctor.ID, doc.ID)
	assert.Equal(t, "Cardiology", doc.Specialization)

	rec = env.do(t, http.MethodGet, "/identities/USER/"+env.user.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[profileBody](t, rec)
	assert.Equal(t, "user", body.Type)
	var user appointment.User
	require.NoError(t, json.Unmarshal(body.Data, &user))
	assert.Equal(t, "Ada", user.Name)

	// A doctor id is not a user id.
	rec = env.do(t, http.MethodGet, "/identities/user/"+env.doctor.ID.String(), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/identities/admin/"+env.user.ID.String(), tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/identities/doctor/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingFlow(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, env.user.ID, appointment.RoleUser)

	rec := env.do(t, http.MethodPost, "/booking/start", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step := decode[appointment.FlowStep](t, rec)
	assert.Equal(t, appointment.StateAwaitingSpecialization, step.State)
	require.Equal(t, "/booking/steps/awaiting-specialization", step.Next)

	sel := BookingStepRequest{Specialization: "Cardiology"}
	rec = env.do(t, http.MethodPost, step.Next, tok, sel)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step = decode[appointment.FlowStep](t, rec)
	assert.Equal(t, appointment.StateAwaitingDoctor, step.State)
	require.Len(t, step.Doctors, 1)

	sel.DoctorID = step.Doctors[0].ID.String()
	rec = env.do(t, http.MethodPost, step.Next, tok, sel)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step = decode[appointment.FlowStep](t, rec)
	assert.Equal(t, []string{"2025-01-10"}, step.Dates)

	sel.Date = step.Dates[0]
	rec = env.do(t, http.MethodPost, step.Next, tok, sel)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step = decode[appointment.FlowStep](t, rec)
	assert.Equal(t, []string{"09:00", "10:00"}, step.Slots)

	sel.Slot = "10:00"
	rec = env.do(t, http.MethodPost, step.Next, tok, sel)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step = decode[appointment.FlowStep](t, rec)
	assert.Equal(t, appointment.StateAwaitingConfirmation, step.State)

	rec = env.do(t, http.MethodPost, step.Next, tok, sel)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	step = decode[appointment.FlowStep](t, rec)
	assert.Equal(t, appointment.StateBooked, step.State)
	require.NotNil(t, step.Appointment)
	assert.Equal(t, "10:00", step.Appointment.Slot)

	rec = env.do(t, http.MethodPost, "/booking/steps/awaiting-confirmation", tok, sel)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "slot_unavailable", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/booking/steps/booked", tok, sel)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *RouterConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})
	tok := env.token(t, env.user.ID, appointment.RoleUser)

	rec := env.do(t, http.MethodGet, "/doctors/specializations", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/doctors/specializations", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
