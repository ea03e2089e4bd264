package appointment_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/db"
)

// Set TEST_POSTGRES_DSN to a disposable database to run these.
func newPgService(t *testing.T) (*appointment.PgRepository, *appointment.Service) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	repo := appointment.NewPgRepository(pool)
	return repo, appointment.NewService(repo, appointment.Options{Logger: zerolog.Nop()})
}

func TestPgRepository_ConcurrentAllocation(t *testing.T) {
	repo, svc := newPgService(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	doc, err := repo.CreateDoctor(ctx, appointment.Doctor{
		Name: "Dr. Race", Email: "race-" + suffix + "@clinic.test", Specialization: "Cardiology",
	})
	require.NoError(t, err)

	_, err = svc.PublishAvailability(ctx, doc.ID, "2030-05-01", []string{"09:00", "10:00"})
	require.NoError(t, err)

	const n = 20
	users := make([]uuid.UUID, n)
	for i := range users {
		u, err := repo.CreateUser(ctx, appointment.User{
			Name: "patient", Email: fmt.Sprintf("p%d-%s@clinic.test", i, suffix),
		})
		require.NoError(t, err)
		users[i] = u.ID
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Allocate(ctx, appointment.AllocateRequest{
				UserID: users[i], DoctorID: doc.ID, Date: "2030-05-01", Slot: "09:00",
			})
		}(i)
	}
	close(start)
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, success)

	entries, err := svc.ListDoctorSlots(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"10:00"}, entries[0].Slots)

	appts, err := svc.ListDoctorAppointments(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestPgRepository_StatusAndPatients(t *testing.T) {
	repo, svc := newPgService(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	doc, err := repo.CreateDoctor(ctx, appointment.Doctor{
		Name: "Dr. Status", Email: "status-" + suffix + "@clinic.test", Specialization: "Neurology",
	})
	require.NoError(t, err)
	other, err := repo.CreateDoctor(ctx, appointment.Doctor{
		Name: "Dr. Other", Email: "other-" + suffix + "@clinic.test", Specialization: "Neurology",
	})
	require.NoError(t, err)
	user, err := repo.CreateUser(ctx, appointment.User{Name: "Ada", Email: "ada-" + suffix + "@clinic.test"})
	require.NoError(t, err)

	patients, err := svc.ListDoctorPatients(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, patients)

	_, err = svc.Allocate(ctx, appointment.AllocateRequest{
		UserID: user.ID, DoctorID: doc.ID, Date: "2030-05-02", Slot: "09:00",
	})
	assert.ErrorIs(t, err, appointment.ErrDateNotFound)

	_, err = svc.PublishAvailability(ctx, doc.ID, "2030-05-02", []string{"09:00"})
	require.NoError(t, err)
	appt, err := svc.Allocate(ctx, appointment.AllocateRequest{
		UserID: user.ID, DoctorID: doc.ID, Date: "2030-05-02", Slot: "09:00",
	})
	require.NoError(t, err)

	_, err = svc.UpdateAppointmentStatus(ctx, appt.ID, other.ID, "CONFIRMED")
	assert.ErrorIs(t, err, appointment.ErrNotAppointmentOwner)

	updated, err := svc.UpdateAppointmentStatus(ctx, appt.ID, doc.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, updated.Status)

	entry, err := svc.ListDoctorSlotsForDate(ctx, doc.ID, "2030-05-02")
	require.NoError(t, err)
	assert.Empty(t, entry.Slots)

	patients, err = svc.ListDoctorPatients(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, user.ID, patients[0].ID)

	// Republished while cancelled, then reactivated: the slot leaves inventory again.
	entry, err = svc.PublishAvailability(ctx, doc.ID, "2030-05-02", []string{"09:00", "10:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00"}, entry.Slots)

	updated, err = svc.UpdateAppointmentStatus(ctx, appt.ID, doc.ID, "CONFIRMED")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, updated.Status)

	entry, err = svc.ListDoctorSlotsForDate(ctx, doc.ID, "2030-05-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, entry.Slots)
}
