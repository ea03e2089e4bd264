package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Email, &d.Specialization, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Age, &u.Height, &u.Weight, &u.Gender, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.UserID, &a.DoctorID, &a.Date, &a.Slot, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func insertEvent(ctx context.Context, db execer, ev EventLog) error {
	_, err := db.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, doctor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.DoctorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// Identity records

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, specialization, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, age, height, weight, gender, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

// CreateDoctor and CreateUser stand in for the account system when seeding.

func (r *PgRepository) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, email, specialization)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, email, specialization, created_at, updated_at
	`, d.ID, d.Name, d.Email, d.Specialization)
	created, err := scanDoctor(row)
	if err != nil {
		return nil, fmt.Errorf("insert doctor: %w", err)
	}
	return created, nil
}

func (r *PgRepository) CreateUser(ctx context.Context, u User) (*User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Gender == "" {
		u.Gender = "other"
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, age, height, weight, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, name, email, age, height, weight, gender, created_at, updated_at
	`, u.ID, u.Name, u.Email, u.Age, u.Height, u.Weight, u.Gender)
	created, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, specialization, created_at, updated_at
		FROM doctors
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, age, height, weight, gender, created_at, updated_at
		FROM users
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, specialization, created_at, updated_at
		FROM doctors
		WHERE specialization = $1
		ORDER BY name, id
	`, specialization)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListSpecializations(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT specialization FROM doctors ORDER BY specialization`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Availability

func (r *PgRepository) GetAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityEntry, error) {
	if _, err := r.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT date, slots
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY date
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []AvailabilityEntry{}
	for rows.Next() {
		var e AvailabilityEntry
		if err := rows.Scan(&e.Date, &e.Slots); err != nil {
			return nil, err
		}
		if e.Slots == nil {
			e.Slots = []string{}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *PgRepository) PublishAvailability(ctx context.Context, doctorID uuid.UUID, entry AvailabilityEntry, ev EventLog) (*AvailabilityEntry, error) {
	var published AvailabilityEntry

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := scanDoctor(tx.QueryRow(ctx, `
			SELECT id, name, email, specialization, created_at, updated_at
			FROM doctors
			WHERE id = $1
		`, doctorID)); err != nil {
			return err
		}

		// Lock the existing entry so no allocation commits between reading the
		// held slots and overwriting the set.
		if _, err := tx.Exec(ctx, `
			SELECT 1 FROM doctor_availability WHERE doctor_id = $1 AND date = $2 FOR UPDATE
		`, doctorID, entry.Date); err != nil {
			return fmt.Errorf("lock availability: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT slot FROM appointments
			WHERE doctor_id = $1 AND date = $2 AND status <> $3
		`, doctorID, entry.Date, StatusCancelled)
		if err != nil {
			return fmt.Errorf("query held slots: %w", err)
		}
		held := make(map[string]struct{})
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				rows.Close()
				return fmt.Errorf("scan held slot: %w", err)
			}
			held[s] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate held slots: %w", err)
		}

		slots := make([]string, 0, len(entry.Slots))
		for _, s := range entry.Slots {
			if _, taken := held[s]; !taken {
				slots = append(slots, s)
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO doctor_availability (doctor_id, date, slots, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (doctor_id, date)
			DO UPDATE SET slots = EXCLUDED.slots, updated_at = now()
			RETURNING date, slots
		`, doctorID, entry.Date, slots).Scan(&published.Date, &published.Slots)
		if err != nil {
			return fmt.Errorf("upsert availability: %w", err)
		}

		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	if published.Slots == nil {
		published.Slots = []string{}
	}
	return &published, nil
}

// AllocateSlot relies on the row lock taken by the conditional UPDATE: a
// concurrent allocation for the same doctor and date blocks on it and then
// re-evaluates "$3 = ANY(slots)" against the committed set.
func (r *PgRepository) AllocateSlot(ctx context.Context, p AllocateParams) (*Appointment, error) {
	var created *Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE doctor_availability
			SET slots = array_remove(slots, $3::text),
			    updated_at = now()
			WHERE doctor_id = $1
			  AND date = $2
			  AND $3::text = ANY(slots)
		`, p.DoctorID, p.Date, p.Slot)
		if err != nil {
			return fmt.Errorf("remove slot: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM doctor_availability WHERE doctor_id = $1 AND date = $2)
			`, p.DoctorID, p.Date).Scan(&exists); err != nil {
				return fmt.Errorf("check availability entry: %w", err)
			}
			if !exists {
				return ErrDateNotFound
			}
			return ErrSlotUnavailable
		}

		appt, err := scanAppointment(tx.QueryRow(ctx, `
			INSERT INTO appointments (id, user_id, doctor_id, date, slot, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			RETURNING id, user_id, doctor_id, date, slot, status, created_at, updated_at
		`, uuid.New(), p.UserID, p.DoctorID, p.Date, p.Slot, p.Status))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("insert appointment: %w", err)
		}

		ev := p.Event
		ev.AppointmentID = &appt.ID
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Ledger

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, doctor_id, date, slot, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.doctor_id, a.date, a.slot, a.status, a.created_at, a.updated_at,
		       d.name, d.specialization
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.user_id = $1
		ORDER BY a.date, a.slot, a.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []AppointmentDetail{}
	for rows.Next() {
		var (
			d   AppointmentDetail
			doc DoctorSummary
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.DoctorID, &d.Date, &d.Slot, &d.Status, &d.CreatedAt, &d.UpdatedAt,
			&doc.Name, &doc.Specialization); err != nil {
			return nil, err
		}
		doc.ID = d.DoctorID
		d.Doctor = &doc
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.doctor_id, a.date, a.slot, a.status, a.created_at, a.updated_at,
		       u.name, u.email
		FROM appointments a
		JOIN users u ON u.id = a.user_id
		WHERE a.doctor_id = $1
		ORDER BY a.date, a.slot, a.created_at
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []AppointmentDetail{}
	for rows.Next() {
		var (
			d  AppointmentDetail
			us UserSummary
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.DoctorID, &d.Date, &d.Slot, &d.Status, &d.CreatedAt, &d.UpdatedAt,
			&us.Name, &us.Email); err != nil {
			return nil, err
		}
		us.ID = d.UserID
		d.User = &us
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListPatientsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.name, u.email, u.age, u.height, u.weight, u.gender, u.created_at, u.updated_at
		FROM users u
		WHERE u.id IN (SELECT DISTINCT user_id FROM appointments WHERE doctor_id = $1)
		ORDER BY u.name, u.id
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id, doctorID uuid.UUID, to AppointmentStatus, ev EventLog) (*Appointment, error) {
	var updated *Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		appt, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $3,
			    updated_at = now()
			WHERE id = $1
			  AND doctor_id = $2
			RETURNING id, user_id, doctor_id, date, slot, status, created_at, updated_at
		`, id, doctorID, to))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrSlotUnavailable
			}
			if !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("update appointment status: %w", err)
			}

			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("check appointment: %w", err)
			}
			if exists {
				return ErrNotAppointmentOwner
			}
			return ErrAppointmentNotFound
		}

		// An active appointment holds its slot. Take it back out of inventory
		// in case it was republished while the appointment was cancelled.
		if appt.Status.Active() {
			if _, err := tx.Exec(ctx, `
				UPDATE doctor_availability
				SET slots = array_remove(slots, $3::text),
				    updated_at = now()
				WHERE doctor_id = $1
				  AND date = $2
				  AND $3::text = ANY(slots)
			`, appt.DoctorID, appt.Date, appt.Slot); err != nil {
				return fmt.Errorf("withdraw reactivated slot: %w", err)
			}
		}

		ev.AppointmentID = &appt.ID
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
