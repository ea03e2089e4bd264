package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FlowState names a step of the guided booking flow.
type FlowState string

const (
	StateAwaitingSpecialization FlowState = "AWAITING_SPECIALIZATION"
	StateAwaitingDoctor         FlowState = "AWAITING_DOCTOR"
	StateAwaitingDate           FlowState = "AWAITING_DATE"
	StateAwaitingSlot           FlowState = "AWAITING_SLOT"
	StateAwaitingConfirmation   FlowState = "AWAITING_CONFIRMATION"
	StateBooked                 FlowState = "BOOKED"
)

// ParseFlowState accepts both the canonical name and its path form
// ("awaiting-doctor").
func ParseFlowState(s string) (FlowState, bool) {
	st := FlowState(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if st == StateBooked {
		return st, true
	}
	_, ok := flowTable[st]
	return st, ok
}

// Path is the URL segment of the endpoint accepting input for this state.
func (s FlowState) Path() string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", "-"))
}

// Selection is everything the caller has chosen so far. The flow keeps no
// state between steps, so every request carries the full selection.
type Selection struct {
	Specialization string    `json:"specialization,omitempty"`
	DoctorID       uuid.UUID `json:"doctorId"`
	Date           string    `json:"date,omitempty"`
	Slot           string    `json:"slot,omitempty"`
}

// FlowStep is what the caller sees after a transition: the state it is now
// in, the options for the next choice and where to send it.
type FlowStep struct {
	State           FlowState       `json:"state"`
	Message         string          `json:"message"`
	Next            string          `json:"next,omitempty"`
	Expects         string          `json:"expects,omitempty"`
	Selection       Selection       `json:"selection"`
	Specializations []string        `json:"specializations,omitempty"`
	Doctors         []DoctorSummary `json:"doctors,omitempty"`
	Dates           []string        `json:"dates,omitempty"`
	Slots           []string        `json:"slots,omitempty"`
	Appointment     *Appointment    `json:"appointment,omitempty"`
}

// flowView collects the live data loaded while validating a selection.
type flowView struct {
	doctors []Doctor
	doctor  *Doctor
	entries []AvailabilityEntry
	entry   *AvailabilityEntry
}

type flowTransition struct {
	input    string
	next     FlowState
	validate func(f *Flow, ctx context.Context, sel *Selection, v *flowView) error
}

var flowOrder = []FlowState{
	StateAwaitingSpecialization,
	StateAwaitingDoctor,
	StateAwaitingDate,
	StateAwaitingSlot,
	StateAwaitingConfirmation,
}

var flowTable = map[FlowState]flowTransition{
	StateAwaitingSpecialization: {input: "specialization", next: StateAwaitingDoctor, validate: (*Flow).checkSpecialization},
	StateAwaitingDoctor:         {input: "doctorId", next: StateAwaitingDate, validate: (*Flow).checkDoctor},
	StateAwaitingDate:           {input: "date", next: StateAwaitingSlot, validate: (*Flow).checkDate},
	StateAwaitingSlot:           {input: "slot", next: StateAwaitingConfirmation, validate: (*Flow).checkSlot},
	StateAwaitingConfirmation:   {input: "confirmation", next: StateBooked, validate: (*Flow).checkConfirmation},
}

// Flow walks a user from specialization to a booked slot. Only the
// confirmation step writes anything.
type Flow struct {
	svc        *Service
	pathPrefix string
}

func NewFlow(svc *Service, pathPrefix string) *Flow {
	return &Flow{svc: svc, pathPrefix: strings.TrimRight(pathPrefix, "/")}
}

func (f *Flow) Start(ctx context.Context, userID uuid.UUID) (*FlowStep, error) {
	user, err := f.svc.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	specs, err := f.svc.ListSpecializations(ctx)
	if err != nil {
		return nil, err
	}

	return &FlowStep{
		State:           StateAwaitingSpecialization,
		Message:         fmt.Sprintf("Hello %s, choose a specialization.", user.Name),
		Next:            f.next(StateAwaitingSpecialization),
		Expects:         flowTable[StateAwaitingSpecialization].input,
		Specializations: specs,
	}, nil
}

// Advance consumes the input for state and returns the following step.
// Every selection up to and including state is re-validated against live
// data, so a stale client cannot skip a check.
func (f *Flow) Advance(ctx context.Context, userID uuid.UUID, state FlowState, sel Selection) (*FlowStep, error) {
	t, ok := flowTable[state]
	if !ok {
		return nil, InvalidInput("unknown booking step %q", state)
	}
	if _, err := f.svc.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	sel.Specialization = strings.TrimSpace(sel.Specialization)
	sel.Date = strings.TrimSpace(sel.Date)
	sel.Slot = strings.TrimSpace(sel.Slot)

	var v flowView
	for _, st := range flowOrder {
		if err := flowTable[st].validate(f, ctx, &sel, &v); err != nil {
			return nil, err
		}
		if st == state {
			break
		}
	}

	step := &FlowStep{
		State:     t.next,
		Selection: sel,
		Next:      f.next(t.next),
		Expects:   flowTable[t.next].input,
	}

	switch t.next {
	case StateAwaitingDoctor:
		step.Message = fmt.Sprintf("Choose a doctor for %s.", sel.Specialization)
		step.Doctors = make([]DoctorSummary, 0, len(v.doctors))
		for _, d := range v.doctors {
			step.Doctors = append(step.Doctors, d.Summary())
		}
	case StateAwaitingDate:
		step.Message = fmt.Sprintf("Choose a date with %s.", v.doctor.Name)
		step.Dates = openDates(v.entries)
	case StateAwaitingSlot:
		step.Message = fmt.Sprintf("Choose a slot on %s.", sel.Date)
		step.Slots = append([]string{}, v.entry.Slots...)
	case StateAwaitingConfirmation:
		step.Message = fmt.Sprintf("Confirm %s with %s on %s at %s.", v.doctor.Specialization, v.doctor.Name, sel.Date, sel.Slot)
	case StateBooked:
		appt, err := f.svc.Allocate(ctx, AllocateRequest{
			UserID:   userID,
			DoctorID: sel.DoctorID,
			Date:     sel.Date,
			Slot:     sel.Slot,
		})
		if err != nil {
			return nil, err
		}
		step.Message = fmt.Sprintf("Booked with %s on %s at %s.", v.doctor.Name, appt.Date, appt.Slot)
		step.Appointment = appt
	}

	return step, nil
}

func (f *Flow) next(s FlowState) string {
	if _, ok := flowTable[s]; !ok {
		return ""
	}
	return f.pathPrefix + "/" + s.Path()
}

func (f *Flow) checkSpecialization(ctx context.Context, sel *Selection, v *flowView) error {
	if sel.Specialization == "" {
		return InvalidInput("specialization is required")
	}
	doctors, err := f.svc.ListDoctorsBySpecialization(ctx, sel.Specialization)
	if err != nil {
		return err
	}
	if len(doctors) == 0 {
		return ErrNoDoctorsForSpecialization
	}
	v.doctors = doctors
	return nil
}

func (f *Flow) checkDoctor(ctx context.Context, sel *Selection, v *flowView) error {
	if sel.DoctorID == uuid.Nil {
		return InvalidInput("doctorId is required")
	}
	d, err := f.svc.doctor(ctx, sel.DoctorID)
	if err != nil {
		return classify("load doctor", err)
	}
	if d.Specialization != sel.Specialization {
		return ErrInvalidChoice
	}

	// Live inventory, never the read cache.
	entries, err := f.svc.repo.GetAvailability(ctx, d.ID)
	if err != nil {
		return classify("load availability", err)
	}
	v.doctor = d
	v.entries = entries
	return nil
}

func (f *Flow) checkDate(_ context.Context, sel *Selection, v *flowView) error {
	if sel.Date == "" {
		return InvalidInput("date is required")
	}
	if !ValidDate(sel.Date) {
		return InvalidInput("date must be formatted as YYYY-MM-DD")
	}
	for i := range v.entries {
		if v.entries[i].Date == sel.Date && len(v.entries[i].Slots) > 0 {
			v.entry = &v.entries[i]
			return nil
		}
	}
	return ErrDateNotFound
}

func (f *Flow) checkSlot(_ context.Context, sel *Selection, v *flowView) error {
	if sel.Slot == "" {
		return InvalidInput("slot is required")
	}
	if !v.entry.Has(sel.Slot) {
		return ErrSlotUnavailable
	}
	return nil
}

// Confirmation carries no new input; the allocator does the final check.
func (f *Flow) checkConfirmation(context.Context, *Selection, *flowView) error {
	return nil
}

func openDates(entries []AvailabilityEntry) []string {
	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(e.Slots) > 0 {
			dates = append(dates, e.Date)
		}
	}
	return dates
}
