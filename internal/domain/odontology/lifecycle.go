package odontology

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IsCreator reports whether actor created the procedure.
func IsCreator(p *Procedure, actor User) bool {
	return actor.ID != uuid.Nil && p.CreatedBy.ID == actor.ID
}

// IsUserAssigned reports whether actor is the student holding the assignment.
func IsUserAssigned(a *Assignment, actor User) bool {
	return a != nil && actor.ID != uuid.Nil && a.Student.ID == actor.ID
}

// CanEdit reports whether the procedure's notes and treatment may still change.
func CanEdit(p *Procedure) bool {
	return p.Status.Editable()
}

func requireActor(actor User) error {
	if actor.ID == uuid.Nil {
		return Unauthorized("an authenticated user is required")
	}
	return nil
}

// recordAssignment stores a into the history, replacing the entry with the same
// id, and makes it the current assignment.
func (p *Procedure) recordAssignment(a Assignment) {
	replaced := false
	for i := range p.Assignments {
		if p.Assignments[i].ID == a.ID {
			p.Assignments[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		p.Assignments = append(p.Assignments, a)
	}
	cur := a
	p.Assignment = &cur
}

// Assign claims an available procedure for actor: disponible -> proceso with a
// new activa assignment. Nothing is modified when an error is returned.
func Assign(p *Procedure, actor User, now time.Time) (*Assignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if p.Status != StatusAvailable {
		return nil, InvalidTransition("procedure is %s; only disponible procedures can be assigned", p.Status)
	}
	if p.ActiveAssignment() != nil {
		return nil, Conflict("procedure already has an active assignment")
	}

	a := Assignment{
		ID:          uuid.New(),
		ProcedureID: p.ID,
		Student:     actor,
		Status:      AssignmentActive,
		AssignedAt:  now,
	}
	p.Status = StatusInProgress
	p.UpdatedAt = now
	p.recordAssignment(a)
	return p.Assignment, nil
}

// Complete finishes the procedure: proceso -> finalizado, assignment -> completada.
// Only the assigned student may complete.
func Complete(p *Procedure, actor User, finalNotes string, now time.Time) (*Assignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if p.Status != StatusInProgress {
		return nil, InvalidTransition("procedure is %s; only procedures in proceso can be completed", p.Status)
	}
	active := p.ActiveAssignment()
	if active == nil {
		return nil, InvalidTransition("procedure has no active assignment")
	}
	if !IsUserAssigned(active, actor) {
		return nil, Unauthorized("only the assigned student can complete this procedure")
	}

	a := *active
	a.Status = AssignmentCompleted
	completedAt := now
	a.CompletedAt = &completedAt
	a.FinalNotes = strPtr(strings.TrimSpace(finalNotes))

	p.Status = StatusFinished
	p.UpdatedAt = now
	p.recordAssignment(a)
	return p.Assignment, nil
}

// Abandon releases the procedure: assignment -> abandonada and the procedure
// becomes disponible again. A non-empty reason is required.
func Abandon(p *Procedure, actor User, reason string, now time.Time) (*Assignment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, Validation("an abandon reason is required")
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if p.Status != StatusInProgress {
		return nil, InvalidTransition("procedure is %s; only procedures in proceso can be abandoned", p.Status)
	}
	active := p.ActiveAssignment()
	if active == nil {
		return nil, InvalidTransition("procedure has no active assignment")
	}
	if !IsUserAssigned(active, actor) {
		return nil, Unauthorized("only the assigned student can abandon this procedure")
	}

	a := *active
	a.Status = AssignmentAbandoned
	abandonedAt := now
	a.AbandonedAt = &abandonedAt
	a.AbandonReason = &reason

	p.Status = StatusAvailable
	p.UpdatedAt = now
	p.recordAssignment(a)
	return p.Assignment, nil
}

// Cancel moves the procedure to the terminal cancelado status. Only the creator may cancel.
func Cancel(p *Procedure, actor User, now time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if p.Status.Terminal() {
		return InvalidTransition("procedure is already %s", p.Status)
	}
	if !p.Status.CanTransitionTo(StatusCancelled) {
		return InvalidTransition("procedure is %s and cannot be cancelled", p.Status)
	}
	if !IsCreator(p, actor) {
		return Unauthorized("only the creator can cancel this procedure")
	}
	p.Status = StatusCancelled
	p.UpdatedAt = now
	return nil
}

// ProcedureUpdate carries the editable fields of a procedure; nil means unchanged.
type ProcedureUpdate struct {
	Treatment     *Treatment `json:"-"`
	TreatmentID   *uuid.UUID `json:"treatment_id,omitempty"`
	Status        *Status    `json:"status,omitempty"`
	ToothFDI      *ToothSet  `json:"tooth_fdi,omitempty"`
	ToothSurface  *Surface   `json:"tooth_surface,omitempty"`
	IsRepair      *bool      `json:"is_repair,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	SessionsTotal *int       `json:"sessions_total,omitempty"`
}

// Validate checks field shapes without looking at the procedure.
func (u ProcedureUpdate) Validate() error {
	if u.Status != nil && *u.Status != StatusAvailable && *u.Status != StatusContraindicated {
		return InvalidTransition("status can only be edited between disponible and contraindicado")
	}
	if u.ToothFDI != nil {
		if err := u.ToothFDI.Validate(); err != nil {
			return err
		}
	}
	if u.ToothSurface != nil && !u.ToothSurface.Valid() {
		return Validation("invalid tooth surface %q", *u.ToothSurface)
	}
	if u.SessionsTotal != nil && *u.SessionsTotal < 0 {
		return Validation("sessions_total cannot be negative")
	}
	return nil
}

// ApplyUpdate edits a procedure while it is disponible or contraindicado.
// Nothing is modified when an error is returned.
func ApplyUpdate(p *Procedure, actor User, u ProcedureUpdate, now time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !CanEdit(p) {
		return InvalidTransition("procedure is %s; only disponible or contraindicado procedures can be edited", p.Status)
	}
	if err := u.Validate(); err != nil {
		return err
	}
	if u.Status != nil && *u.Status != p.Status {
		if err := ValidateTransition(p.Status, *u.Status); err != nil {
			return err
		}
	}
	if u.Treatment != nil && IsProsthesis(*u.Treatment) != IsProsthesis(p.Treatment) {
		return Validation("a procedure cannot be converted to or from a prosthesis treatment; create a new procedure instead")
	}
	if u.ToothFDI != nil && IsProsthesis(p.Treatment) {
		return Validation("prosthesis teeth are derived from the arch and cannot be edited")
	}

	if u.Treatment != nil {
		p.Treatment = *u.Treatment
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.ToothFDI != nil {
		p.ToothFDI = NewToothSet(*u.ToothFDI...)
	}
	if u.ToothSurface != nil {
		p.ToothSurface = *u.ToothSurface
	}
	if u.IsRepair != nil {
		p.IsRepair = *u.IsRepair
	}
	if u.Notes != nil {
		p.Notes = strPtr(strings.TrimSpace(*u.Notes))
	}
	if u.SessionsTotal != nil {
		p.SessionsTotal = *u.SessionsTotal
	}
	p.UpdatedAt = now
	return nil
}
