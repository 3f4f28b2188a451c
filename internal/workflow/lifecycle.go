package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

// CreateProcedure validates req locally, checks prosthesis exclusivity against
// the loaded snapshot when the treatment is known, then creates it remotely.
func (e *Engine) CreateProcedure(ctx context.Context, req odontology.CreateProcedureRequest) (*odontology.Procedure, error) {
	if err := req.Validate(); err != nil {
		return nil, e.reject("create", err)
	}

	e.mu.RLock()
	treatment, known := e.treatments[req.TreatmentID]
	snap, err := e.writable(req.PatientID)
	e.mu.RUnlock()
	if err != nil {
		return nil, e.reject("create", err)
	}
	if known && snap != nil && odontology.IsProsthesis(treatment) {
		if err := odontology.CheckProsthesisExclusivity(snap.Procedures); err != nil {
			return nil, e.reject("create", err)
		}
	}

	p, err := e.backend.CreateProcedure(ctx, req)
	e.settle(ctx, "create", req.PatientID, err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Assign claims a loaded procedure for the engine's actor.
func (e *Engine) Assign(ctx context.Context, procedureID uuid.UUID) (*odontology.Assignment, error) {
	p, patientID, err := e.procedure(procedureID)
	if err != nil {
		return nil, e.reject("assign", err)
	}
	if _, err := odontology.Assign(p, e.actor, e.now()); err != nil {
		return nil, e.reject("assign", err)
	}

	a, err := e.backend.AssignProcedure(ctx, procedureID)
	e.settle(ctx, "assign", patientID, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// activeAssignment loads the procedure behind assignmentID and requires the
// assignment to be its current active one.
func (e *Engine) activeAssignment(assignmentID uuid.UUID) (*odontology.Procedure, uuid.UUID, error) {
	p, a, patientID, err := e.assignment(assignmentID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if active := p.ActiveAssignment(); active == nil || active.ID != a.ID {
		return nil, uuid.Nil, odontology.InvalidTransition("assignment is %s", a.Status)
	}
	return p, patientID, nil
}

// Complete finishes the procedure held by assignmentID.
func (e *Engine) Complete(ctx context.Context, assignmentID uuid.UUID, finalNotes string) (*odontology.Assignment, error) {
	p, patientID, err := e.activeAssignment(assignmentID)
	if err != nil {
		return nil, e.reject("complete", err)
	}
	if _, err := odontology.Complete(p, e.actor, finalNotes, e.now()); err != nil {
		return nil, e.reject("complete", err)
	}

	a, err := e.backend.CompleteAssignment(ctx, assignmentID, finalNotes)
	e.settle(ctx, "complete", patientID, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Abandon releases the procedure held by assignmentID. An empty reason is
// rejected before anything else is looked at.
func (e *Engine) Abandon(ctx context.Context, assignmentID uuid.UUID, reason string) (*odontology.Assignment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, e.reject("abandon", odontology.Validation("an abandon reason is required"))
	}
	p, patientID, err := e.activeAssignment(assignmentID)
	if err != nil {
		return nil, e.reject("abandon", err)
	}
	if _, err := odontology.Abandon(p, e.actor, reason, e.now()); err != nil {
		return nil, e.reject("abandon", err)
	}

	a, err := e.backend.AbandonAssignment(ctx, assignmentID, reason)
	e.settle(ctx, "abandon", patientID, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel moves a loaded procedure to cancelado.
func (e *Engine) Cancel(ctx context.Context, procedureID uuid.UUID) (*odontology.Procedure, error) {
	p, patientID, err := e.procedure(procedureID)
	if err != nil {
		return nil, e.reject("cancel", err)
	}
	if err := odontology.Cancel(p, e.actor, e.now()); err != nil {
		return nil, e.reject("cancel", err)
	}

	out, err := e.backend.CancelProcedure(ctx, procedureID)
	e.settle(ctx, "cancel", patientID, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update edits a loaded procedure. A treatment change is checked locally only
// when the new treatment has been listed through Treatments.
func (e *Engine) Update(ctx context.Context, procedureID uuid.UUID, u odontology.ProcedureUpdate) (*odontology.Procedure, error) {
	p, patientID, err := e.procedure(procedureID)
	if err != nil {
		return nil, e.reject("update", err)
	}
	local := u
	if u.TreatmentID != nil {
		e.mu.RLock()
		if t, ok := e.treatments[*u.TreatmentID]; ok {
			local.Treatment = &t
		}
		e.mu.RUnlock()
	}
	if err := odontology.ApplyUpdate(p, e.actor, local, e.now()); err != nil {
		return nil, e.reject("update", err)
	}

	out, err := e.backend.UpdateProcedure(ctx, procedureID, u)
	e.settle(ctx, "update", patientID, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}
