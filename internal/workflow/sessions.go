package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
)

func (e *Engine) ListSessions(ctx context.Context, assignmentID uuid.UUID) ([]odontology.Session, error) {
	return e.backend.ListSessions(ctx, assignmentID)
}

// ledger builds a local ledger over assignmentID without sessions. It is
// enough to check the caller and the assignment status.
func (e *Engine) ledger(assignmentID uuid.UUID) (*odontology.Ledger, uuid.UUID, error) {
	p, a, patientID, err := e.assignment(assignmentID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return odontology.NewLedger(p, a, nil), patientID, nil
}

func (e *Engine) sessionDone(action string, assignmentID uuid.UUID, res *procedure.SessionResult) {
	if res != nil && res.ExceedsPlan {
		e.logger.Warn().
			Str("action", action).
			Str("assignment_id", assignmentID.String()).
			Int("sessions_completed", res.SessionsCompleted).
			Int("sessions_total", res.SessionsTotal).
			Msg("more sessions completed than planned")
	}
}

// CreateSession records a visit on an active assignment held by the actor.
func (e *Engine) CreateSession(ctx context.Context, assignmentID uuid.UUID, in odontology.SessionInput) (*procedure.SessionResult, error) {
	l, patientID, err := e.ledger(assignmentID)
	if err != nil {
		return nil, e.reject("session_create", err)
	}
	if _, err := l.Create(e.actor, in, e.now()); err != nil {
		return nil, e.reject("session_create", err)
	}

	res, err := e.backend.CreateSession(ctx, assignmentID, in)
	e.settle(ctx, "session_create", patientID, err)
	if err != nil {
		return nil, err
	}
	e.sessionDone("session_create", assignmentID, res)
	return res, nil
}

// UpdateSession edits a session of assignmentID.
func (e *Engine) UpdateSession(ctx context.Context, assignmentID, sessionID uuid.UUID, u odontology.SessionUpdate) (*procedure.SessionResult, error) {
	if err := u.Validate(); err != nil {
		return nil, e.reject("session_update", err)
	}
	l, patientID, err := e.ledger(assignmentID)
	if err != nil {
		return nil, e.reject("session_update", err)
	}
	if err := l.Authorize(e.actor); err != nil {
		return nil, e.reject("session_update", err)
	}

	res, err := e.backend.UpdateSession(ctx, sessionID, u)
	e.settle(ctx, "session_update", patientID, err)
	if err != nil {
		return nil, err
	}
	e.sessionDone("session_update", assignmentID, res)
	return res, nil
}

// DeleteSession removes a session of assignmentID.
func (e *Engine) DeleteSession(ctx context.Context, assignmentID, sessionID uuid.UUID) (*procedure.SessionResult, error) {
	l, patientID, err := e.ledger(assignmentID)
	if err != nil {
		return nil, e.reject("session_delete", err)
	}
	if err := l.Authorize(e.actor); err != nil {
		return nil, e.reject("session_delete", err)
	}

	res, err := e.backend.DeleteSession(ctx, sessionID)
	e.settle(ctx, "session_delete", patientID, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}
