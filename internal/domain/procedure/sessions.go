package procedure

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

// ledgerTx is the state a session mutation works on inside its transaction.
type ledgerTx struct {
	procedure  *odontology.Procedure
	assignment *odontology.Assignment
	ledger     *odontology.Ledger
}

// openLedger locks the procedure owning assignmentID and loads the
// assignment's sessions. The assignment copy is taken from the locked
// procedure so counters are read after the lock is held.
func (s *Service) openLedger(ctx context.Context, assignmentID uuid.UUID) (*ledgerTx, error) {
	a, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetForUpdate(ctx, a.ProcedureID)
	if err != nil {
		return nil, err
	}
	var current *odontology.Assignment
	for i := range p.Assignments {
		if p.Assignments[i].ID == assignmentID {
			cp := p.Assignments[i]
			current = &cp
			break
		}
	}
	if current == nil {
		return nil, odontology.NotFound("assignment", assignmentID)
	}
	sessions, err := s.repo.ListSessions(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return &ledgerTx{
		procedure:  p,
		assignment: current,
		ledger:     odontology.NewLedger(p, current, sessions),
	}, nil
}

func (s *Service) commitLedger(ctx context.Context, lt *ledgerTx, session *odontology.Session) (*SessionResult, error) {
	if err := s.repo.UpdateAssignment(ctx, lt.assignment); err != nil {
		return nil, err
	}
	lt.procedure.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, lt.procedure); err != nil {
		return nil, err
	}
	return &SessionResult{
		Session:           session,
		SessionsCompleted: lt.procedure.SessionsCompleted,
		SessionsTotal:     lt.procedure.SessionsTotal,
		ExceedsPlan:       lt.ledger.ExceedsPlan(),
	}, nil
}

func (s *Service) observeSession(action string, actor odontology.User, res *SessionResult, lt *ledgerTx, err error) {
	s.metrics.ObserveTransition(action, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("action", action).Str("kind", string(odontology.KindOf(err))).
			Str("actor", actor.ID.String()).Msg("session operation rejected")
		return
	}
	ev := s.logger.Info()
	if res.ExceedsPlan {
		ev = s.logger.Warn()
	}
	ev.Str("action", action).
		Str("procedure_id", lt.procedure.ID.String()).
		Str("assignment_id", lt.assignment.ID.String()).
		Int("sessions_completed", res.SessionsCompleted).
		Int("sessions_total", res.SessionsTotal).
		Bool("exceeds_plan", res.ExceedsPlan).
		Msg("session ledger changed")
}

// CreateSession appends a session to an active assignment.
func (s *Service) CreateSession(ctx context.Context, actor odontology.User, assignmentID uuid.UUID, in odontology.SessionInput) (*SessionResult, error) {
	var (
		lt  *ledgerTx
		res *SessionResult
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if lt, err = s.openLedger(ctx, assignmentID); err != nil {
			return err
		}
		session, err := lt.ledger.Create(actor, in, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.CreateSession(ctx, &session); err != nil {
			return err
		}
		res, err = s.commitLedger(ctx, lt, &session)
		return err
	})
	s.observeSession("session_create", actor, res, lt, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateSession edits a session of an active assignment.
func (s *Service) UpdateSession(ctx context.Context, actor odontology.User, sessionID uuid.UUID, u odontology.SessionUpdate) (*SessionResult, error) {
	var (
		lt  *ledgerTx
		res *SessionResult
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if lt, err = s.openLedger(ctx, existing.AssignmentID); err != nil {
			return err
		}
		session, err := lt.ledger.Update(actor, sessionID, u)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateSession(ctx, &session); err != nil {
			return err
		}
		res, err = s.commitLedger(ctx, lt, &session)
		return err
	})
	s.observeSession("session_update", actor, res, lt, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteSession removes a session. Numbers of the remaining sessions are kept.
func (s *Service) DeleteSession(ctx context.Context, actor odontology.User, sessionID uuid.UUID) (*SessionResult, error) {
	var (
		lt  *ledgerTx
		res *SessionResult
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if lt, err = s.openLedger(ctx, existing.AssignmentID); err != nil {
			return err
		}
		if err := lt.ledger.Delete(actor, sessionID); err != nil {
			return err
		}
		if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
			return err
		}
		res, err = s.commitLedger(ctx, lt, nil)
		return err
	})
	s.observeSession("session_delete", actor, res, lt, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListSessions returns an assignment's sessions ordered by number.
func (s *Service) ListSessions(ctx context.Context, assignmentID uuid.UUID) ([]odontology.Session, error) {
	if _, err := s.repo.GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListSessions(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []odontology.Session{}
	}
	return sessions, nil
}
