package procedure

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/platform/metrics"
)

// TreatmentLookup resolves catalog treatments.
type TreatmentLookup interface {
	GetTreatment(ctx context.Context, id uuid.UUID) (*odontology.Treatment, error)
}

// DentitionLookup resolves the numbering set a patient is charted with.
type DentitionLookup interface {
	Dentition(ctx context.Context, patientID uuid.UUID) (odontology.Dentition, error)
}

// Service is the authoritative procedure lifecycle. Every write runs in one
// repository transaction that re-reads and locks the rows it decides on, so
// of two concurrent transitions on the same procedure exactly one wins.
type Service struct {
	repo       Repository
	treatments TreatmentLookup
	patients   DentitionLookup
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, treatments TreatmentLookup, patients DentitionLookup, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:       repo,
		treatments: treatments,
		patients:   patients,
		metrics:    m,
		logger:     logger.With().Str("component", "procedure").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) observe(action string, actor odontology.User, from odontology.Status, p *odontology.Procedure, err error) {
	s.metrics.ObserveTransition(action, err)
	if err != nil {
		kind := odontology.KindOf(err)
		ev := s.logger.Warn()
		if kind == odontology.KindInternal {
			ev = s.logger.Error()
		}
		ev.Err(err).Str("action", action).Str("kind", string(kind)).Str("actor", actor.ID.String()).Msg("procedure operation rejected")
		return
	}
	if p == nil {
		return
	}
	s.logger.Info().
		Str("action", action).
		Str("procedure_id", p.ID.String()).
		Str("from", string(from)).
		Str("to", string(p.Status)).
		Str("actor", actor.ID.String()).
		Msg("procedure transition")
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*odontology.Procedure, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]odontology.Procedure, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// Create builds and stores a procedure. The request is validated before any
// lookup. For prosthesis treatments the patient is locked and the exclusivity
// rule re-checked inside the transaction that inserts the new row.
func (s *Service) Create(ctx context.Context, actor odontology.User, req odontology.CreateProcedureRequest) (*odontology.Procedure, error) {
	var p *odontology.Procedure
	err := s.create(ctx, actor, req, &p)
	s.observe("create", actor, "", p, err)
	return p, err
}

func (s *Service) create(ctx context.Context, actor odontology.User, req odontology.CreateProcedureRequest, out **odontology.Procedure) error {
	if err := req.Validate(); err != nil {
		return err
	}
	treatment, err := s.treatments.GetTreatment(ctx, req.TreatmentID)
	if err != nil {
		return err
	}
	dentition, err := s.patients.Dentition(ctx, req.PatientID)
	if err != nil {
		return err
	}

	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockPatient(ctx, req.PatientID); err != nil {
			return err
		}
		existing, err := s.repo.ListByPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		p, err := odontology.NewProcedure(req, *treatment, dentition, existing, actor, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		if p.Assignment != nil {
			if err := s.repo.CreateAssignment(ctx, p.Assignment); err != nil {
				return err
			}
		}
		*out = p
		return nil
	})
}

// Assign claims a disponible procedure for actor.
func (s *Service) Assign(ctx context.Context, actor odontology.User, procedureID uuid.UUID) (*odontology.Assignment, error) {
	var (
		p    *odontology.Procedure
		a    *odontology.Assignment
		from odontology.Status
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.GetForUpdate(ctx, procedureID); err != nil {
			return err
		}
		from = p.Status
		if p.ActiveAssignment() != nil {
			return odontology.Conflict("procedure was already assigned")
		}
		if a, err = odontology.Assign(p, actor, s.now()); err != nil {
			return err
		}
		if err := s.repo.CreateAssignment(ctx, a); err != nil {
			return err
		}
		return s.repo.Update(ctx, p)
	})
	s.observe("assign", actor, from, p, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// lockByAssignment loads and locks the procedure owning assignmentID. The
// assignment must be the procedure's active one.
func (s *Service) lockByAssignment(ctx context.Context, assignmentID uuid.UUID) (*odontology.Procedure, error) {
	a, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetForUpdate(ctx, a.ProcedureID)
	if err != nil {
		return nil, err
	}
	active := p.ActiveAssignment()
	if active == nil || active.ID != assignmentID {
		for _, h := range p.Assignments {
			if h.ID == assignmentID {
				return nil, odontology.InvalidTransition("assignment is %s", h.Status)
			}
		}
		return nil, odontology.InvalidTransition("assignment is no longer active")
	}
	return p, nil
}

func (s *Service) closeAssignment(ctx context.Context, action string, actor odontology.User, assignmentID uuid.UUID,
	fn func(p *odontology.Procedure, now time.Time) (*odontology.Assignment, error)) (*odontology.Assignment, error) {
	var (
		p    *odontology.Procedure
		a    *odontology.Assignment
		from odontology.Status
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.lockByAssignment(ctx, assignmentID); err != nil {
			return err
		}
		from = p.Status
		if a, err = fn(p, s.now()); err != nil {
			return err
		}
		if err := s.repo.UpdateAssignment(ctx, a); err != nil {
			return err
		}
		return s.repo.Update(ctx, p)
	})
	s.observe(action, actor, from, p, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Complete finishes the procedure held by assignmentID.
func (s *Service) Complete(ctx context.Context, actor odontology.User, assignmentID uuid.UUID, finalNotes string) (*odontology.Assignment, error) {
	return s.closeAssignment(ctx, "complete", actor, assignmentID, func(p *odontology.Procedure, now time.Time) (*odontology.Assignment, error) {
		return odontology.Complete(p, actor, finalNotes, now)
	})
}

// Abandon releases the procedure held by assignmentID back to disponible.
func (s *Service) Abandon(ctx context.Context, actor odontology.User, assignmentID uuid.UUID, reason string) (*odontology.Assignment, error) {
	if err := requireReason(reason); err != nil {
		s.observe("abandon", actor, "", nil, err)
		return nil, err
	}
	return s.closeAssignment(ctx, "abandon", actor, assignmentID, func(p *odontology.Procedure, now time.Time) (*odontology.Assignment, error) {
		return odontology.Abandon(p, actor, reason, now)
	})
}

// Cancel moves a procedure to cancelado. Only its creator may do so.
func (s *Service) Cancel(ctx context.Context, actor odontology.User, procedureID uuid.UUID) (*odontology.Procedure, error) {
	var (
		p    *odontology.Procedure
		from odontology.Status
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.GetForUpdate(ctx, procedureID); err != nil {
			return err
		}
		from = p.Status
		if err := odontology.Cancel(p, actor, s.now()); err != nil {
			return err
		}
		return s.repo.Update(ctx, p)
	})
	s.observe("cancel", actor, from, p, err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update edits a disponible or contraindicado procedure.
func (s *Service) Update(ctx context.Context, actor odontology.User, procedureID uuid.UUID, u odontology.ProcedureUpdate) (*odontology.Procedure, error) {
	var (
		p    *odontology.Procedure
		from odontology.Status
	)
	err := func() error {
		if err := u.Validate(); err != nil {
			return err
		}
		if u.TreatmentID != nil {
			t, err := s.treatments.GetTreatment(ctx, *u.TreatmentID)
			if err != nil {
				return err
			}
			u.Treatment = t
		}
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			if p, err = s.repo.GetForUpdate(ctx, procedureID); err != nil {
				return err
			}
			from = p.Status
			if err := odontology.ApplyUpdate(p, actor, u, s.now()); err != nil {
				return err
			}
			return s.repo.Update(ctx, p)
		})
	}()
	s.observe("update", actor, from, p, err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*odontology.Assignment, error) {
	return s.repo.GetAssignment(ctx, id)
}

func (s *Service) ListAssignments(ctx context.Context, f AssignmentFilter, limit, offset int) ([]AssignmentItem, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, odontology.Validation("unknown assignment status %q", f.Status)
	}
	return s.repo.ListAssignments(ctx, f, limit, offset)
}

// Odontogram aggregates a patient's procedures into the per-tooth chart.
func (s *Service) Odontogram(ctx context.Context, patientID uuid.UUID, f odontology.Filter) (*Odontogram, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, odontology.Validation("unknown status %q", f.Status)
	}
	dentition, err := s.patients.Dentition(ctx, patientID)
	if err != nil {
		return nil, err
	}
	procs, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &Odontogram{
		PatientID: patientID,
		Dentition: dentition,
		Filter:    f,
		Teeth:     odontology.BuildOdontogram(procs, dentition, f),
		Summary:   odontology.Summarize(procs),
	}, nil
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return odontology.Validation("an abandon reason is required")
	}
	return nil
}
