package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/catalog"
	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/domain/patient"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
)

var errUnreachable = errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")

// actorBackend serves the engine straight from the services, acting as a
// fixed user. Setting down makes every call fail like a dead network.
type actorBackend struct {
	actor      odontology.User
	procedures *procedure.Service
	patients   *patient.Service
	catalog    *catalog.Service

	mu    sync.Mutex
	down  bool
	calls map[string]int
}

func newActorBackend(actor odontology.User, procs *procedure.Service, patients *patient.Service, cat *catalog.Service) *actorBackend {
	return &actorBackend{actor: actor, procedures: procs, patients: patients, catalog: cat, calls: map[string]int{}}
}

func (b *actorBackend) call(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[name]++
	if b.down {
		return errUnreachable
	}
	return nil
}

func (b *actorBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *actorBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *actorBackend) FetchProcedures(ctx context.Context, patientID uuid.UUID) ([]odontology.Procedure, error) {
	if err := b.call("fetch_procedures"); err != nil {
		return nil, err
	}
	return b.procedures.ListByPatient(ctx, patientID)
}

func (b *actorBackend) FetchDentition(ctx context.Context, patientID uuid.UUID) (odontology.Dentition, error) {
	if err := b.call("fetch_dentition"); err != nil {
		return "", err
	}
	return b.patients.Dentition(ctx, patientID)
}

func (b *actorBackend) FetchChairs(ctx context.Context) ([]odontology.Chair, error) {
	if err := b.call("fetch_chairs"); err != nil {
		return nil, err
	}
	return b.catalog.ListChairs(ctx)
}

func (b *actorBackend) FetchTreatments(ctx context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error) {
	if err := b.call("fetch_treatments"); err != nil {
		return nil, err
	}
	return b.catalog.ListTreatments(ctx, chairID)
}

func (b *actorBackend) CreateProcedure(ctx context.Context, req odontology.CreateProcedureRequest) (*odontology.Procedure, error) {
	if err := b.call("create"); err != nil {
		return nil, err
	}
	return b.procedures.Create(ctx, b.actor, req)
}

func (b *actorBackend) AssignProcedure(ctx context.Context, procedureID uuid.UUID) (*odontology.Assignment, error) {
	if err := b.call("assign"); err != nil {
		return nil, err
	}
	return b.procedures.Assign(ctx, b.actor, procedureID)
}

func (b *actorBackend) CompleteAssignment(ctx context.Context, assignmentID uuid.UUID, finalNotes string) (*odontology.Assignment, error) {
	if err := b.call("complete"); err != nil {
		return nil, err
	}
	return b.procedures.Complete(ctx, b.actor, assignmentID, finalNotes)
}

func (b *actorBackend) AbandonAssignment(ctx context.Context, assignmentID uuid.UUID, reason string) (*odontology.Assignment, error) {
	if err := b.call("abandon"); err != nil {
		return nil, err
	}
	return b.procedures.Abandon(ctx, b.actor, assignmentID, reason)
}

func (b *actorBackend) CancelProcedure(ctx context.Context, procedureID uuid.UUID) (*odontology.Procedure, error) {
	if err := b.call("cancel"); err != nil {
		return nil, err
	}
	return b.procedures.Cancel(ctx, b.actor, procedureID)
}

func (b *actorBackend) UpdateProcedure(ctx context.Context, procedureID uuid.UUID, u odontology.ProcedureUpdate) (*odontology.Procedure, error) {
	if err := b.call("update"); err != nil {
		return nil, err
	}
	return b.procedures.Update(ctx, b.actor, procedureID, u)
}

func (b *actorBackend) ListSessions(ctx context.Context, assignmentID uuid.UUID) ([]odontology.Session, error) {
	if err := b.call("list_sessions"); err != nil {
		return nil, err
	}
	return b.procedures.ListSessions(ctx, assignmentID)
}

func (b *actorBackend) CreateSession(ctx context.Context, assignmentID uuid.UUID, in odontology.SessionInput) (*procedure.SessionResult, error) {
	if err := b.call("session_create"); err != nil {
		return nil, err
	}
	return b.procedures.CreateSession(ctx, b.actor, assignmentID, in)
}

func (b *actorBackend) UpdateSession(ctx context.Context, sessionID uuid.UUID, u odontology.SessionUpdate) (*procedure.SessionResult, error) {
	if err := b.call("session_update"); err != nil {
		return nil, err
	}
	return b.procedures.UpdateSession(ctx, b.actor, sessionID, u)
}

func (b *actorBackend) DeleteSession(ctx context.Context, sessionID uuid.UUID) (*procedure.SessionResult, error) {
	if err := b.call("session_delete"); err != nil {
		return nil, err
	}
	return b.procedures.DeleteSession(ctx, b.actor, sessionID)
}
