package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/domain/procedure"
)

// Backend is the clinic API the engine delegates to. Calls are not assumed
// idempotent; the engine never retries them. Implementations report
// rejections as *odontology.Error so remote and local failures look alike.
type Backend interface {
	FetchProcedures(ctx context.Context, patientID uuid.UUID) ([]odontology.Procedure, error)
	FetchDentition(ctx context.Context, patientID uuid.UUID) (odontology.Dentition, error)
	FetchChairs(ctx context.Context) ([]odontology.Chair, error)
	FetchTreatments(ctx context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error)

	CreateProcedure(ctx context.Context, req odontology.CreateProcedureRequest) (*odontology.Procedure, error)
	AssignProcedure(ctx context.Context, procedureID uuid.UUID) (*odontology.Assignment, error)
	CompleteAssignment(ctx context.Context, assignmentID uuid.UUID, finalNotes string) (*odontology.Assignment, error)
	AbandonAssignment(ctx context.Context, assignmentID uuid.UUID, reason string) (*odontology.Assignment, error)
	CancelProcedure(ctx context.Context, procedureID uuid.UUID) (*odontology.Procedure, error)
	UpdateProcedure(ctx context.Context, procedureID uuid.UUID, u odontology.ProcedureUpdate) (*odontology.Procedure, error)

	ListSessions(ctx context.Context, assignmentID uuid.UUID) ([]odontology.Session, error)
	CreateSession(ctx context.Context, assignmentID uuid.UUID, in odontology.SessionInput) (*procedure.SessionResult, error)
	UpdateSession(ctx context.Context, sessionID uuid.UUID, u odontology.SessionUpdate) (*procedure.SessionResult, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) (*procedure.SessionResult, error)
}
