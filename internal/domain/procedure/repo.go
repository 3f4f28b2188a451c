package procedure

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

// Repository persists procedures, their assignments and sessions. Writes made
// with the context handed to WithinTx's fn commit or roll back together.
// Procedures are returned with their full assignment history, oldest first,
// and Assignment set to the most recent one.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	// LockPatient serialises writers on one patient's procedures until the
	// enclosing transaction ends.
	LockPatient(ctx context.Context, patientID uuid.UUID) error

	Create(ctx context.Context, p *odontology.Procedure) error
	Get(ctx context.Context, id uuid.UUID) (*odontology.Procedure, error)
	// GetForUpdate is Get plus a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*odontology.Procedure, error)
	Update(ctx context.Context, p *odontology.Procedure) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]odontology.Procedure, error)

	CreateAssignment(ctx context.Context, a *odontology.Assignment) error
	UpdateAssignment(ctx context.Context, a *odontology.Assignment) error
	GetAssignment(ctx context.Context, id uuid.UUID) (*odontology.Assignment, error)
	ListAssignments(ctx context.Context, f AssignmentFilter, limit, offset int) ([]AssignmentItem, int, error)

	CreateSession(ctx context.Context, s *odontology.Session) error
	UpdateSession(ctx context.Context, s *odontology.Session) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	GetSession(ctx context.Context, id uuid.UUID) (*odontology.Session, error)
	// ListSessions returns an assignment's sessions ordered by session number.
	ListSessions(ctx context.Context, assignmentID uuid.UUID) ([]odontology.Session, error)
}
