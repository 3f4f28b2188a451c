package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

type Repository interface {
	CreateChair(ctx context.Context, ch *odontology.Chair) error
	ListChairs(ctx context.Context) ([]odontology.Chair, error)
	GetChair(ctx context.Context, id uuid.UUID) (*odontology.Chair, error)
	CreateTreatment(ctx context.Context, t *odontology.Treatment) error
	// ListTreatments returns every treatment, or only the chair's when chairID is non-nil.
	ListTreatments(ctx context.Context, chairID *uuid.UUID) ([]odontology.Treatment, error)
	GetTreatment(ctx context.Context, id uuid.UUID) (*odontology.Treatment, error)
}
