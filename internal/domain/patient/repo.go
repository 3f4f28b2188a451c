package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

type Repository interface {
	Create(ctx context.Context, p *odontology.Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*odontology.Patient, error)
	// List returns a page of patients whose name contains query (case-insensitive)
	// and the total number of matches.
	List(ctx context.Context, query string, limit, offset int) ([]odontology.Patient, int, error)
}
